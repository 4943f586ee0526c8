// Package server runs botkeep: it owns the store handle and serves the API.
//
// # Listeners
//
// Without Tailscale the server binds server.http_addr and, when configured,
// server.tls_addr with the certificate files from the config. With
// tailscale.enabled it joins the tailnet through tsnet instead and listens on
// :80, on :443 with tailnet certificates (tailscale.https), or publicly
// through Funnel (tailscale.funnel). TCP addresses are ignored in that mode.
//
// # Lifecycle
//
//	srv, err := server.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	err = srv.Run(ctx) // blocks until ctx is canceled or a listener fails
//
// Run shuts down gracefully within server.shutdown_timeout and closes the
// store. Shutdown may also be called directly for a server that never ran.
package server
