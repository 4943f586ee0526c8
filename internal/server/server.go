// ABOUTME: Server orchestrator that owns the store and runs the HTTP listeners
// ABOUTME: Manages plain HTTP, optional TLS, optional tailnet listeners and graceful shutdown

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/botkeep/internal/api"
	"github.com/2389/botkeep/internal/auth"
	"github.com/2389/botkeep/internal/config"
	"github.com/2389/botkeep/internal/records"
	"github.com/2389/botkeep/internal/store"
)

// Server orchestrates the botkeep components: one store handle, the record
// service over it, and the HTTP server exposing the API.
type Server struct {
	config      *config.Config
	store       store.Store
	service     *records.Service
	gate        *auth.Gate
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// listener is a bound socket and how to serve it.
type listener struct {
	name string
	ln   net.Listener
	tls  bool // serve with the configured certificate files
}

// OpenStore opens the configured SQLite database.
func OpenStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path,
		store.WithDriver(cfg.Database.Driver),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// NewGate builds the access gate from the auth config.
func NewGate(cfg *config.Config, logger *slog.Logger) (*auth.Gate, error) {
	var issuer *auth.TokenIssuer
	if cfg.Auth.TokenSecret != "" {
		var err error
		issuer, err = auth.NewTokenIssuer([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("creating token issuer: %w", err)
		}
	}

	keys := auth.Keys{
		Admin:     cfg.Auth.AdminKey,
		Bot:       cfg.Auth.BotKey,
		AdminHash: cfg.Auth.AdminKeyHash,
		BotHash:   cfg.Auth.BotKeyHash,
	}
	return auth.NewGate(keys, issuer, logger), nil
}

// New opens the configured store and builds a Server around it.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return srv, nil
}

// NewWithStore builds a Server around an already opened store. The server
// takes ownership of st and closes it on Shutdown.
func NewWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) (*Server, error) {
	gate, err := NewGate(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.SharedKeys() {
		logger.Warn("admin and bot keys are identical; the bot can act as admin")
	}
	if !gate.Enabled(auth.ClassBot) {
		logger.Warn("no bot key configured; bot endpoints will reject every request")
	}

	svc := records.NewService(st,
		records.WithLogger(logger),
		records.WithListLimits(cfg.Listing.DefaultLimit, cfg.Listing.MaxLimit),
	)

	handler := api.NewHandler(api.Options{
		Service:        svc,
		Gate:           gate,
		Logger:         logger,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	readHeaderTimeout := cfg.Server.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = config.DefaultReadHeaderTimeout
	}

	return &Server{
		config:  cfg,
		store:   st,
		service: svc,
		gate:    gate,
		httpServer: &http.Server{
			Handler:           handler.Routes(),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger.With("component", "server"),
	}, nil
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Service returns the record service.
func (s *Server) Service() *records.Service {
	return s.service
}

// setupTCPListeners binds the plain HTTP address and, if configured, the TLS address.
func (s *Server) setupTCPListeners() ([]listener, error) {
	cfg := s.config.Server
	s.logger.Info("starting server", "http_addr", cfg.HTTPAddr, "tls_addr", cfg.TLSAddr)

	var lns []listener
	if cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return nil, fmt.Errorf("listening on HTTP address: %w", err)
		}
		lns = append(lns, listener{name: "HTTP", ln: ln})
	}

	if cfg.TLSAddr != "" {
		ln, err := net.Listen("tcp", cfg.TLSAddr)
		if err != nil {
			closeListeners(lns)
			return nil, fmt.Errorf("listening on TLS address: %w", err)
		}
		lns = append(lns, listener{name: "HTTPS", ln: ln, tls: true})
	}

	if len(lns) == 0 {
		return nil, errors.New("no listen address configured")
	}
	return lns, nil
}

func closeListeners(lns []listener) {
	for _, l := range lns {
		_ = l.ln.Close()
	}
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (s *Server) warnIgnoredAddresses() {
	if s.config.Server.HTTPAddr != "" || s.config.Server.TLSAddr != "" {
		s.logger.Warn("server.http_addr and server.tls_addr are ignored when tailscale is enabled",
			"http_addr", s.config.Server.HTTPAddr,
			"tls_addr", s.config.Server.TLSAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (s *Server) setupListeners(ctx context.Context) ([]listener, error) {
	if s.config.Tailscale.Enabled {
		s.warnIgnoredAddresses()
		ln, err := s.setupTailscaleListener(ctx)
		if err != nil {
			return nil, err
		}
		return []listener{{name: "tailnet", ln: ln}}, nil
	}
	return s.setupTCPListeners()
}

// startServers serves every listener in its own goroutine, returning the error channel.
func (s *Server) startServers(lns []listener) chan error {
	errCh := make(chan error, len(lns))

	for _, l := range lns {
		go func(l listener) {
			s.logger.Info(l.name+" server listening", "addr", l.ln.Addr().String())
			var err error
			if l.tls {
				err = s.httpServer.ServeTLS(l.ln, s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
			} else {
				err = s.httpServer.Serve(l.ln)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server: %w", l.name, err)
			}
		}(l)
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	for {
		select {
		case additionalErr := <-errCh:
			s.logger.Error("additional server error", "error", additionalErr)
		default:
			return
		}
	}
}

// Run starts the listeners and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (s *Server) Run(ctx context.Context) error {
	lns, err := s.setupListeners(ctx)
	if err != nil {
		if shutdownErr := s.gracefulShutdown(); shutdownErr != nil {
			s.logger.Error("cleanup after listener failure", "error", shutdownErr)
		}
		return err
	}

	errCh := s.startServers(lns)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "botkeep", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	return s.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (s *Server) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.createTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (s *Server) createTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// readinessTimeout bounds how long WaitReady polls.
const readinessTimeout = 5 * time.Second

// WaitReady polls url until it answers 200 or the timeout passes.
func WaitReady(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	client := &http.Client{Timeout: time.Second}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", url, ctx.Err())
		case <-time.After(25 * time.Millisecond):
		}
	}
}
