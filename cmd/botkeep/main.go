// ABOUTME: Entry point for the botkeep state server
// ABOUTME: Serves the HTTP API and runs local maintenance against the database file

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/botkeep/internal/config"
	"github.com/2389/botkeep/internal/records"
	"github.com/2389/botkeep/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _           _   _
| |__   ___ | |_| | _____  ___ _ __
| '_ \ / _ \| __| |/ / _ \/ _ \ '_ \
| |_) | (_) | |_|   <  __/  __/ |_) |
|_.__/ \___/ \__|_|\_\___|\___| .__/
                              |_|
`

// getConfigPath returns the path to the config file.
// Priority: BOTKEEP_CONFIG env var > XDG_CONFIG_HOME/botkeep/config.yaml > ~/.config/botkeep/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BOTKEEP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "botkeep.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "botkeep", "config.yaml")
}

// loadConfig reads .env, then the config file if one exists, otherwise the
// plain environment variables.
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}

	if _, err := os.Stat(path); err == nil {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("checking config file: %w", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, "", fmt.Errorf("no config file at %s and %w", path, err)
	}
	return cfg, "environment", nil
}

func usage() {
	fmt.Println("Usage: botkeep <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the HTTP server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  health                 Check server health")
	fmt.Println("  cleanup                Delete expired sessions and completions")
	fmt.Println("  purge --confirm ERASE  Delete every user, session and completion")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "cleanup":
		err = runCleanup(ctx)
	case "purge":
		err = runPurge(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		} else if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
		if cfg.Server.TLSAddr != "" {
			green.Print("    ▶ ")
			fmt.Printf("HTTPS:     %s\n", cfg.Server.TLSAddr)
		}
	}
	if cfg.Auth.TokenSecret != "" {
		green.Print("    ▶ ")
		fmt.Printf("Tokens:    enabled (ttl %s)\n", cfg.Auth.TokenTTL)
	}

	fmt.Println()

	logger.Info("starting botkeep",
		"version", version,
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"tls_addr", cfg.Server.TLSAddr,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(addr, path string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + path
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := localURL(cfg.Server.HTTPAddr, "/health")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// openService opens the configured database for a one-shot maintenance command.
func openService() (*records.Service, func(), error) {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(cfg.Logging)

	st, err := server.OpenStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	svc := records.NewService(st, records.WithLogger(logger))
	return svc, func() { _ = st.Close() }, nil
}

// runCleanup deletes expired rows directly in the database file. It is the
// hook an external scheduler calls; the server never sweeps on its own.
func runCleanup(ctx context.Context) error {
	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.CleanupExpired(ctx, time.Time{})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("  ✓ ")
	fmt.Printf("Removed %d expired session(s) and %d expired completion(s)\n", res.Sessions, res.Completions)
	return nil
}

// parseConfirm extracts the value of --confirm from args.
// Supports both "--confirm value" and "--confirm=value" formats.
func parseConfirm(args []string) (string, error) {
	var confirm string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--confirm":
			if i+1 >= len(args) {
				return "", fmt.Errorf("--confirm requires a value")
			}
			confirm = args[i+1]
			i++
		case strings.HasPrefix(arg, "--confirm="):
			confirm = strings.TrimPrefix(arg, "--confirm=")
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return confirm, nil
}

func runPurge(ctx context.Context, args []string) error {
	confirm, err := parseConfirm(args)
	if err != nil {
		return err
	}
	if confirm != records.ConfirmPhrase {
		return fmt.Errorf("refusing to purge: pass --confirm %s", records.ConfirmPhrase)
	}

	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.PurgeAll(ctx, confirm)
	if err != nil {
		return err
	}

	yellow := color.New(color.FgYellow)
	yellow.Print("  ✓ ")
	fmt.Printf("Deleted %d user(s), %d session(s), %d completion(s)\n", res.Users, res.Sessions, res.Completions)
	return nil
}
