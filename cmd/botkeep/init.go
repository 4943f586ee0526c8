// ABOUTME: Interactive config file generator for the botkeep binary
// ABOUTME: Prompts for listeners, database, keys and logging, then writes YAML

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/botkeep/internal/config"
)

// getDataPath returns the path to the botkeep data directory.
// Priority: XDG_DATA_HOME/botkeep > ~/.local/share/botkeep
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "botkeep")
}

// randomKey returns n random bytes encoded as URL-safe base64.
func randomKey(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

// initAnswers holds what runInit collected.
type initAnswers struct {
	httpAddr    string
	tlsAddr     string
	tlsCert     string
	tlsKey      string
	dbPath      string
	adminKey    string
	botKey      string
	tokenSecret string
	tailscale   bool
	tsHostname  string
	tsAuthKey   string
	tsEphemeral bool
	tsFunnel    bool
	logLevel    string
	logFormat   string
}

// renderConfig writes the YAML config for the collected answers.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# botkeep configuration\n")
	cfg.WriteString("# Generated by botkeep init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.httpAddr))
	if a.tlsAddr != "" {
		cfg.WriteString(fmt.Sprintf("  tls_addr: %q\n", a.tlsAddr))
		cfg.WriteString(fmt.Sprintf("  tls_cert_file: %q\n", a.tlsCert))
		cfg.WriteString(fmt.Sprintf("  tls_key_file: %q\n", a.tlsKey))
	}
	cfg.WriteString("  shutdown_timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.dbPath))
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", config.DefaultDriver))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  admin_key: %q\n", a.adminKey))
	cfg.WriteString(fmt.Sprintf("  bot_key: %q\n", a.botKey))
	if a.tokenSecret != "" {
		cfg.WriteString(fmt.Sprintf("  token_secret: %q\n", a.tokenSecret))
		cfg.WriteString(fmt.Sprintf("  token_ttl: %q\n", config.DefaultTokenTTL.String()))
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.tailscale))
	if a.tailscale {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", a.tsHostname))
		if a.tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", a.tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", a.tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", a.tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.logFormat))

	return cfg.String()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("botkeep configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	adminKey, err := randomKey(24)
	if err != nil {
		return err
	}
	botKey, err := randomKey(24)
	if err != nil {
		return err
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.httpAddr = prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	a.tlsAddr = prompt(reader, "HTTPS address (leave empty to disable)", "")
	if a.tlsAddr != "" {
		a.tlsCert = prompt(reader, "TLS certificate file", "")
		a.tlsKey = prompt(reader, "TLS key file", "")
	}

	fmt.Println("\n--- Database Configuration ---")
	a.dbPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "bot.db"))

	fmt.Println("\n--- Auth Configuration ---")
	a.adminKey = prompt(reader, "Admin key", adminKey)
	a.botKey = prompt(reader, "Bot key", botKey)
	if yes(prompt(reader, "Enable admin bearer tokens?", "no")) {
		a.tokenSecret, err = randomKey(config.MinTokenSecretLength)
		if err != nil {
			return err
		}
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	a.tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.tailscale {
		a.tsHostname = prompt(reader, "Tailscale hostname", "botkeep")
		a.tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		a.tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.logLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.logFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds secrets.
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  botkeep serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	return promptTo(os.Stdout, reader, question, defaultVal)
}

func promptTo(w io.Writer, reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(w, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(w)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
