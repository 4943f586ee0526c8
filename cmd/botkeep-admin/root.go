// ABOUTME: Root cobra command and global flags for botkeep-admin
// ABOUTME: Flags default from BOTKEEP_* environment variables

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	URL      string
	AdminKey string
	BotKey   string
	Token    string
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

const defaultURL = "http://localhost:3000"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Client returns an API client for the configured server.
func (o *RootOptions) Client() *Client {
	return NewClient(o.URL, o.AdminKey, o.BotKey, o.Token)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		v = decoded
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCommand creates the root command for the botkeep-admin CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "botkeep-admin",
		Short: "Operate a botkeep server",
		Long:  "Inspect users, sessions and completions stored by a botkeep server, and run maintenance over its HTTP API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// "completion" is the record command below, not shell completion.
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVar(&opts.URL, "url", envOr("BOTKEEP_URL", defaultURL), "server base URL (BOTKEEP_URL)")
	cmd.PersistentFlags().StringVar(&opts.AdminKey, "admin-key", os.Getenv("BOTKEEP_ADMIN_KEY"), "admin key (BOTKEEP_ADMIN_KEY)")
	cmd.PersistentFlags().StringVar(&opts.BotKey, "bot-key", os.Getenv("BOTKEEP_BOT_KEY"), "bot key (BOTKEEP_BOT_KEY)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("BOTKEEP_TOKEN"), "admin bearer token, used instead of the admin key (BOTKEEP_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewUsersCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewCompletionCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))

	return cmd
}
