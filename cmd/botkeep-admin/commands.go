// ABOUTME: botkeep-admin subcommands
// ABOUTME: users, user, session, completion, cleanup, purge, token and health

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/botkeep/internal/api"
	"github.com/2389/botkeep/internal/auth"
	"github.com/2389/botkeep/internal/records"
)

// formatMillis renders an epoch-millisecond timestamp for tables.
func formatMillis(ms int64) string {
	if ms == 0 {
		return records.Placeholder
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

// formatMillisPtr renders an optional deadline; nil means it never expires.
func formatMillisPtr(ms *int64) string {
	if ms == nil {
		return "never"
	}
	return formatMillis(*ms)
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

func orPlaceholder(s string) string {
	if s == "" {
		return records.Placeholder
	}
	return s
}

// fetch runs one API call, printing raw JSON in json mode or decoding into out otherwise.
// It reports whether the caller should render text.
func fetch(ctx context.Context, opts *RootOptions, w io.Writer, method, path string, class auth.Class, in, out any) (bool, error) {
	c := opts.Client()
	if opts.Format == "json" {
		var raw json.RawMessage
		if err := c.Do(ctx, method, path, class, in, &raw); err != nil {
			return false, err
		}
		return false, printJSON(w, raw)
	}
	if err := c.Do(ctx, method, path, class, in, out); err != nil {
		return false, err
	}
	return true, nil
}

// UsersOptions holds flags for the users command.
type UsersOptions struct {
	*RootOptions
	Limit  int
	Offset int
}

// NewUsersCommand creates the users command.
func NewUsersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UsersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users with their progress",
		Long: `List users, most recently updated first, with the step and mode
from their session and whether they hold an active completion.

Examples:
  botkeep-admin users
  botkeep-admin users --limit 50 --offset 100
  botkeep-admin users --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsers(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size (server default when 0)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of users to skip")

	return cmd
}

func runUsers(cmd *cobra.Command, opts *UsersOptions) error {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	w := cmd.OutOrStdout()
	var result records.ListResult
	text, err := fetch(cmd.Context(), opts.RootOptions, w, http.MethodGet, path, auth.ClassAdmin, nil, &result)
	if err != nil || !text {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(w)
	cyan.Fprintln(w, "  Users")
	cyan.Fprintln(w, "  -----")

	if len(result.Users) == 0 {
		fmt.Fprintln(w, "  (no users)")
		fmt.Fprintln(w)
		return nil
	}

	green := color.New(color.FgGreen)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tUSERNAME\tNAME\tLANG\tSTEP\tMODE\tDONE\tUPDATED")
	fmt.Fprintln(tw, "  --\t--------\t----\t----\t----\t----\t----\t-------")
	for _, u := range result.Users {
		updated := records.Placeholder
		if ms, err := strconv.ParseInt(u.UpdatedAt, 10, 64); err == nil {
			updated = formatMillis(ms)
		}
		done := "no"
		if u.Completed {
			done = green.Sprint("yes")
		}
		name := truncate(fmt.Sprintf("%s %s", u.FirstName, u.LastName), 24)
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(u.ID, 20), orPlaceholder(truncate(u.Username, 20)), orPlaceholder(strings.TrimSpace(name)),
			orPlaceholder(u.Lang), u.Step, u.Mode, done, updated)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n  %d shown, total %d\n\n", len(result.Users), result.Total)
	return nil
}

// NewUserCommand creates the user command.
func NewUserCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "user <id>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			var u api.UserResponse
			text, err := fetch(cmd.Context(), opts, w, http.MethodGet, "/api/users/"+url.PathEscape(args[0]), auth.ClassAdmin, nil, &u)
			if err != nil || !text {
				return err
			}

			cyan := color.New(color.FgCyan)
			fmt.Fprintln(w)
			cyan.Fprintf(w, "  User %s\n", u.ID)
			fmt.Fprintf(w, "  Username:   %s\n", orPlaceholder(u.Username))
			fmt.Fprintf(w, "  First name: %s\n", orPlaceholder(u.FirstName))
			fmt.Fprintf(w, "  Last name:  %s\n", orPlaceholder(u.LastName))
			fmt.Fprintf(w, "  Language:   %s\n", orPlaceholder(u.Lang))
			updated := records.Placeholder
			if u.UpdatedAt != nil {
				updated = formatMillis(*u.UpdatedAt)
			}
			fmt.Fprintf(w, "  Updated:    %s\n\n", updated)
			return nil
		},
	}
}

// RecordOptions holds flags for the session and completion commands.
type RecordOptions struct {
	*RootOptions
	Delete bool
}

// deleteRecord removes a session or completion and prints the outcome.
func deleteRecord(cmd *cobra.Command, opts *RootOptions, kind, id string) error {
	w := cmd.OutOrStdout()
	var ok api.OKResponse
	text, err := fetch(cmd.Context(), opts, w, http.MethodDelete, "/api/"+kind+"/"+url.PathEscape(id), auth.ClassBot, nil, &ok)
	if err != nil || !text {
		return err
	}
	color.New(color.FgGreen).Fprint(w, "  ✓ ")
	fmt.Fprintf(w, "Deleted %s for %s\n", kind, id)
	return nil
}

// NewSessionCommand creates the session command.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "session <id>",
		Short: "Show or delete a user's session",
		Long: `Show a user's stored session data and deadline. Uses the bot key.

Examples:
  botkeep-admin session 12345
  botkeep-admin session 12345 --delete`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Delete {
				return deleteRecord(cmd, opts.RootOptions, "session", args[0])
			}

			w := cmd.OutOrStdout()
			var s api.SessionResponse
			text, err := fetch(cmd.Context(), opts.RootOptions, w, http.MethodGet, "/api/session/"+url.PathEscape(args[0]), auth.ClassBot, nil, &s)
			if err != nil || !text {
				return err
			}

			cyan := color.New(color.FgCyan)
			fmt.Fprintln(w)
			cyan.Fprintf(w, "  Session %s\n", args[0])
			fmt.Fprintf(w, "  Expires: %s\n", formatMillisPtr(s.ExpiresAt))
			fmt.Fprintf(w, "  Data:    %s\n\n", s.Data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the session instead of showing it")
	return cmd
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "completion <id>",
		Short: "Show or delete a user's completion marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Delete {
				return deleteRecord(cmd, opts.RootOptions, "completion", args[0])
			}

			w := cmd.OutOrStdout()
			var c api.CompletionResponse
			text, err := fetch(cmd.Context(), opts.RootOptions, w, http.MethodGet, "/api/completion/"+url.PathEscape(args[0]), auth.ClassBot, nil, &c)
			if err != nil || !text {
				return err
			}

			cyan := color.New(color.FgCyan)
			fmt.Fprintln(w)
			cyan.Fprintf(w, "  Completion %s\n", args[0])
			fmt.Fprintf(w, "  Expires: %s\n\n", formatMillisPtr(c.ExpiresAt))
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the completion instead of showing it")
	return cmd
}

// CleanupOptions holds flags for the cleanup command.
type CleanupOptions struct {
	*RootOptions
	Now int64
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions and completions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if cmd.Flags().Changed("now") {
				body = api.CleanupRequest{Now: &opts.Now}
			}

			w := cmd.OutOrStdout()
			var res api.CleanupResponse
			text, err := fetch(cmd.Context(), opts.RootOptions, w, http.MethodPost, "/api/admin/cleanup", auth.ClassAdmin, body, &res)
			if err != nil || !text {
				return err
			}

			color.New(color.FgGreen).Fprint(w, "  ✓ ")
			fmt.Fprintf(w, "Removed %d expired session(s) and %d expired completion(s)\n",
				res.Deleted.Sessions, res.Deleted.Completions)
			return nil
		},
	}

	cmd.Flags().Int64Var(&opts.Now, "now", 0, "cutoff in epoch milliseconds (server clock when unset)")
	return cmd
}

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Confirm string
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every user, session and completion",
		Long: `Delete every stored record. The server refuses unless the
confirmation phrase is exactly ` + records.ConfirmPhrase + `.

Example:
  botkeep-admin purge --confirm ` + records.ConfirmPhrase,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			var res api.PurgeResponse
			body := api.ConfirmRequest{Confirm: opts.Confirm}
			text, err := fetch(cmd.Context(), opts.RootOptions, w, http.MethodDelete, "/api/admin/purge", auth.ClassAdmin, body, &res)
			if err != nil || !text {
				return err
			}

			color.New(color.FgYellow).Fprint(w, "  ✓ ")
			fmt.Fprintf(w, "Deleted %d user(s), %d session(s), %d completion(s)\n",
				res.Deleted.Users, res.Deleted.Sessions, res.Deleted.Completions)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Confirm, "confirm", "", "confirmation phrase ("+records.ConfirmPhrase+")")
	return cmd
}

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Issue a short-lived admin bearer token",
		Long: `Exchange the admin key for a bearer token. Export it as BOTKEEP_TOKEN
to run further commands without the admin key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			// Only the admin key can issue tokens.
			keyOnly := *opts
			keyOnly.Token = ""
			var tok api.TokenResponse
			text, err := fetch(cmd.Context(), &keyOnly, w, http.MethodPost, "/api/admin/token", auth.ClassAdmin, nil, &tok)
			if err != nil || !text {
				return err
			}

			fmt.Fprintln(w, tok.Token)
			color.New(color.FgHiBlack).Fprintf(w, "expires %s\n", formatMillis(tok.ExpiresAt))
			return nil
		},
	}
}

// NewHealthCommand creates the health command.
func NewHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server and its database answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := opts.Client().Text(cmd.Context(), "/health")
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return &APIError{Status: status, Message: body}
			}

			w := cmd.OutOrStdout()
			if opts.Format == "json" {
				return printJSON(w, map[string]any{"status": status, "body": body})
			}
			color.New(color.FgGreen).Fprint(w, "  ✓ ")
			fmt.Fprintf(w, "healthy (%s)\n", body)
			return nil
		},
	}
}
