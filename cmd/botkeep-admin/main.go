// ABOUTME: Operator CLI for a running botkeep server
// ABOUTME: Lists users, inspects records and triggers cleanup or purge over HTTP

package main

import (
	"errors"
	"os"

	"github.com/fatih/color"
)

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		color.Red("Error: %v\n", err)

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == 401 {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
