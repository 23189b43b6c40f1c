// Package cmd holds the auxiliary subcommands of the extractor.
package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// AddCommands attaches the subcommands to root.
func AddCommands(root *cobra.Command, fsys afero.Fs) {
	root.AddCommand(newListCommand())
	root.AddCommand(newCredentialCommand())
	root.AddCommand(newStructuresCommand(fsys))
}

// quietLogger logs to stderr only at debug level so command output stays clean.
func quietLogger(level string) *slog.Logger {
	if level != "debug" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
