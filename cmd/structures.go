package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Danamir/imap-attachment-extractor/structure"
)

func newStructuresCommand(fsys afero.Fs) *cobra.Command {
	var inlineImages bool

	structuresCmd := &cobra.Command{
		Use:   "structures [fetch transcript]",
		Short: "Show which messages of a captured BODYSTRUCTURE transcript carry attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := fsys.Open(args[0])
			if err != nil {
				return fmt.Errorf("open transcript: %w", err)
			}
			defer file.Close()

			s, err := structure.Scan(file, structure.NewDetector(inlineImages), nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, diag := range s.Diagnostics() {
				fmt.Fprintln(out, pterm.Warning.Sprint(diag))
			}
			fmt.Fprintf(out, "%d records, %d with attachments\n", len(s.Records()), len(s.Candidates()))
			for _, id := range s.Candidates() {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	structuresCmd.Flags().BoolVar(&inlineImages, "inline-images", false, "Treat inline images as attachments")
	return structuresCmd
}
