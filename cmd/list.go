package cmd

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Danamir/imap-attachment-extractor/config"
	"github.com/Danamir/imap-attachment-extractor/credential"
	"github.com/Danamir/imap-attachment-extractor/imap"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [HOST] [USER]",
		Short: "List the folders of the server",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, level, err := config.LoadConnection(cmd, args)
			if err != nil {
				return err
			}
			logger := quietLogger(level)

			password, err := credential.SystemResolver(os.Stderr, logger).Password(conn.Password, conn.Host, conn.Login)
			if err != nil {
				return err
			}

			session, err := imap.Dial(cmd.Context(), imap.Options{
				Host:               conn.Host,
				Port:               conn.Port,
				Username:           conn.Login,
				Password:           password,
				InsecureSkipVerify: conn.InsecureSkipVerify,
			}, logger)
			if err != nil {
				return err
			}
			defer session.Release()

			folders, err := session.List(cmd.Context())
			if err != nil {
				return err
			}

			data := pterm.TableData{{"Folder", "Wire name", "Delimiter"}}
			for _, f := range folders {
				delim := ""
				if f.Delimiter != 0 {
					delim = string(f.Delimiter)
				}
				data = append(data, []string{f.Name, f.Wire, delim})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
				return fmt.Errorf("render folders: %w", err)
			}
			return nil
		},
	}
}
