package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Danamir/imap-attachment-extractor/config"
	"github.com/Danamir/imap-attachment-extractor/credential"
)

func newCredentialCommand() *cobra.Command {
	credentialCmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the password stored in the system keyring",
	}

	credentialCmd.AddCommand(&cobra.Command{
		Use:   "set [HOST] [USER]",
		Short: "Store the password for host and login in the system keyring",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, err := config.LoadConnection(cmd, args)
			if err != nil {
				return err
			}

			password := conn.Password
			if password == "" {
				if prompt := credential.TerminalPrompt(os.Stderr); prompt != nil {
					password, err = prompt(fmt.Sprintf("Password for %s on %s: ", conn.Login, conn.Host))
				} else {
					password, err = bufio.NewReader(os.Stdin).ReadString('\n')
					password = strings.TrimRight(password, "\r\n")
					if password != "" {
						err = nil
					}
				}
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}

			ring, err := credential.Open()
			if err != nil {
				return err
			}
			if err := credential.Save(ring, conn.Host, conn.Login, password); err != nil {
				return err
			}

			pterm.Success.Printf("Password stored for %s\n", credential.Key(conn.Host, conn.Login))
			return nil
		},
	})

	return credentialCmd
}
