package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.rembash.dev/rembash/internal/keyring"
)

func NewPasswordCommand() *cobra.Command {
	passwordCmd := &cobra.Command{
		Use:     "password",
		Aliases: []string{"passwd", "pass"},
		Short:   "Manage the stored shared secret",
		Long: `Store and delete the shared handshake secret in the system keyring
(Keychain on macOS, Secret Service on Linux).

Without a server argument the secret applies to every server; naming a
server stores an override used only for that address.`,
	}

	// password set command
	setCmd := &cobra.Command{
		Use:   "set [server]",
		Short: "Store the shared secret",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var addr string
			if len(args) > 0 {
				addr = args[0]
			}

			secret, err := keyring.ReadSecret(addr, true)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read secret: %v", err))
				os.Exit(1)
			}

			if err := keyring.Store(addr, secret); err != nil {
				slog.Error(fmt.Sprintf("Failed to store secret: %v", err))
				os.Exit(1)
			}

			if addr == "" {
				slog.Info("Shared secret stored securely")
			} else {
				slog.Info(fmt.Sprintf("Secret override stored securely for '%s'", addr))
			}
		},
	}

	// password delete command
	deleteCmd := &cobra.Command{
		Use:     "delete [server]",
		Aliases: []string{"del", "remove", "rm"},
		Short:   "Delete the stored shared secret",
		Args:    cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var addr string
			if len(args) > 0 {
				addr = args[0]
			}

			if err := keyring.Forget(addr); err != nil {
				slog.Error(fmt.Sprintf("Failed to delete secret: %v", err))
				os.Exit(1)
			}

			if addr == "" {
				slog.Info("Shared secret deleted")
			} else {
				slog.Info(fmt.Sprintf("Secret override deleted for '%s'", addr))
			}
		},
	}

	passwordCmd.AddCommand(setCmd, deleteCmd)

	return passwordCmd
}
