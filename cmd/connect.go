package cmd

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"go.rembash.dev/rembash/internal/client"
	"go.rembash.dev/rembash/internal/core"
	"go.rembash.dev/rembash/internal/keyring"
)

func NewConnectCommand() *cobra.Command {
	var secretFlag string

	connectCmd := &cobra.Command{
		Use:   "connect [host[:port]]",
		Short: "Connect to a rembash server",
		Long: `Connect to a rembash server and attach the local terminal to a remote
shell. The shared secret is taken from --secret, then the system keyring
(see 'rembash password'), then an interactive prompt.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			addr := "127.0.0.1"
			if len(args) > 0 {
				addr = args[0]
			}
			if _, _, err := net.SplitHostPort(addr); err != nil {
				addr = net.JoinHostPort(addr, strconv.Itoa(core.Config.ListenPort))
			}

			secret := secretFlag
			if secret == "" {
				stored, err := keyring.Lookup(addr)
				if err != nil {
					slog.Debug("Keyring lookup failed", "error", err)
				}
				secret = stored
			}
			if secret == "" {
				prompted, err := keyring.ReadSecret(addr, false)
				if err != nil {
					slog.Error(fmt.Sprintf("Failed to read secret: %v", err))
					os.Exit(1)
				}
				secret = prompted
			}

			if err := client.Run(addr, secret); err != nil {
				slog.Error(fmt.Sprintf("Connection to %s failed: %v", addr, err))
				os.Exit(1)
			}
		},
	}

	connectCmd.Flags().StringVar(&secretFlag, "secret", "", "shared secret (overrides keyring)")

	return connectCmd
}
