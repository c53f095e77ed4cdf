package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.rembash.dev/rembash/internal/core"
	"go.rembash.dev/rembash/internal/server"
)

func NewServerCommand() *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the rembash server",
		Long: `Run the rembash server in the foreground.

The server listens for TCP connections, authenticates each client with the
shared secret, and attaches every authenticated client to its own bash
session running in a pseudo-terminal. It serves until killed.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			s := server.New(core.Config)
			if err := s.Run(); err != nil {
				slog.Error("Server failed", "error", err)
				os.Exit(1)
			}
		},
	}

	return serverCmd
}
