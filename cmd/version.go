package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.rembash.dev/rembash/internal/core"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "rembash %s\n", core.FormatVersion(core.Version))
		},
	}

	return versionCmd
}
