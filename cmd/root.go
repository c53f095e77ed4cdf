package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"go.rembash.dev/rembash/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "rembash",
		Short: "Rembash - remote shell service",
		Long:  `Rembash - remote shell service`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := core.InitializeConfig(configPath); err != nil {
				return err
			}

			level := slog.LevelInfo
			if verbose > 0 || core.Config.Verbose > 0 {
				level = slog.LevelDebug
			}

			// Set global logger with custom options
			w := os.Stderr
			slog.SetDefault(slog.New(
				tint.NewHandler(w, &tint.Options{
					Level:      level,
					TimeFormat: time.DateTime,
				}),
			))

			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewServerCommand(),
		NewConnectCommand(),
		NewPasswordCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
