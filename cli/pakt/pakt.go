package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/pakt/internal/cli"
)

var (
	logLevel  string
	extraRoot string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pakt",
		Short: "A layered package registry with per-user registrations",
		Long: `pakt maintains a stack of package databases with crash-safe per-user
registrations and keeps declarative hooks synchronized with the set of
installed and registered packages.`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&extraRoot, "root", "", "extra database root stacked as the writable overlay")

	// Set up CLI pkg variables
	cli.LogLevel = &logLevel
	cli.ExtraRoot = &extraRoot

	// Add subcommands
	cmd.AddCommand(
		cli.NewInstallCmd(),
		cli.NewRegisterCmd(),
		cli.NewUnregisterCmd(),
		cli.NewListCmd(),
		cli.NewInfoCmd(),
		cli.NewPkgdirCmd(),
		cli.NewHookCmd(),
		cli.NewGcCmd(),
		cli.NewFrameworksCmd(),
	)

	return cmd
}
