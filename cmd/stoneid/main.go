package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(errors.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stoneid",
		Short: "stoneid - deterministic gemstone identifiers",
		Long: `stoneid derives short hexadecimal identifiers for gemstone records.

Each record (internal ID, color, clarity, cut, culet size) maps to one
BLAKE2b digest, issued in two forms: the basic ID etched on the stone
(<hex>-B) and the triple ID (<hex>) used across records.

Run 'stoneid id --help' to identify a single stone.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		idCmd(),
		batchCmd(),
		verifyCmd(),
		lookupCmd(),
		combosCmd(),
		reportCmd(),
		eventsCmd(),
		watchCmd(),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "stoneid %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
