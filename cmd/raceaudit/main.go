// Package main implements the raceaudit CLI tool.
//
// The raceaudit tool audits Python and Go codebases for likely data
// races. It combines two complementary strategies:
//
//  1. Static scan: parse sources, catalog shared state, and classify
//     each candidate with name- and type-based protection heuristics.
//  2. Dynamic stress: hammer an instrumented operation across a
//     goroutine matrix and flag close cross-thread access pairs.
//
// Usage:
//
//	raceaudit scan ./src          # audit a source tree
//	raceaudit scan --json ./src   # machine-readable report
//	raceaudit stress              # run the built-in counter stress demo
//	raceaudit version             # print version information
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "raceaudit",
	Short: "Heuristic race auditor for Python and Go sources",
	Long: `raceaudit finds likely data races without a custom toolchain.

The static scan parses source files, catalogs module-level and
instance-level shared state, and reports state that is mutated without
a recognizably matching lock. The dynamic stress runner exercises an
instrumented target across many goroutines and flags access pairs that
land inside a short wall-clock window.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			level = slog.LevelWarn
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(stressCmd)
	rootCmd.AddCommand(versionCmd)
}
