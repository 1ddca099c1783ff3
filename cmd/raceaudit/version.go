package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raceaudit/raceaudit/raceaudit"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := raceaudit.GetInfo()
		fmt.Printf("raceaudit %s\n", info.Version)
		fmt.Printf("languages: %s\n", strings.Join(info.Languages, ", "))
		fmt.Printf("go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
