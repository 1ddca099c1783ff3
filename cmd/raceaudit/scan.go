package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raceaudit/raceaudit/internal/analysis/report"
	"github.com/raceaudit/raceaudit/raceaudit"
)

var (
	scanJSON        bool
	scanIdiomWindow int
)

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Statically audit source files for unprotected shared state",
	Long: `Scan parses the given Python and Go files (directories are walked
recursively), catalogs shared mutable state, and reports state that is
written without a recognizably matching lock.

The scan is heuristic: findings are audit leads, not proofs. Each
finding carries false-positive indicators where the classifier noticed
mitigating context (test files, bounded access counts).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "emit the report as JSON")
	scanCmd.Flags().IntVar(&scanIdiomWindow, "idiom-window", 0, "check-then-act line window (0 = default)")
}

func runScan(cmd *cobra.Command, args []string) error {
	paths, err := collectSources(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no Python or Go source files under %v", args)
	}

	rep, err := raceaudit.Scan(cmd.Context(), paths, raceaudit.ScanOptions{
		IdiomWindow: scanIdiomWindow,
	})
	if err != nil {
		return err
	}

	doc := report.NewJSONDocument(rep.Findings, rep.FilesScanned, rep.FilesSkipped, rep.DroppedSubjects)
	if scanJSON {
		return report.WriteJSON(os.Stdout, doc)
	}
	return report.WriteText(os.Stdout, doc)
}

// collectSources expands directory arguments into the .py and .go files
// beneath them, skipping hidden directories and Go test vendor dirs.
func collectSources(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if name != "." && (name == "vendor" || name == "node_modules" || name[0] == '.') {
					return filepath.SkipDir
				}
				return nil
			}
			switch filepath.Ext(path) {
			case ".py", ".go":
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}
