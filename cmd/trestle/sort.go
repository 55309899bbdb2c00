// Sort command for the trestle CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagSortDesc  bool
	flagSortClear bool
)

var sortCmd = &cobra.Command{
	Use:   "sort <file> <table> [column]",
	Short: "Sort a table by column and persist the view",
	Long: `Sort the named table by a column and save the view to the file's
metadata section, so the next open restores the same order. Empty cells sort
last; numeric strings compare numerically; other strings compare
case-insensitively. The underlying row order in the file never changes.`,
	Example: `  trestle sort tasks.toml tasks rank
  trestle sort tasks.toml tasks title --desc
  trestle sort tasks.toml tasks --clear`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, table := args[0], args[1]

		if flagSortClear && len(args) == 3 {
			fmt.Fprintln(os.Stderr, "sort: --clear takes no column")
			os.Exit(exitUserError)
		}
		if !flagSortClear && len(args) < 3 {
			fmt.Fprintln(os.Stderr, "sort: column required unless --clear is set")
			os.Exit(exitUserError)
		}

		eng, err := attachEngine()
		if err != nil {
			fmt.Fprintln(os.Stderr, "sort:", err)
			os.Exit(exitSysError)
		}
		defer eng.Detach()

		if _, err := eng.Open(path, table); err != nil {
			fmt.Fprintln(os.Stderr, "sort:", err)
			os.Exit(exitUserError)
		}

		if flagSortClear {
			if _, err := eng.ClearSort(path, table); err != nil {
				fmt.Fprintln(os.Stderr, "sort:", err)
				os.Exit(exitSysError)
			}
		} else {
			column := args[2]
			if _, err := eng.SetSort(path, table, column, !flagSortDesc); err != nil {
				fmt.Fprintln(os.Stderr, "sort:", err)
				os.Exit(exitUserError)
			}
		}

		if _, err := eng.Save(path, table); err != nil {
			fmt.Fprintln(os.Stderr, "sort: save:", err)
			os.Exit(exitSysError)
		}
		if flagSortClear {
			fmt.Println("sort cleared")
		} else {
			dir := "ascending"
			if flagSortDesc {
				dir = "descending"
			}
			fmt.Printf("sorted by %s %s\n", args[2], dir)
		}
		return nil
	},
}

func init() {
	sortCmd.Flags().BoolVar(&flagSortDesc, "desc", false, "sort descending")
	sortCmd.Flags().BoolVar(&flagSortClear, "clear", false, "remove the active sort")
}
