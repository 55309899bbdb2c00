// Set command for the trestle CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

var setCmd = &cobra.Command{
	Use:   "set <file> <table> <row> <column> <value>",
	Short: "Set one cell and save",
	Long: `Set the cell at the given display row and column, then save the file.

The row index addresses the current view: with a sort active it is the
sorted position, not the file position. Values parse as booleans, integers,
or floats when they look like one, and stay strings otherwise. When the file
is not writable the edit is queued and replayed once write access returns.`,
	Example: `  trestle set tasks.toml tasks 0 status done
  trestle set tasks.toml tasks 2 rank 5`,
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, table := args[0], args[1]
		rowIdx, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "set: row %q is not a number\n", args[2])
			os.Exit(exitUserError)
		}
		column, value := args[3], parseCellValue(args[4])

		eng, err := attachEngine()
		if err != nil {
			fmt.Fprintln(os.Stderr, "set:", err)
			os.Exit(exitSysError)
		}
		defer eng.Detach()

		if _, err := eng.Open(path, table); err != nil {
			fmt.Fprintln(os.Stderr, "set:", err)
			os.Exit(exitUserError)
		}

		if err := eng.Edit(path, table, rowIdx, column, value); err != nil {
			if errors.Is(err, types.ErrIndexOutOfRange) || errors.Is(err, types.ErrColumnNotFound) {
				fmt.Fprintln(os.Stderr, "set:", err)
				os.Exit(exitUserError)
			}
			fmt.Fprintln(os.Stderr, "set:", err)
			os.Exit(exitSysError)
		}

		// A degraded file queues the edit instead of dirtying the document.
		if state, pending := eng.CheckPermissionState(path); state != types.PermReadWrite {
			fmt.Printf("%s is %s; edit queued (%d pending)\n", path, state, pending)
			return nil
		}

		res, err := eng.Save(path, table)
		if err != nil {
			if errors.Is(err, types.ErrPermissionDenied) {
				fmt.Fprintf(os.Stderr, "set: %s is not writable; edit not saved\n", path)
				os.Exit(exitUserError)
			}
			fmt.Fprintln(os.Stderr, "set: save:", err)
			os.Exit(exitSysError)
		}
		if res.GeneratedIDs > 0 {
			fmt.Printf("saved; assigned %d row id(s)\n", res.GeneratedIDs)
			return nil
		}
		fmt.Println("saved")
		return nil
	},
}
