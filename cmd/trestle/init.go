// Init command for the trestle CLI.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/trestle/internal/storage"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

var initCmd = &cobra.Command{
	Use:   "init <file> <table> [column...]",
	Short: "Create a new table document file",
	Long: `Create a TOML document file containing an empty named table.

The id column is always present; additional columns may be listed after the
table name. The command refuses to overwrite an existing file.`,
	Example: `  trestle init tasks.toml tasks title status rank
  trestle init notes.toml notes text`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, table := args[0], args[1]

		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "init: %s already exists\n", path)
			os.Exit(exitUserError)
		} else if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "init:", err)
			os.Exit(exitSysError)
		}

		headers := []string{types.IDColumn}
		for _, col := range args[2:] {
			if col == types.IDColumn {
				continue
			}
			headers = append(headers, col)
		}

		doc := &types.Document{
			Path:    path,
			Table:   table,
			Headers: headers,
			Rows:    nil,
		}
		data, err := storage.Serialize(doc)
		if err != nil {
			fmt.Fprintln(os.Stderr, "init: serialize:", err)
			os.Exit(exitSysError)
		}

		// An empty table carries no rows to infer columns from, so the
		// scaffold records the intended ones as a comment for whoever
		// edits the file by hand.
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "# columns: %s\n", strings.Join(headers, ", "))
		buf.Write(data)

		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fmt.Fprintln(os.Stderr, "init:", err)
				os.Exit(exitSysError)
			}
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "init:", err)
			os.Exit(exitSysError)
		}

		fmt.Printf("created %s with table %q\n", path, table)
		return nil
	},
}
