// Show command for the trestle CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

var showCmd = &cobra.Command{
	Use:   "show <file> <table>",
	Short: "Display a table in its current view order",
	Long: `Display the named table with its persisted sort applied and filtered
rows omitted, the same view an editor attached to the file would present.`,
	Example: `  trestle show tasks.toml tasks
  trestle show tasks.toml tasks --json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, table := args[0], args[1]

		eng, err := attachEngine()
		if err != nil {
			fmt.Fprintln(os.Stderr, "show:", err)
			os.Exit(exitSysError)
		}
		defer eng.Detach()

		doc, err := eng.Open(path, table)
		if err != nil {
			fmt.Fprintln(os.Stderr, "show:", err)
			os.Exit(exitUserError)
		}

		// Walk display positions and keep the rows the view shows.
		rows := make([]types.Row, 0, len(doc.Rows))
		for display := range doc.Rows {
			storageIdx, err := eng.TranslateRowIndex(path, table, display)
			if err != nil {
				fmt.Fprintln(os.Stderr, "show:", err)
				os.Exit(exitSysError)
			}
			row := doc.Rows[storageIdx]
			if hiddenByMeta(doc.Meta, row) {
				continue
			}
			rows = append(rows, row)
		}

		if flagJSON {
			out, err := json.MarshalIndent(map[string]any{
				"headers": doc.Headers,
				"rows":    rows,
			}, "", "  ")
			if err != nil {
				fmt.Fprintln(os.Stderr, "marshal JSON:", err)
				os.Exit(exitSysError)
			}
			fmt.Println(string(out))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for i, h := range doc.Headers {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, h)
		}
		fmt.Fprintln(w)
		for _, row := range rows {
			for i, h := range doc.Headers {
				if i > 0 {
					fmt.Fprint(w, "\t")
				}
				if v, ok := row[h]; ok && v != nil {
					fmt.Fprintf(w, "%v", v)
				}
			}
			fmt.Fprintln(w)
		}
		if err := w.Flush(); err != nil {
			fmt.Fprintln(os.Stderr, "show:", err)
			os.Exit(exitSysError)
		}
		fmt.Printf("%d of %d rows shown\n", len(rows), len(doc.Rows))
		return nil
	},
}
