// Status command for the trestle CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <file>",
	Short: "Report a file's permission state and queued edits",
	Example: `  trestle status tasks.toml
  trestle status tasks.toml --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		eng, err := attachEngine()
		if err != nil {
			fmt.Fprintln(os.Stderr, "status:", err)
			os.Exit(exitSysError)
		}
		defer eng.Detach()

		state, pending := eng.CheckPermissionState(path)

		if flagJSON {
			out, err := json.MarshalIndent(map[string]any{
				"path":            path,
				"permission":      state,
				"pending_updates": pending,
			}, "", "  ")
			if err != nil {
				fmt.Fprintln(os.Stderr, "marshal JSON:", err)
				os.Exit(exitSysError)
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("path:            %s\n", path)
		fmt.Printf("permission:      %s\n", state)
		fmt.Printf("pending updates: %d\n", pending)
		return nil
	},
}
