// Retry command for the trestle CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

var retryCmd = &cobra.Command{
	Use:   "retry <file>",
	Short: "Probe a degraded file and replay its queued edits",
	Long: `Probe the file's permissions and, if it is writable again, apply its
queued edits in order and save. Edits that fail to apply stay queued.`,
	Example: `  trestle retry tasks.toml`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		eng, err := attachEngine()
		if err != nil {
			fmt.Fprintln(os.Stderr, "retry:", err)
			os.Exit(exitSysError)
		}
		defer eng.Detach()

		applied, err := eng.RetryPendingUpdates(path)
		if err != nil {
			if errors.Is(err, types.ErrPermissionDenied) {
				fmt.Fprintln(os.Stderr, "retry:", err)
				os.Exit(exitUserError)
			}
			fmt.Fprintln(os.Stderr, "retry:", err)
			os.Exit(exitSysError)
		}

		fmt.Printf("applied %d queued edit(s)\n", applied)
		return nil
	},
}
