// Version command for the trestle CLI.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/trestle/pkg/trestle"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the trestle version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trestle", trestle.Version)
	},
}
