// Filter command for the trestle CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

var (
	flagFilterContains string
	flagFilterEquals   string
	flagFilterMin      float64
	flagFilterMax      float64
	flagFilterBool     string
	flagFilterOneOf    string
	flagFilterClear    bool
	flagFilterClearAll bool
)

var filterCmd = &cobra.Command{
	Use:   "filter <file> <table> [column]",
	Short: "Filter a table by column and persist the view",
	Long: `Set, replace, or clear column filters and save the view to the file's
metadata section. Filters on different columns combine: a row must satisfy
all of them to stay visible. Hidden rows stay in the file.`,
	Example: `  trestle filter tasks.toml tasks title --contains urgent
  trestle filter tasks.toml tasks rank --min 2 --max 5
  trestle filter tasks.toml tasks status --one-of open,blocked
  trestle filter tasks.toml tasks done --match-bool false
  trestle filter tasks.toml tasks title --clear
  trestle filter tasks.toml tasks --clear-all`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, table := args[0], args[1]

		eng, err := attachEngine()
		if err != nil {
			fmt.Fprintln(os.Stderr, "filter:", err)
			os.Exit(exitSysError)
		}
		defer eng.Detach()

		if _, err := eng.Open(path, table); err != nil {
			fmt.Fprintln(os.Stderr, "filter:", err)
			os.Exit(exitUserError)
		}

		if flagFilterClearAll {
			if err := eng.ClearFilters(path, table); err != nil {
				fmt.Fprintln(os.Stderr, "filter:", err)
				os.Exit(exitSysError)
			}
			if _, err := eng.Save(path, table); err != nil {
				fmt.Fprintln(os.Stderr, "filter: save:", err)
				os.Exit(exitSysError)
			}
			fmt.Println("all filters cleared")
			return nil
		}

		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "filter: column required unless --clear-all is set")
			os.Exit(exitUserError)
		}
		column := args[2]

		if flagFilterClear {
			hidden, err := eng.ClearColumnFilter(path, table, column)
			if err != nil {
				fmt.Fprintln(os.Stderr, "filter:", err)
				os.Exit(exitUserError)
			}
			if _, err := eng.Save(path, table); err != nil {
				fmt.Fprintln(os.Stderr, "filter: save:", err)
				os.Exit(exitSysError)
			}
			fmt.Printf("filter on %s cleared; %d row(s) still hidden\n", column, len(hidden))
			return nil
		}

		cond, err := conditionFromFlags(cmd)
		if err != nil {
			fmt.Fprintln(os.Stderr, "filter:", err)
			os.Exit(exitUserError)
		}

		hidden, err := eng.SetColumnFilter(path, table, column, cond)
		if err != nil {
			fmt.Fprintln(os.Stderr, "filter:", err)
			os.Exit(exitUserError)
		}
		if _, err := eng.Save(path, table); err != nil {
			fmt.Fprintln(os.Stderr, "filter: save:", err)
			os.Exit(exitSysError)
		}
		fmt.Printf("filter set on %s; %d row(s) hidden\n", column, len(hidden))
		return nil
	},
}

// conditionFromFlags builds a FilterCondition from whichever condition flag
// the user set. Exactly one condition kind must be given.
func conditionFromFlags(cmd *cobra.Command) (types.FilterCondition, error) {
	var cond types.FilterCondition
	kinds := 0

	if cmd.Flags().Changed("contains") {
		cond = types.FilterCondition{Kind: types.FilterContains, Text: flagFilterContains}
		kinds++
	}
	if cmd.Flags().Changed("equals") {
		cond = types.FilterCondition{Kind: types.FilterEquals, Text: flagFilterEquals}
		kinds++
	}
	if cmd.Flags().Changed("min") || cmd.Flags().Changed("max") {
		cond = types.FilterCondition{Kind: types.FilterRange}
		if cmd.Flags().Changed("min") {
			v := flagFilterMin
			cond.Min = &v
		}
		if cmd.Flags().Changed("max") {
			v := flagFilterMax
			cond.Max = &v
		}
		kinds++
	}
	if cmd.Flags().Changed("match-bool") {
		var b bool
		switch flagFilterBool {
		case "true":
			b = true
		case "false":
			b = false
		default:
			return cond, fmt.Errorf("--match-bool wants true or false, got %q", flagFilterBool)
		}
		cond = types.FilterCondition{Kind: types.FilterBoolean, Bool: &b}
		kinds++
	}
	if cmd.Flags().Changed("one-of") {
		values := strings.Split(flagFilterOneOf, ",")
		for i := range values {
			values[i] = strings.TrimSpace(values[i])
		}
		cond = types.FilterCondition{Kind: types.FilterOneOf, Values: values}
		kinds++
	}

	if kinds == 0 {
		return cond, fmt.Errorf("no condition given; use --contains, --equals, --min/--max, --match-bool, or --one-of")
	}
	if kinds > 1 {
		return cond, fmt.Errorf("give exactly one condition kind")
	}
	return cond, nil
}

func init() {
	filterCmd.Flags().StringVar(&flagFilterContains, "contains", "", "keep rows whose cell contains the text (case-insensitive)")
	filterCmd.Flags().StringVar(&flagFilterEquals, "equals", "", "keep rows whose cell equals the value")
	filterCmd.Flags().Float64Var(&flagFilterMin, "min", 0, "keep rows with numeric cells >= min")
	filterCmd.Flags().Float64Var(&flagFilterMax, "max", 0, "keep rows with numeric cells <= max")
	filterCmd.Flags().StringVar(&flagFilterBool, "match-bool", "", "keep rows whose boolean cell equals true or false")
	filterCmd.Flags().StringVar(&flagFilterOneOf, "one-of", "", "keep rows whose cell is in the comma-separated list")
	filterCmd.Flags().BoolVar(&flagFilterClear, "clear", false, "remove the filter on the column")
	filterCmd.Flags().BoolVar(&flagFilterClearAll, "clear-all", false, "remove every filter on the table")
}
