// Shared helpers for trestle CLI commands.
package main

import (
	"fmt"
	"strconv"

	pkgengine "github.com/mesh-intelligence/trestle/pkg/engine"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

// attachEngine creates an engine and attaches it with the loaded
// configuration. The caller must defer eng.Detach().
func attachEngine() (types.Engine, error) {
	eng := pkgengine.New()
	if err := eng.Attach(engineConfig); err != nil {
		return nil, fmt.Errorf("attach engine: %w", err)
	}
	return eng, nil
}

// parseCellValue converts a command-line string into a typed cell value.
// "true" and "false" become booleans, digit strings become integers, decimal
// strings become floats, and everything else stays a string.
func parseCellValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// hiddenByMeta reports whether the row fails any persisted filter condition
// in the document metadata.
func hiddenByMeta(meta *types.ViewMeta, row types.Row) bool {
	if meta == nil {
		return false
	}
	for _, f := range meta.Filters {
		if !f.Condition.Matches(row[f.Column]) {
			return true
		}
	}
	return false
}
