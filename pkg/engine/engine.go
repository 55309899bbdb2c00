// Package engine provides the public constructor for the Trestle
// synchronization engine while keeping implementation details internal.
package engine

import (
	"github.com/mesh-intelligence/trestle/internal/engine"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

// New creates a synchronization engine backed by the real filesystem.
// The engine is not attached; call Attach with a Config to start it.
//
// Example:
//
//	eng := engine.New()
//	err := eng.Attach(types.DefaultConfig())
//	defer eng.Detach()
//
//	doc, err := eng.Open("tasks.toml", "tasks")
func New() types.Engine {
	return engine.New()
}
