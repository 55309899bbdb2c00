// Package types defines the Engine interface, document and view types,
// and standard error types for the Trestle synchronization engine.
package types
