// Package trestle carries module-wide metadata.
package trestle

// Version is the trestle release version.
const Version = "0.1.0"
