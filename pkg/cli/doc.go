// Package cli carries small helpers shared by the vesta commands:
// output formatting, typed command errors, and signal-aware contexts.
package cli
