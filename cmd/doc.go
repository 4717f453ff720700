// Package cmd implements the command-line interface for the willow embedded
// object persistence engine. It provides a hierarchical command structure for
// inspecting and manipulating database files.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for record operations (get, set, del, has, info)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See willow -help for a list of all commands.
package cmd
