// Package app wires application dependencies for the CLI.
//
// It builds the concrete stores and the peer-to-peer client from Config,
// exposing them via the Wire struct for commands to use.
package app
