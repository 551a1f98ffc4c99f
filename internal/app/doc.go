// Package app wires the identity bridge's dependencies for the CLI and the
// HTTP server: configuration from the environment, the relay pool, the
// teleport codec and the snapshot store.
package app
