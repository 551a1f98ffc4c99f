// Package commands implements the ambulando identity-bridge CLI: the HTTP
// bridge server, a terminal remote-signer handshake, and a terminal
// teleport decode + unlock flow.
package commands
