// Package store provides file-based persistence for the identity bridge.
//
// Its single concern is the signer-session snapshot that lets a later run
// reconnect to a remote signer without repeating the handshake. The
// snapshot contains an ephemeral secret key, so it is sealed under a
// passphrase-derived key before touching disk.
package store
