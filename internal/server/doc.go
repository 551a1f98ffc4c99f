// Package server exposes the identity bridge over HTTP for the web
// application shell: the teleport decryption endpoint (which needs no prior
// session, since it exists to establish one) and the remote-signer
// descriptor/status endpoints the login page polls.
package server
