// Package signer drives the connect → authorize → ready handshake with an
// external remote signer application over the relay network, and exposes the
// two operations a connected session supports: fetching the remote public
// key and requesting a signature over an exact unsigned event.
//
// The session owns an ephemeral key pair and a one-time secret. The secret
// travels out-of-band inside the connection descriptor (QR code / URI); an
// acknowledgement carrying any other secret is silently ignored as a
// possible spoof. A wall-clock budget bounds the whole handshake, and
// teardown on any exit path releases every subscription and pending request
// the session opened.
package signer
