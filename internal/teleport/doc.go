// Package teleport moves a private key from a custodian application into
// this one through a single self-contained, double-encrypted blob. No relay
// is involved: the blob rides a URL fragment.
//
// The outer layer is sealed for this application's key; the inner layer is
// sealed under a throwaway key whose secret the user carries out-of-band as
// the unlock code. The blob deliberately names no recipient: outer-layer
// decryption failure is the recipient check, reported as its own error kind
// so it never blends into malformed-input failures.
package teleport
