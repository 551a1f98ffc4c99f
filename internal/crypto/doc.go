// Package crypto implements the key primitives of the identity bridge:
// secp256k1 key pairs, the bech32 npub/nsec codec, and the NIP-44 v2
// authenticated encryption envelope used for every payload that crosses a
// relay or rides inside a transfer blob.
//
// Decryption is authenticated: a tampered ciphertext or a mismatched key
// pair fails the MAC check and returns an error, never garbage plaintext.
// The teleport codec relies on that property as its only recipient check.
package crypto
