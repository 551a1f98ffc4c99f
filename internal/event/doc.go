// Package event implements the signed envelope exchanged over relays: a
// kind-tagged message with pubkey, timestamp, tags, content and a BIP-340
// Schnorr signature over the canonical serialization. An envelope whose
// signature fails verification is discarded, never parsed further.
package event
