// Package memzero wipes secret material from memory once it is no longer
// needed: ephemeral session keys, throwaway unlock codes, derived
// conversation keys.
package memzero

import "crypto/subtle"

// Zero overwrites b with zeros in a constant-time friendly way.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
