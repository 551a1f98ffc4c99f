package domain

// SecretKey is a raw secp256k1 private key.
type SecretKey [32]byte

// KeyPair holds a secret key and its derived x-only public key in hex form.
// Ephemeral pairs are generated per bridge session and wiped on teardown.
type KeyPair struct {
	Secret SecretKey
	Public string // 64-char lowercase hex, x-only
}

// SignerSnapshot is the minimal state needed to resume a previously
// connected remote-signer session without repeating the handshake.
type SignerSnapshot struct {
	Secret    SecretKey `json:"secret"`
	Public    string    `json:"public"`
	RemotePub string    `json:"remote_pub"`
	UserPub   string    `json:"user_pub,omitempty"`
	Relays    []string  `json:"relays"`
}

// TeleportResult is what the receiver hands back after the outer layer of a
// transfer blob has been opened. The nsec inside is still encrypted under the
// throwaway key; only the unlock flow can finish the job.
type TeleportResult struct {
	EncryptedNsec string `json:"encryptedNsec"`
	Npub          string `json:"npub"`
}

// RecoveredKey is the outcome of a completed unlock flow.
type RecoveredKey struct {
	Secret SecretKey
	Npub   string
}
