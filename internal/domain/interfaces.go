package domain

// SnapshotStore persists a signer-session snapshot so a later run can
// reconnect silently. Implementations must encrypt at rest.
type SnapshotStore interface {
	Save(passphrase string, snap SignerSnapshot) error
	Load(passphrase string) (SignerSnapshot, bool, error)
	Clear() error
}
