package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/humansinstitute/ambulando-sub000/internal/domain"
)

const snapshotFile = "signer_session.enc"

// SnapshotStore keeps the signer-session snapshot encrypted on disk.
type SnapshotStore struct {
	dir string
	mu  sync.Mutex
}

// NewSnapshotStore stores snapshots under dir.
func NewSnapshotStore(dir string) *SnapshotStore { return &SnapshotStore{dir: dir} }

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// Save seals the snapshot under the passphrase and writes it atomically.
func (s *SnapshotStore) Save(passphrase string, snap domain.SignerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	N, r, p := scryptParamsDefault()
	sealed, err := encrypt(passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, snapshotFile), sealed, 0o600)
}

// Load opens the stored snapshot. The second return is false when no
// snapshot exists.
func (s *SnapshotStore) Load(passphrase string) (domain.SignerSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return domain.SignerSnapshot{}, false, nil
	}
	if err != nil {
		return domain.SignerSnapshot{}, false, err
	}
	raw, err := decrypt(passphrase, sealed)
	if err != nil {
		return domain.SignerSnapshot{}, false, err
	}
	var snap domain.SignerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.SignerSnapshot{}, false, err
	}
	return snap, true, nil
}

// Clear removes the stored snapshot, if any.
func (s *SnapshotStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// writeFile writes bytes via a temp file, then atomically replaces the
// target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
