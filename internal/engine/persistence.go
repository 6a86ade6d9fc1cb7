package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/celerix-dev/celerix-dca/internal/vault"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// SnapshotVersion is the current on-disk format.
const SnapshotVersion = 1

// SnapshotFile is the name of the portfolio file inside the data directory.
const SnapshotFile = "portfolio.json"

// Snapshot is the persisted state of one engine. Audit is oldest first.
type Snapshot struct {
	Version  int                    `json:"version"`
	Revision uint64                 `json:"revision"`
	Cases    []schema.Case          `json:"cases"`
	Audit    []schema.AuditLogEntry `json:"audit"`
}

// Persistence handles the disk I/O for the engine.
type Persistence struct {
	DataDir string
	key     []byte

	mu    sync.Mutex // serializes writes to the filesystem
	saved uint64     // highest revision written
}

// NewPersistence initializes a persistence handler. A non-nil key must be 32
// bytes; the snapshot is then sealed with AES-GCM.
func NewPersistence(dir string, key []byte) (*Persistence, error) {
	if key != nil && len(key) != vault.KeySize {
		return nil, fmt.Errorf("persistence: encryption key must be %d bytes", vault.KeySize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir, key: key}, nil
}

// Path returns the snapshot file location.
func (p *Persistence) Path() string {
	return filepath.Join(p.DataDir, SnapshotFile)
}

// Save writes the snapshot atomically. Snapshots older than one already
// written are skipped, so out-of-order background saves never regress the file.
func (p *Persistence) Save(s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Revision != 0 && s.Revision <= p.saved {
		return nil
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if p.key != nil {
		if data, err = vault.Seal(data, p.key); err != nil {
			return fmt.Errorf("seal snapshot: %w", err)
		}
	}

	path := p.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	// Readers see either the old file or the new one, never a partial write.
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	p.saved = s.Revision
	return nil
}

// Load reads the snapshot, migrating older formats. A missing file yields an
// empty snapshot at the current version.
func (p *Persistence) Load() (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.Path())
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{Version: SnapshotVersion}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		if p.key == nil {
			return Snapshot{}, errors.New("snapshot is encrypted but no key is configured")
		}
		if data, err = vault.Open(data, p.key); err != nil {
			return Snapshot{}, fmt.Errorf("open snapshot: %w", err)
		}
	}

	snap, err := migrateSnapshot(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", SnapshotFile, err)
	}
	p.saved = snap.Revision
	return snap, nil
}
