// Package snapshot persists the full ledger state as a versioned JSON file.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cryptobigbro/ledgerd/internal/domain"
)

const fileMode = 0o644

// ErrCorruptSnapshot wraps any parse failure of an existing snapshot file.
// Startup must not silently continue with a guessed state when the file is
// unreadable; the operator decides whether to start fresh.
var ErrCorruptSnapshot = errors.New("snapshot file is not valid JSON")

// migration upgrades a snapshot from the given version to the next one.
type migration func(*domain.Snapshot) error

var migrations = map[int]migration{
	0: migrateV0,
}

// migrateV0 normalizes pre-versioning snapshots that may carry nil maps.
func migrateV0(s *domain.Snapshot) error {
	if s.Orders == nil {
		s.Orders = make(map[string]*domain.Order)
	}
	if s.Histories == nil {
		s.Histories = make(map[string][]*domain.LedgerEvent)
	}
	if s.Transfers == nil {
		s.Transfers = make(map[string][]*domain.Transfer)
	}
	return nil
}

// Store reads and writes the snapshot file.
type Store struct {
	path string
	l    *zap.Logger
}

// NewStore creates a snapshot store for the given path.
func NewStore(path string, l *zap.Logger) *Store {
	return &Store{path: path, l: l}
}

// Load reads the snapshot from disk. A missing file is a fresh start and
// yields an empty snapshot; an unreadable file is an error. Snapshots written
// by older versions are migrated forward before being returned.
func (s *Store) Load() (*domain.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.l.Info("No snapshot file found, starting with empty state", zap.String("path", s.path))
			return domain.NewSnapshot(), nil
		}
		return nil, errors.Wrapf(err, "failed to read snapshot %s", s.path)
	}

	snap := &domain.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, errors.Wrapf(ErrCorruptSnapshot, "%s: %v", s.path, err)
	}

	if snap.Version > domain.SnapshotVersion {
		return nil, errors.Errorf("snapshot %s has version %d, newer than supported %d",
			s.path, snap.Version, domain.SnapshotVersion)
	}

	for v := snap.Version; v < domain.SnapshotVersion; v++ {
		migrate, ok := migrations[v]
		if !ok {
			return nil, errors.Errorf("no migration from snapshot version %d", v)
		}
		if err := migrate(snap); err != nil {
			return nil, errors.Wrapf(err, "failed to migrate snapshot from version %d", v)
		}
		snap.Version = v + 1
		s.l.Info("Migrated snapshot", zap.Int("to_version", snap.Version))
	}

	return snap, nil
}

// Save writes the snapshot to a temporary file in the same directory and
// renames it over the target, so a crash mid-write never leaves a
// half-written snapshot behind.
func (s *Store) Save(snap *domain.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshot")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to ensure snapshot directory %s", dir)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return errors.Wrapf(err, "failed to write snapshot to %s", tmp)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "failed to replace snapshot %s", s.path)
	}

	return nil
}

// ArchiveCorrupt moves an unreadable snapshot file aside so a fresh state can
// be written without destroying the evidence. Returns the archive path.
func (s *Store) ArchiveCorrupt() (string, error) {
	archived := fmt.Sprintf("%s.corrupt.%s", s.path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(s.path, archived); err != nil {
		return "", errors.Wrapf(err, "failed to archive corrupt snapshot %s", s.path)
	}

	s.l.Warn("Archived unreadable snapshot", zap.String("path", archived))

	return archived, nil
}
