package domain

// SnapshotVersion is the schema version written by the current code. Older
// snapshots are migrated forward at load time.
const SnapshotVersion = 1

// Snapshot is the full persisted state of the engine: the order cache, the
// per-account event histories (newest-first) and the per-account transfer
// lists (newest-first), tagged with a schema version.
type Snapshot struct {
	Version   int                       `json:"version"`
	Orders    map[string]*Order         `json:"orders"`
	Histories map[string][]*LedgerEvent `json:"histories"`
	Transfers map[string][]*Transfer    `json:"transfers"`
}

// NewSnapshot returns an empty snapshot at the current schema version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:   SnapshotVersion,
		Orders:    make(map[string]*Order),
		Histories: make(map[string][]*LedgerEvent),
		Transfers: make(map[string][]*Transfer),
	}
}
