package ledger

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/cryptobigbro/ledgerd/internal/domain"
)

// ErrBatchOutOfOrder is returned when a prepended batch is not internally
// newest-first or does not sit strictly after the stored history.
var ErrBatchOutOfOrder = errors.New("batch violates history ordering")

// Store keeps per-account event histories and transfer lists, both
// newest-first. New batches arrive from incremental fetches and are
// prepended in front of the existing records.
//
// The fetch collaborator is trusted to honor the pagination cursor, but the
// store still verifies that a batch is strictly newer than everything it
// already holds: a violated cursor contract corrupts the running balances
// silently, so it is turned into a loud error instead.
type Store struct {
	mu        sync.RWMutex
	histories map[string][]*domain.LedgerEvent
	transfers map[string][]*domain.Transfer
}

// NewStore creates a store seeded from a loaded snapshot. Nil maps are fine.
func NewStore(histories map[string][]*domain.LedgerEvent, transfers map[string][]*domain.Transfer) *Store {
	s := &Store{
		histories: make(map[string][]*domain.LedgerEvent, len(histories)),
		transfers: make(map[string][]*domain.Transfer, len(transfers)),
	}
	for id, events := range histories {
		s.histories[id] = append([]*domain.LedgerEvent(nil), events...)
	}
	for id, list := range transfers {
		s.transfers[id] = append([]*domain.Transfer(nil), list...)
	}

	return s
}

// History returns the account's event history, newest-first. The returned
// slice is a copy; the events themselves are shared.
func (s *Store) History(accountID string) []*domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*domain.LedgerEvent(nil), s.histories[accountID]...)
}

// TransfersOf returns the account's transfers, newest-first.
func (s *Store) TransfersOf(accountID string) []*domain.Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*domain.Transfer(nil), s.transfers[accountID]...)
}

// NewestEventID returns the id of the newest known event for the account,
// or 0 when the history is empty. It is the pagination cursor for the next
// incremental fetch.
func (s *Store) NewestEventID(accountID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.histories[accountID]
	if len(history) == 0 {
		return 0
	}

	return history[0].ID
}

// NewestTransferID returns the id of the newest known transfer for the
// account, or 0 when there is none.
func (s *Store) NewestTransferID(accountID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfers := s.transfers[accountID]
	if len(transfers) == 0 {
		return 0
	}

	return transfers[0].ID
}

// PrependEvents inserts a batch of strictly-newer events in front of the
// account's history. The batch must be newest-first with strictly decreasing
// ids, and its oldest event must be newer than the stored newest one.
func (s *Store) PrependEvents(accountID string, batch []*domain.LedgerEvent) error {
	if len(batch) == 0 {
		return nil
	}

	for i := 1; i < len(batch); i++ {
		if batch[i].ID >= batch[i-1].ID {
			return errors.Wrapf(ErrBatchOutOfOrder, "event batch for account %s not newest-first at index %d", accountID, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.histories[accountID]
	if len(history) > 0 && batch[len(batch)-1].ID <= history[0].ID {
		return errors.Wrapf(ErrBatchOutOfOrder, "event batch for account %s overlaps stored history", accountID)
	}

	s.histories[accountID] = append(append([]*domain.LedgerEvent(nil), batch...), history...)

	return nil
}

// PrependTransfers inserts a batch of strictly-newer transfers in front of
// the account's transfer list, under the same ordering contract as events.
func (s *Store) PrependTransfers(accountID string, batch []*domain.Transfer) error {
	if len(batch) == 0 {
		return nil
	}

	for i := 1; i < len(batch); i++ {
		if batch[i].ID >= batch[i-1].ID {
			return errors.Wrapf(ErrBatchOutOfOrder, "transfer batch for account %s not newest-first at index %d", accountID, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transfers := s.transfers[accountID]
	if len(transfers) > 0 && batch[len(batch)-1].ID <= transfers[0].ID {
		return errors.Wrapf(ErrBatchOutOfOrder, "transfer batch for account %s overlaps stored transfers", accountID)
	}

	s.transfers[accountID] = append(append([]*domain.Transfer(nil), batch...), transfers...)

	return nil
}

// Histories returns a copy of all histories, keyed by account id.
func (s *Store) Histories() map[string][]*domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]*domain.LedgerEvent, len(s.histories))
	for id, events := range s.histories {
		out[id] = append([]*domain.LedgerEvent(nil), events...)
	}

	return out
}

// Transfers returns a copy of all transfer lists, keyed by account id.
func (s *Store) Transfers() map[string][]*domain.Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]*domain.Transfer, len(s.transfers))
	for id, list := range s.transfers {
		out[id] = append([]*domain.Transfer(nil), list...)
	}

	return out
}

// AccountIDs returns the ids of all accounts with a stored history or
// transfer list.
func (s *Store) AccountIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.histories))
	ids := make([]string, 0, len(s.histories))
	for id := range s.histories {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for id := range s.transfers {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}

	return ids
}
