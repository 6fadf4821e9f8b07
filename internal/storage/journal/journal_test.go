package journal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendAndRead(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	first := CycleRecord{
		CycleID:   uuid.New().String(),
		AccountID: "acc-btc",
		Currency:  "BTC",
		NewEvents: 3,
		NewestID:  42,
		AppliedAt: time.Now().UTC(),
	}
	second := CycleRecord{
		CycleID:      uuid.New().String(),
		AccountID:    "acc-eth",
		Currency:     "ETH",
		NewTransfers: 1,
		AppliedAt:    time.Now().UTC(),
	}

	require.NoError(t, j.Append(first))
	require.NoError(t, j.Append(second))

	entries, err := j.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.CycleID, entries[0].Record.CycleID)
	assert.Equal(t, second.CycleID, entries[1].Record.CycleID)

	// incremental read from the first entry's index
	tail, err := j.RecordsAfter(entries[0].Index)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "acc-eth", tail[0].Record.AccountID)

	assert.Equal(t, entries[1].Index, j.CurrentIndex())
}

func TestJournalRecordsAfterCurrent(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.RecordsAfter(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
