package storage

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlreadyDeliveredCountsOnlySuccesses(t *testing.T) {
	log := NewDeliveryLog(newTestDB(t))

	already, err := log.AlreadyDelivered("hash-1", 555)
	require.NoError(t, err)
	assert.False(t, already)

	// A failed attempt must not suppress a redelivery.
	require.NoError(t, log.Record(&DeliveryRecord{
		EventKind:    KindPush,
		RepositoryID: 1,
		ServerID:     100,
		ChannelID:    555,
		PayloadHash:  "hash-1",
		Success:      false,
		ErrorDetail:  sql.NullString{String: "permission denied", Valid: true},
	}))
	already, err = log.AlreadyDelivered("hash-1", 555)
	require.NoError(t, err)
	assert.False(t, already)

	require.NoError(t, log.Record(&DeliveryRecord{
		EventKind:    KindPush,
		RepositoryID: 1,
		ServerID:     100,
		ChannelID:    555,
		PayloadHash:  "hash-1",
		Success:      true,
	}))
	already, err = log.AlreadyDelivered("hash-1", 555)
	require.NoError(t, err)
	assert.True(t, already)

	// Dedup is scoped per channel.
	already, err = log.AlreadyDelivered("hash-1", 556)
	require.NoError(t, err)
	assert.False(t, already)
}

func TestRecordPopulatesIDAndTimestamp(t *testing.T) {
	log := NewDeliveryLog(newTestDB(t))

	rec := &DeliveryRecord{
		EventKind:    KindRelease,
		RepositoryID: 1,
		ServerID:     100,
		ChannelID:    555,
		PayloadHash:  "hash-2",
		Success:      true,
	}
	require.NoError(t, log.Record(rec))
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.DeliveredAt.IsZero())
}

func TestRecentFailures(t *testing.T) {
	log := NewDeliveryLog(newTestDB(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Record(&DeliveryRecord{
			EventKind:    KindIssue,
			RepositoryID: 1,
			ServerID:     100,
			ChannelID:    int64(i),
			DeliveredAt:  time.Now().UTC().Add(time.Duration(i) * time.Second),
			PayloadHash:  "hash-3",
			Success:      false,
			ErrorDetail:  sql.NullString{String: "transport error", Valid: true},
		}))
	}
	require.NoError(t, log.Record(&DeliveryRecord{
		EventKind:    KindIssue,
		RepositoryID: 1,
		ServerID:     100,
		ChannelID:    9,
		PayloadHash:  "hash-3",
		Success:      true,
	}))

	failures, err := log.RecentFailures(2)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	// Most recent first.
	assert.Equal(t, int64(2), failures[0].ChannelID)
	for _, f := range failures {
		assert.False(t, f.Success)
	}

	all, err := log.Recent(10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCleanupRemovesOldRecords(t *testing.T) {
	log := NewDeliveryLog(newTestDB(t))

	require.NoError(t, log.Record(&DeliveryRecord{
		EventKind:    KindPush,
		RepositoryID: 1,
		ServerID:     100,
		ChannelID:    555,
		DeliveredAt:  time.Now().UTC().AddDate(0, 0, -40),
		PayloadHash:  "old",
		Success:      true,
	}))
	require.NoError(t, log.Record(&DeliveryRecord{
		EventKind:    KindPush,
		RepositoryID: 1,
		ServerID:     100,
		ChannelID:    555,
		PayloadHash:  "new",
		Success:      true,
	}))

	removed, err := log.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	all, err := log.Recent(10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].PayloadHash)
}
