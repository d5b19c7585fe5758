package quota

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server when REDIS_TEST_ADDR is set.
func TestRedisLedgerLifecycle(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLedger(client)
	owner := "owner-" + uuid.NewString()

	a, err := l.Reserve(ctx, ReserveRequest{OwnerID: owner, JobID: uuid.NewString(), Units: 6, Limit: 10})
	require.NoError(t, err)
	_, err = l.Reserve(ctx, ReserveRequest{OwnerID: owner, JobID: uuid.NewString(), Units: 5, Limit: 10})
	assert.ErrorIs(t, err, ErrInsufficientQuota)
	_, err = l.Reserve(ctx, ReserveRequest{OwnerID: owner, JobID: a.JobID, Units: 1, Limit: 10})
	assert.ErrorIs(t, err, ErrDuplicateReservation)

	require.NoError(t, l.Commit(ctx, a.ID))
	require.NoError(t, l.Commit(ctx, a.ID))
	assert.NoError(t, l.Rollback(ctx, a.ID))
	assert.ErrorIs(t, l.Rollback(ctx, uuid.NewString()), ErrReservationNotFound)

	usage, err := l.Usage(ctx, owner, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, usage.Used)
	assert.Equal(t, 0, usage.Reserved)
}

func TestRedisLedgerReleaseStale(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLedger(client)
	owner := "owner-" + uuid.NewString()
	past := time.Now().Add(-48 * time.Hour)
	l.now = func() time.Time { return past }
	old, err := l.Reserve(ctx, ReserveRequest{OwnerID: owner, JobID: uuid.NewString(), Units: 3, Limit: 10})
	require.NoError(t, err)

	l.now = time.Now
	fresh, err := l.Reserve(ctx, ReserveRequest{OwnerID: owner, JobID: uuid.NewString(), Units: 2, Limit: 10})
	require.NoError(t, err)

	n, err := l.ReleaseStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	usage, err := l.Usage(ctx, owner, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Reserved)

	require.NoError(t, l.Commit(ctx, old.ID))
	require.NoError(t, l.Commit(ctx, fresh.ID))
	usage, err = l.Usage(ctx, owner, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Used)
	assert.Zero(t, usage.Reserved)
}
