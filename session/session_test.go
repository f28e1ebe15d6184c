package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, retention time.Duration) *MemoryRegistry {
	t.Helper()
	r := NewMemoryRegistry(retention)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegister_NewSession(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	rec, err := r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "userA", rec.UserID)
	assert.Equal(t, "https://x", rec.TargetURL)
	assert.True(t, rec.Active)
	assert.False(t, rec.CreatedAt.IsZero())

	active, err := r.HasActiveSession(ctx, "userA", "https://x")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRegister_SecondSessionForSamePairIsSuppressed(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	first, err := r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)

	existing, err := r.Register(ctx, "s2", "userA", "https://x")
	require.ErrorIs(t, err, ErrActiveExists)
	require.NotNil(t, existing)
	assert.Equal(t, first.SessionID, existing.SessionID)

	// Still exactly one active record for the pair.
	sessions, err := r.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	// The suppressed id was never inserted.
	_, err = r.Get(ctx, "s2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegister_DuplicateIDKeepsOriginalRecord(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	first, err := r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	existing, err := r.Register(ctx, "s1", "userB", "https://y")
	require.ErrorIs(t, err, ErrDuplicateID)
	require.NotNil(t, existing)
	assert.Equal(t, first.CreatedAt, existing.CreatedAt)
	assert.Equal(t, "userA", existing.UserID)
}

func TestUnregister_UnknownIDIsIgnored(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	_, err := r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)

	require.NoError(t, r.Unregister(ctx, "missing"))

	// State unchanged.
	sessions, err := r.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestUnregister_RetainsRecordUntilSweep(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	_, err := r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)
	require.NoError(t, r.Unregister(ctx, "s1"))

	rec, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, rec.Active)

	active, err := r.HasActiveSession(ctx, "userA", "https://x")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCleanupOldSessions_RemovesOnlyExpired(t *testing.T) {
	r := newTestRegistry(t, 60*time.Millisecond)
	ctx := context.Background()

	_, err := r.Register(ctx, "old-active", "userA", "https://x")
	require.NoError(t, err)
	_, err = r.Register(ctx, "old-inactive", "userB", "https://y")
	require.NoError(t, err)
	require.NoError(t, r.Unregister(ctx, "old-inactive"))

	time.Sleep(100 * time.Millisecond)

	_, err = r.Register(ctx, "fresh", "userC", "https://z")
	require.NoError(t, err)

	require.NoError(t, r.CleanupOldSessions(ctx))

	// Expired records are removed regardless of the active flag.
	_, err = r.Get(ctx, "old-active")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(ctx, "old-inactive")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := r.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, rec.Active)
}

func TestClearAll_Idempotent(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	_, err := r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)

	require.NoError(t, r.ClearAll(ctx))
	require.NoError(t, r.ClearAll(ctx))

	sessions, err := r.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRegister_DistinctURLsDoNotCollide(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	_, err := r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)
	_, err = r.Register(ctx, "s2", "userA", "https://y")
	require.NoError(t, err)

	for _, url := range []string{"https://x", "https://y"} {
		active, err := r.HasActiveSession(ctx, "userA", url)
		require.NoError(t, err)
		assert.True(t, active, url)
	}

	sessions, err := r.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestRegister_AfterUnregisterSucceeds(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	_, err := r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)
	require.NoError(t, r.Unregister(ctx, "s1"))

	rec, err := r.Register(ctx, "s2", "userA", "https://x")
	require.NoError(t, err)
	assert.Equal(t, "s2", rec.SessionID)
	assert.True(t, rec.Active)
}

func TestGetExistingSession(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	_, err := r.GetExistingSession(ctx, "userA", "https://x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Register(ctx, "s1", "userA", "https://x")
	require.NoError(t, err)

	rec, err := r.GetExistingSession(ctx, "userA", "https://x")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.SessionID)
}

func TestRegister_ConcurrentSamePair(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	const workers = 16
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			_, err := r.Register(ctx, "s-"+string(rune('a'+n)), "userA", "https://x")
			results <- err
		}(i)
	}

	succeeded := 0
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrActiveExists)
		}
	}
	assert.Equal(t, 1, succeeded)

	sessions, err := r.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
