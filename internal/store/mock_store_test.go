// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Runs shared scenarios against both implementations

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bothStores runs fn against a SQLiteStore and a MockStore sharing one clock.
func bothStores(t *testing.T, fn func(t *testing.T, s Store, clock *testClock)) {
	t.Run("sqlite", func(t *testing.T) {
		clock := newTestClock(0)
		fn(t, newTestStore(t, WithClock(clock.Now)), clock)
	})
	t.Run("mock", func(t *testing.T) {
		clock := newTestClock(0)
		m := NewMockStore()
		m.SetClock(clock.Now)
		fn(t, m, clock)
	})
}

func TestStores_ListingParity(t *testing.T) {
	bothStores(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		for _, u := range []struct {
			id string
			at int64
		}{{"a", 100}, {"b", 200}, {"c", 300}, {"d", 200}} {
			clock.Set(u.at)
			require.NoError(t, s.UpsertUser(ctx, &User{ID: u.id}))
		}

		ids, err := s.ListUserIDs(ctx, 3, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "d"}, ids)

		ids, err = s.ListUserIDs(ctx, 3, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids)
	})
}

func TestStores_CleanupParity(t *testing.T) {
	bothStores(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.SetSession(ctx, "old", "{}", millis(10)))
		require.NoError(t, s.SetSession(ctx, "keep", "{}", nil))
		require.NoError(t, s.SetCompletion(ctx, "old", millis(10)))
		require.NoError(t, s.SetCompletion(ctx, "edge", millis(20)))

		res, err := s.CleanupExpired(ctx, time.UnixMilli(20))
		require.NoError(t, err)
		assert.Equal(t, CleanupResult{Sessions: 1, Completions: 1}, res)

		_, err = s.GetCompletion(ctx, "edge")
		assert.NoError(t, err)
		_, err = s.GetSession(ctx, "keep")
		assert.NoError(t, err)
	})
}

func TestStores_PurgeParity(t *testing.T) {
	bothStores(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.UpsertUser(ctx, &User{ID: "1"}))
		require.NoError(t, s.SetSession(ctx, "1", "", nil))
		require.NoError(t, s.SetCompletion(ctx, "2", nil))

		sess, err := s.GetSession(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "{}", sess.Data)

		res, err := s.PurgeAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, PurgeResult{Users: 1, Sessions: 1, Completions: 1}, res)

		n, err := s.CountUsers(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	expires := time.UnixMilli(100)
	require.NoError(t, m.SetSession(ctx, "1", "{}", &expires))
	expires = time.UnixMilli(999)

	got, err := m.GetSession(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ExpiresAt.UnixMilli(), "caller's pointer must not alias stored value")

	*got.ExpiresAt = time.UnixMilli(5)
	again, err := m.GetSession(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.ExpiresAt.UnixMilli())
}

func TestMockStore_InjectedError(t *testing.T) {
	m := NewMockStore()
	m.Err = errors.New("disk on fire")

	_, err := m.GetUser(context.Background(), "1")
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "disk on fire")

	users, sessions, completions := m.Counts()
	assert.Zero(t, users+sessions+completions)
}
