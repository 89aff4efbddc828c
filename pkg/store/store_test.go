package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelter-engine/pkg/mapping/mappingtest"
	"shelter-engine/pkg/store"
)

var cooler = store.UnitRef{SiteID: "c0101", DeviceID: "d0101", UnitID: "u001", DeviceType: "cooler"}

func backends(t *testing.T) map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store {
			return store.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "engine.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStoreBackends(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("SeedOnlyWhenEmpty", func(t *testing.T) { testSeed(t, open(t)) })
			t.Run("Fields", func(t *testing.T) { testFields(t, open(t)) })
			t.Run("Status", func(t *testing.T) { testStatus(t, open(t)) })
			t.Run("CommandLog", func(t *testing.T) { testCommandLog(t, open(t)) })
			t.Run("FinalizeOnce", func(t *testing.T) { testFinalizeOnce(t, open(t)) })
		})
	}
}

func testSeed(t *testing.T, s store.Store) {
	ctx := context.Background()
	table := mappingtest.Table(t)

	n, err := store.Seed(ctx, s, table)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	units, err := s.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 4)
	assert.Contains(t, units, cooler)
	assert.Contains(t, units, store.UnitRef{SiteID: "c0101", DeviceID: "d0101", UnitID: "door1", DeviceType: "door"})

	n, err = store.Seed(ctx, s, table)
	require.NoError(t, err)
	assert.Zero(t, n, "seeding a populated catalog must be a no-op")
}

func testFields(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertUnit(ctx, cooler))

	_, ok, err := s.GetField(ctx, cooler, "cur_temp")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetField(ctx, cooler, "cur_temp", 22.5))
	require.NoError(t, s.SetField(ctx, cooler, "power", true))
	require.NoError(t, s.SetField(ctx, cooler, "start_time_1", "07:30"))

	v, ok, err := s.GetField(ctx, cooler, "cur_temp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 22.5, v, 1e-9)

	// A single-field update must leave the others alone
	require.NoError(t, s.SetField(ctx, cooler, "cur_temp", 23.0))

	u, err := s.GetUnit(ctx, cooler)
	require.NoError(t, err)
	assert.Equal(t, "cooler", u.DeviceType)
	assert.Equal(t, true, u.Fields["power"])
	assert.Equal(t, "07:30", u.Fields["start_time_1"])
	assert.InDelta(t, 23.0, u.Fields["cur_temp"], 1e-9)
	assert.False(t, u.UpdatedAt.IsZero())

	_, err = s.GetUnit(ctx, store.UnitRef{SiteID: "x", DeviceID: "y", UnitID: "z"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertUnit(ctx, cooler))

	u, err := s.GetUnit(ctx, cooler)
	require.NoError(t, err)
	assert.Equal(t, store.HealthNormal, u.Status)

	require.NoError(t, s.SetStatus(ctx, cooler, store.HealthError))
	require.NoError(t, s.UpsertUnit(ctx, cooler))

	u, err = s.GetUnit(ctx, cooler)
	require.NoError(t, err)
	assert.Equal(t, store.HealthError, u.Status, "re-registering a unit must keep its status")
}

func testCommandLog(t *testing.T, s store.Store) {
	ctx := context.Background()

	entry := store.LogEntry{ID: "log-1", SiteID: "c0101", DeviceID: "d0101", UnitID: "u001",
		Action: "SET_TARGET_TEMP", Value: "21", Status: store.LogSuccess}
	require.NoError(t, s.Create(ctx, entry))

	got, err := s.Get(ctx, "log-1")
	require.NoError(t, err)
	assert.Equal(t, store.LogWaiting, got.Status, "new entries always start waiting")
	assert.Equal(t, "SET_TARGET_TEMP", got.Action)
	assert.Equal(t, "21", got.Value)
	assert.False(t, got.CreatedAt.IsZero())
	assert.True(t, got.FinishedAt.IsZero())

	assert.ErrorIs(t, s.Create(ctx, entry), store.ErrDuplicate)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Finalize(ctx, "missing", store.LogFail, "", "boom")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Finalize(ctx, "log-1", store.LogWaiting, "", "")
	assert.Error(t, err)
}

func testFinalizeOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, store.LogEntry{ID: "log-2", SiteID: "c0101", UnitID: "u001", Action: "GET_POWER"}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := store.LogSuccess
			if i%2 == 1 {
				status = store.LogFail
			}
			ok, err := s.Finalize(ctx, "log-2", status, "done", "")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := s.Get(ctx, "log-2")
	require.NoError(t, err)
	assert.NotEqual(t, store.LogWaiting, got.Status)
	assert.False(t, got.FinishedAt.IsZero())
}
