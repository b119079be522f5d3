package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"kvcore/pkg/persistence"
)

func newManager(t *testing.T, cfg persistence.Config) *persistence.Manager {
	t.Helper()
	if cfg.Directory == "" {
		cfg.Directory = t.TempDir()
	}
	m, err := persistence.New(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestPutThenGetRoundTrip(t *testing.T) {
	m := newManager(t, persistence.Config{})
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "k1", "v1"))
	value, found, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", value)
}

func TestGetMissingKey(t *testing.T) {
	m := newManager(t, persistence.Config{})
	ctx := context.Background()

	_, found, err := m.Get(ctx, "nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLastWriterWinsAcrossPuts(t *testing.T) {
	m := newManager(t, persistence.Config{})
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "k", "v1"))
	require.NoError(t, m.Put(ctx, "k", "v2"))
	require.NoError(t, m.Put(ctx, "k", "v3"))

	value, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v3", value)
}

func TestSealsActiveTableAtThreshold(t *testing.T) {
	m := newManager(t, persistence.Config{MaxKeysPerTable: 2, CompactionThreshold: 1000})
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "a", "1"))
	require.NoError(t, m.Put(ctx, "b", "2"))
	require.NoError(t, m.Put(ctx, "c", "3"))

	stats := m.Stats()
	require.GreaterOrEqual(t, stats.TableCount, 2)

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		value, found, err := m.Get(ctx, kv[0])
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, kv[1], value)
	}
}

func TestCompactsAfterThreeSealedTables(t *testing.T) {
	m := newManager(t, persistence.Config{MaxKeysPerTable: 1, CompactionThreshold: 3})
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, m.Put(ctx, key, string(rune('0'+i))))
	}

	stats := m.Stats()
	require.Greater(t, stats.CompactionCount, uint64(0))

	for i, key := range []string{"a", "b", "c", "d", "e"} {
		value, found, err := m.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, found, "key %q should survive compaction", key)
		require.Equal(t, string(rune('0'+i)), value)
	}
}

func TestCompactionKeepsNewestValueForOverlappingKey(t *testing.T) {
	m := newManager(t, persistence.Config{MaxKeysPerTable: 1, CompactionThreshold: 3})
	ctx := context.Background()

	// "dup" lands in two of the three tables the next seal will compact,
	// with "other" sandwiched between them so compaction has to resolve
	// the overlap rather than merely concatenate disjoint keys.
	require.NoError(t, m.Put(ctx, "dup", "v1"))
	require.NoError(t, m.Put(ctx, "other", "x"))
	require.NoError(t, m.Put(ctx, "dup", "v2"))

	stats := m.Stats()
	require.Greater(t, stats.CompactionCount, uint64(0))

	value, found, err := m.Get(ctx, "dup")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2", value, "compaction must keep the newer of two overlapping-key writes")

	value, found, err = m.Get(ctx, "other")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "x", value)
}

func TestRecoveryRebuildsTablesFromDataFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := persistence.Config{Directory: dir, MaxKeysPerTable: 2}

	m1, err := persistence.New(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m1.Put(ctx, "x", "1"))
	require.NoError(t, m1.Put(ctx, "y", "2"))
	require.NoError(t, m1.Put(ctx, "z", "3"))
	m1.Close()

	m2, err := persistence.New(cfg)
	require.NoError(t, err)
	t.Cleanup(m2.Close)

	for _, kv := range [][2]string{{"x", "1"}, {"y", "2"}, {"z", "3"}} {
		value, found, err := m2.Get(ctx, kv[0])
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, kv[1], value)
	}
}

func TestRejectsInvalidKey(t *testing.T) {
	m := newManager(t, persistence.Config{})
	ctx := context.Background()

	err := m.Put(ctx, "bad,key", "v")
	require.Error(t, err)
}

func TestGetReturnsNewestValueAcrossSealedTable(t *testing.T) {
	m := newManager(t, persistence.Config{MaxKeysPerTable: 1, CompactionThreshold: 1000})
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "k", "old")) // seals its table once written
	require.NoError(t, m.Put(ctx, "k", "new")) // lands in the fresh active table

	value, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "new", value, "newest-first probe order must prefer the newer table's copy")

	stats := m.Stats()
	require.Equal(t, 2, stats.TotalKeys,
		"the sealed table's stale copy must survive untouched, not be overwritten in place")
}
