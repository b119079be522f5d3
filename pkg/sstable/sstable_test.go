package sstable_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kvcore/pkg/bloom"
	"kvcore/pkg/dberrors"
	"kvcore/pkg/sstable"
)

func newTestTable(t *testing.T, name string) *sstable.SSTable {
	t.Helper()
	dir := t.TempDir()
	tbl, err := sstable.New(name, filepath.Join(dir, name+".sst"), filepath.Join(dir, name+".index"), bloom.New(2048, 4))
	require.NoError(t, err)
	return tbl
}

func TestWriteReadRoundTrip(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")

	require.NoError(t, tbl.Write([]byte("a"), []byte("1")))
	require.NoError(t, tbl.Write([]byte("b"), []byte("2")))

	v, ok, err := tbl.Read([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	v, ok, err = tbl.Read([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))
}

func TestReadMissingKey(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")
	require.NoError(t, tbl.Write([]byte("a"), []byte("1")))

	_, ok, err := tbl.Read([]byte("nope"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLastWriterWinsWithinTable(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")
	require.NoError(t, tbl.Write([]byte("a"), []byte("1")))
	require.NoError(t, tbl.Write([]byte("a"), []byte("2")))

	v, ok, err := tbl.Read([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))
	require.Equal(t, 1, tbl.KeyCount())
}

func TestValueMayContainCommas(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")
	require.NoError(t, tbl.Write([]byte("a"), []byte("x,y,z")))

	v, ok, err := tbl.Read([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x,y,z", string(v))
}

func TestWriteRejectsInvalidKey(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")

	err := tbl.Write([]byte(""), []byte("v"))
	require.Error(t, err)
	var invalidKey *dberrors.InvalidKey
	require.ErrorAs(t, err, &invalidKey)

	err = tbl.Write([]byte("has,comma"), []byte("v"))
	require.Error(t, err)
	require.ErrorAs(t, err, &invalidKey)
}

func TestWriteRejectsSealedTable(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")
	tbl.Seal()

	err := tbl.Write([]byte("a"), []byte("1"))
	require.Error(t, err)
	var progErr *dberrors.ProgrammerError
	require.ErrorAs(t, err, &progErr)
}

func TestFilterNoFalseNegatives(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")
	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, tbl.Write([]byte(k), []byte("v")))
	}
	for _, k := range keys {
		_, ok, err := tbl.Read([]byte(k))
		require.NoError(t, err)
		require.True(t, ok, "key %q must be found", k)
	}
}

func TestDeleteRemovesFiles(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")
	require.NoError(t, tbl.Write([]byte("a"), []byte("1")))
	require.NoError(t, tbl.Delete())

	_, ok, err := tbl.Read([]byte("a"))
	require.Error(t, err)
	require.False(t, ok)
}

func TestAllKeys(t *testing.T) {
	tbl := newTestTable(t, "sstable_1")
	require.NoError(t, tbl.Write([]byte("a"), []byte("1")))
	require.NoError(t, tbl.Write([]byte("b"), []byte("2")))

	keys := tbl.AllKeys()
	require.ElementsMatch(t, []string{"a", "b"}, keys)
}
