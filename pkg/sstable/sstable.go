// Package sstable implements one on-disk table of the persistence
// engine: an append-only data file of "key,value\n" lines, a durable
// offset index, and a membership filter that together let a caller
// skip tables that cannot contain a key. Write appends and rewrites
// the index; read probes the filter then seeks to the recorded offset.
package sstable

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"kvcore/pkg/bloom"
	"kvcore/pkg/dberrors"
)

// State is the two-state lifecycle of an SSTable: Active while
// accepting appends, Sealed once rolled or loaded from a previous run.
type State int

const (
	Active State = iota
	Sealed
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "sealed"
}

// SSTable owns one data file, its index sidecar, and the membership
// filter pre-seeded with every key the index has ever held. All public
// methods are safe to call from multiple goroutines, but the core's
// actor discipline means a given table is in practice only ever
// driven by its owning Persistence Manager's worker pool, one
// operation at a time; the mutex here is a defensive backstop, not
// the primary correctness mechanism.
type SSTable struct {
	mu sync.Mutex

	name      string
	dataPath  string
	indexPath string

	index  map[string]int64
	filter *bloom.Filter

	state     State
	createdAt time.Time
}

// New creates a brand-new, empty, Active table backed by dataPath and
// indexPath. It is used both when the manager starts for the first
// time and whenever it rolls to a fresh active table.
func New(name, dataPath, indexPath string, filter *bloom.Filter) (*SSTable, error) {
	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, dberrors.NewIoError("create", dataPath, err)
	}
	info, statErr := f.Stat()
	closeErr := f.Close()
	if statErr != nil {
		return nil, dberrors.NewIoError("stat", dataPath, statErr)
	}
	if closeErr != nil {
		return nil, dberrors.NewIoError("close", dataPath, closeErr)
	}

	return &SSTable{
		name:      name,
		dataPath:  dataPath,
		indexPath: indexPath,
		index:     make(map[string]int64),
		filter:    filter,
		state:     Active,
		createdAt: info.ModTime(),
	}, nil
}

// Recovered constructs a table from state rebuilt during startup
// recovery (see the persistence package): a pre-populated index and
// filter, and the data file's own modification time. Recovered tables
// are always Sealed — recovery always creates a fresh Active table
// alongside them.
func Recovered(name, dataPath, indexPath string, filter *bloom.Filter, index map[string]int64, createdAt time.Time) *SSTable {
	return &SSTable{
		name:      name,
		dataPath:  dataPath,
		indexPath: indexPath,
		index:     index,
		filter:    filter,
		state:     Sealed,
		createdAt: createdAt,
	}
}

// Name returns the table's assigned name, e.g. "sstable_3".
func (s *SSTable) Name() string { return s.name }

// DataPath returns the path of the append-only data file.
func (s *SSTable) DataPath() string { return s.dataPath }

// IndexPath returns the path of the index sidecar file.
func (s *SSTable) IndexPath() string { return s.indexPath }

// CreationTime returns the data file's recorded modification time,
// used to order tables newest-first.
func (s *SSTable) CreationTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// KeyCount returns the number of distinct keys currently indexed.
func (s *SSTable) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// State reports whether the table is still accepting appends.
func (s *SSTable) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Seal transitions the table to Sealed. It is idempotent.
func (s *SSTable) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Sealed
}

// AllKeys returns the keys currently in the index, in unspecified
// order, for compaction to iterate over.
func (s *SSTable) AllKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	return keys
}

// Write appends "key,value\n" to the data file, updates the in-memory
// index and membership filter, then rewrites the index sidecar in
// full. Rejected with a ProgrammerError on a Sealed table.
//
// If the append itself fails partway through, the file is truncated
// back to its pre-write length so the table is left externally
// unchanged. If only the index-sidecar rewrite fails, the data file
// and in-memory index/filter are already consistent with each other —
// the on-disk sidecar is merely stale, and a subsequent startup
// recovery rebuilds it from the data file (invariant 3) — so Write
// still reports that failure to the caller for visibility even though
// the table remains internally correct.
func (s *SSTable) Write(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Sealed {
		return &dberrors.ProgrammerError{Msg: fmt.Sprintf("write to sealed table %s", s.name)}
	}

	f, err := os.OpenFile(s.dataPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return dberrors.NewIoError("open", s.dataPath, err)
	}
	defer f.Close()

	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return dberrors.NewIoError("seek", s.dataPath, err)
	}

	line := make([]byte, 0, len(key)+len(value)+2)
	line = append(line, key...)
	line = append(line, ',')
	line = append(line, value...)
	line = append(line, '\n')

	n, writeErr := f.Write(line)
	if writeErr != nil {
		if n > 0 {
			_ = f.Truncate(off)
		}
		return dberrors.NewIoError("write", s.dataPath, writeErr)
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(off)
		return dberrors.NewIoError("sync", s.dataPath, err)
	}

	s.index[string(key)] = off
	s.filter.Add(key)

	if err := s.rewriteIndexLocked(); err != nil {
		return err
	}
	return nil
}

// Read returns (value, true, nil) if key is present in this table,
// (nil, false, nil) if it is absent (including the filter's no-false-
// negative-guaranteed skip), and (nil, false, err) on an I/O failure.
// An index entry whose line key does not match the requested key
// (IndexMismatch, a stale-index condition) is treated as a soft miss
// rather than an error: it is logged here, at the point of detection,
// and reported to the caller as a plain not-found.
func (s *SSTable) Read(key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filter.MightContain(key) {
		return nil, false, nil
	}
	off, ok := s.index[string(key)]
	if !ok {
		return nil, false, nil
	}

	f, err := os.Open(s.dataPath)
	if err != nil {
		return nil, false, dberrors.NewIoError("open", s.dataPath, err)
	}
	defer f.Close()

	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return nil, false, dberrors.NewIoError("seek", s.dataPath, err)
	}

	reader := bufio.NewReader(f)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, false, dberrors.NewIoError("read", s.dataPath, err)
	}
	line = strings.TrimSuffix(line, "\n")

	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 || parts[0] != string(key) {
		slog.Warn("index mismatch on sstable read", "table", s.name, "key", string(key), "offset", off)
		return nil, false, nil
	}
	return []byte(parts[1]), true, nil
}

// Delete removes both the data file and the index sidecar. Used only
// by compaction, once every surviving key has been copied elsewhere.
func (s *SSTable) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.dataPath); err != nil && !os.IsNotExist(err) {
		return dberrors.NewIoError("remove", s.dataPath, err)
	}
	if err := os.Remove(s.indexPath); err != nil && !os.IsNotExist(err) {
		return dberrors.NewIoError("remove", s.indexPath, err)
	}
	return nil
}

// rewriteIndexLocked rewrites the index sidecar in full: write to a
// temp file, flush, then rename over the sidecar so a crash never
// leaves a half-written index file — though since the sidecar is only
// advisory (recovery always rebuilds from the data file), this is
// belt-and-suspenders rather than a durability requirement.
func (s *SSTable) rewriteIndexLocked() error {
	tmpPath := s.indexPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return dberrors.NewIoError("create", tmpPath, err)
	}

	w := bufio.NewWriter(f)
	for k, off := range s.index {
		if _, err := fmt.Fprintf(w, "%s,%d\n", k, off); err != nil {
			f.Close()
			return dberrors.NewIoError("write", tmpPath, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return dberrors.NewIoError("flush", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return dberrors.NewIoError("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.indexPath); err != nil {
		return dberrors.NewIoError("rename", s.indexPath, err)
	}
	return nil
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return &dberrors.InvalidKey{Reason: "key must be non-empty"}
	}
	if bytesContain(key, ',') {
		return &dberrors.InvalidKey{Reason: "key must not contain a comma"}
	}
	if bytesContain(key, '\n') {
		return &dberrors.InvalidKey{Reason: "key must not contain a newline"}
	}
	return nil
}

func validateValue(value []byte) error {
	if bytesContain(value, '\n') {
		return &dberrors.InvalidValue{Reason: "value must not contain a newline"}
	}
	return nil
}

func bytesContain(b []byte, c byte) bool {
	for _, x := range b {
		if x == c {
			return true
		}
	}
	return false
}
