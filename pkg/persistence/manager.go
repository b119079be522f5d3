// Package persistence implements the Persistence Manager: the actor
// that owns the ordered list of SSTables, routes writes to the active
// table, searches sealed tables newest-first on read, and triggers
// rolling and compaction. It follows the single-goroutine-per-
// component actor style used throughout this codebase: one mailbox
// channel, one owning goroutine, no shared mutable state.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"kvcore/pkg/bloom"
	"kvcore/pkg/dberrors"
	"kvcore/pkg/sstable"
)

// Config configures a Manager instance.
type Config struct {
	// Directory holds every table's data and index files.
	Directory string
	// FilterSize is the membership filter's bit-vector length M.
	FilterSize uint32
	// FilterHashCount is the membership filter's probe count K.
	FilterHashCount int
	// MaxKeysPerTable is the key-count threshold that triggers a seal.
	MaxKeysPerTable int
	// CompactionThreshold is the table-count threshold (including the
	// active table) that triggers merging the three oldest sealed
	// tables. The spec calls this T, defaulting to 3.
	CompactionThreshold int
	// Workers bounds how many blocking SSTable operations may run
	// concurrently on behalf of this manager.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.FilterSize == 0 {
		c.FilterSize = 4096
	}
	if c.FilterHashCount == 0 {
		c.FilterHashCount = 4
	}
	if c.MaxKeysPerTable == 0 {
		c.MaxKeysPerTable = 1000
	}
	if c.CompactionThreshold == 0 {
		c.CompactionThreshold = 3
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	return c
}

type opKind int

const (
	opPut opKind = iota
	opGet
	opStats
)

type request struct {
	kind  opKind
	key   []byte
	value []byte
	reply chan result
}

type result struct {
	value []byte
	found bool
	stats Stats
	err   error
}

// Stats summarizes a manager's current table set, for /metrics.
type Stats struct {
	TableCount      int
	ActiveKeyCount  int
	TotalKeys       int
	CompactionCount uint64
}

// Manager is the single-threaded actor owning every SSTable under one
// data directory. Exactly one Manager should ever run against a given
// directory; running two against the same directory is undefined.
type Manager struct {
	ID uuid.UUID

	dir                 string
	filterSize          uint32
	filterHashCount     int
	maxKeysPerTable     int
	compactionThreshold int

	workers *workerPool
	mailbox chan request
	done    chan struct{}

	// Actor-owned state below; touched only by the run loop goroutine.
	tables          []*sstable.SSTable
	active          *sstable.SSTable
	counter         uint64
	compactionCount uint64
}

// New creates a Manager rooted at cfg.Directory, recovering any
// existing tables and starting a fresh Active table, then starts its
// mailbox goroutine.
func New(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.Directory == "" {
		return nil, &dberrors.ProgrammerError{Msg: "persistence.Config.Directory must not be empty"}
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, dberrors.NewIoError("mkdir", cfg.Directory, err)
	}

	tables, maxCounter, err := recoverTables(cfg.Directory, cfg.FilterSize, cfg.FilterHashCount)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		ID:                  uuid.New(),
		dir:                 cfg.Directory,
		filterSize:          cfg.FilterSize,
		filterHashCount:     cfg.FilterHashCount,
		maxKeysPerTable:     cfg.MaxKeysPerTable,
		compactionThreshold: cfg.CompactionThreshold,
		workers:             newWorkerPool(cfg.Workers),
		mailbox:             make(chan request, 64),
		done:                make(chan struct{}),
		tables:              tables,
		counter:             maxCounter,
	}

	active, err := m.createTable()
	if err != nil {
		return nil, err
	}
	m.tables = append(m.tables, active)
	m.active = active

	slog.Info("persistence manager recovered", "instance", m.ID, "directory", cfg.Directory,
		"recovered_tables", len(tables), "active_table", active.Name())

	go m.run()
	return m, nil
}

// Close stops the manager's mailbox goroutine. In-flight requests
// complete; no new requests are accepted afterward.
func (m *Manager) Close() {
	close(m.mailbox)
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	for req := range m.mailbox {
		switch req.kind {
		case opPut:
			m.handlePut(req)
		case opGet:
			m.handleGet(req)
		case opStats:
			m.handleStats(req)
		}
	}
}

// Put appends (key, value) to the active table. It blocks until the
// append has been acknowledged or ctx is canceled. If the append brings
// the active table to the threshold, the seal, roll and any compaction
// run in the same mailbox turn right after the reply is sent, so the
// caller does not wait for them but the next queued request sees them.
func (m *Manager) Put(ctx context.Context, key, value string) error {
	reply := make(chan result, 1)
	req := request{kind: opPut, key: []byte(key), value: []byte(value), reply: reply}

	select {
	case m.mailbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case res := <-reply:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get probes every table newest-first, returning the first value
// found. It blocks until the mailbox has processed the request or ctx
// is canceled.
func (m *Manager) Get(ctx context.Context, key string) (string, bool, error) {
	reply := make(chan result, 1)
	req := request{kind: opGet, key: []byte(key), reply: reply}

	select {
	case m.mailbox <- req:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return "", false, res.err
		}
		return string(res.value), res.found, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Stats reports the manager's current table-set summary.
func (m *Manager) Stats() Stats {
	reply := make(chan result, 1)
	m.mailbox <- request{kind: opStats, reply: reply}
	res := <-reply
	return res.stats
}

func (m *Manager) handlePut(req request) {
	err := m.workers.Do(func() error {
		return m.active.Write(req.key, req.value)
	})
	if err != nil {
		req.reply <- result{err: err}
		return
	}
	req.reply <- result{}

	// Sealing happens synchronously, in this same actor turn, rather
	// than via a self-enqueued mailbox message: any Put already queued
	// behind this one must not be allowed to land on an active table
	// that is already at (or over) the threshold, which a deferred
	// self-message could permit if other Puts were queued ahead of it.
	if m.active.KeyCount() >= m.maxKeysPerTable {
		m.seal()
	}
}

func (m *Manager) handleGet(req request) {
	for i := len(m.tables) - 1; i >= 0; i-- {
		t := m.tables[i]
		var (
			value []byte
			found bool
		)
		err := m.workers.Do(func() error {
			v, ok, readErr := t.Read(req.key)
			value, found = v, ok
			return readErr
		})
		if err != nil {
			req.reply <- result{err: err}
			return
		}
		if found {
			req.reply <- result{value: value, found: true}
			return
		}
	}
	req.reply <- result{found: false}
}

func (m *Manager) handleStats(req request) {
	stats := Stats{
		TableCount:      len(m.tables),
		CompactionCount: m.compactionCount,
	}
	for _, t := range m.tables {
		n := t.KeyCount()
		stats.TotalKeys += n
		if t == m.active {
			stats.ActiveKeyCount = n
		}
	}
	req.reply <- result{stats: stats}
}

// seal finalizes the active table, creates a fresh one, and evaluates
// compaction.
func (m *Manager) seal() {
	m.active.Seal()
	slog.Info("sealed sstable", "table", m.active.Name(), "keys", m.active.KeyCount())

	fresh, err := m.createTable()
	if err != nil {
		slog.Error("failed to create new active table after seal", "error", err)
		return
	}
	m.tables = append(m.tables, fresh)
	m.active = fresh

	m.maybeCompact()
}

// maybeCompact merges the three oldest sealed tables into one when
// the manager's table count (including the new active table) exceeds
// CompactionThreshold.
func (m *Manager) maybeCompact() {
	if len(m.tables) <= m.compactionThreshold {
		return
	}

	sealed := make([]*sstable.SSTable, 0, len(m.tables))
	for _, t := range m.tables {
		if t.State() == sstable.Sealed {
			sealed = append(sealed, t)
		}
	}
	if len(sealed) < 3 {
		return
	}

	sort.SliceStable(sealed, func(i, j int) bool {
		ti, tj := sealed[i].CreationTime(), sealed[j].CreationTime()
		if ti.Equal(tj) {
			return tableNameLess(sealed[i].Name(), sealed[j].Name())
		}
		return ti.Before(tj)
	})
	oldest := sealed[:3]

	merged, err := m.compact(oldest)
	if err != nil {
		slog.Error("compaction failed", "error", err)
		return
	}

	m.tables = replaceTables(m.tables, oldest, merged)
	m.compactionCount++
	slog.Info("compacted sstables", "merged_table", merged.Name(),
		"sources", tableNames(oldest), "total_tables", len(m.tables))
}

// compact merges source tables (oldest first) into a fresh sealed
// table, later writes overwriting earlier ones for the same key, then
// deletes the sources.
func (m *Manager) compact(sources []*sstable.SSTable) (*sstable.SSTable, error) {
	merged, err := m.createTable()
	if err != nil {
		return nil, err
	}

	for _, src := range sources {
		for _, key := range src.AllKeys() {
			var (
				value []byte
				ok    bool
			)
			readErr := m.workers.Do(func() error {
				var err error
				value, ok, err = src.Read([]byte(key))
				return err
			})
			if readErr != nil {
				return nil, readErr
			}
			if !ok {
				continue
			}
			if writeErr := m.workers.Do(func() error { return merged.Write([]byte(key), value) }); writeErr != nil {
				return nil, writeErr
			}
		}
	}

	for _, src := range sources {
		if err := m.workers.Do(src.Delete); err != nil {
			return nil, err
		}
	}

	merged.Seal()
	return merged, nil
}

// createTable allocates the next "sstable_<N>" name and constructs a
// fresh Active table for it.
func (m *Manager) createTable() (*sstable.SSTable, error) {
	m.counter++
	name := tableName(m.counter)
	dataPath := filepath.Join(m.dir, name+".sst")
	indexPath := filepath.Join(m.dir, name+".index")
	return sstable.New(name, dataPath, indexPath, bloom.New(m.filterSize, m.filterHashCount))
}

func replaceTables(tables []*sstable.SSTable, remove []*sstable.SSTable, add *sstable.SSTable) []*sstable.SSTable {
	removeSet := make(map[*sstable.SSTable]bool, len(remove))
	for _, t := range remove {
		removeSet[t] = true
	}

	kept := make([]*sstable.SSTable, 0, len(tables)-len(remove)+1)
	for _, t := range tables {
		if !removeSet[t] {
			kept = append(kept, t)
		}
	}
	kept = append(kept, add)

	sort.SliceStable(kept, func(i, j int) bool {
		ti, tj := kept[i].CreationTime(), kept[j].CreationTime()
		if ti.Equal(tj) {
			return tableNameLess(kept[i].Name(), kept[j].Name())
		}
		return ti.Before(tj)
	})
	return kept
}

func tableNames(tables []*sstable.SSTable) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name()
	}
	return fmt.Sprint(names)
}
