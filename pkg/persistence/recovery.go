package persistence

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kvcore/pkg/bloom"
	"kvcore/pkg/dberrors"
	"kvcore/pkg/sstable"
)

// recoverTables scans dir for "*.sst" files and rebuilds each one's
// index and membership filter by streaming its data file: any on-disk
// .index sidecar is discarded in favor of this rebuild, since the data
// file is the only source of truth after a crash. Recovered tables
// come back Sealed and ordered by creation_time ascending (ties broken
// by name); maxCounter is the highest "sstable_<N>"
// counter observed, so the caller can resume numbering past it.
func recoverTables(dir string, filterSize uint32, filterHashes int) (tables []*sstable.SSTable, maxCounter uint64, err error) {
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		return nil, 0, dberrors.NewIoError("readdir", dir, readErr)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sst") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".sst")
		if n, ok := parseTableCounter(name); ok && n > maxCounter {
			maxCounter = n
		}

		dataPath := filepath.Join(dir, entry.Name())
		indexPath := filepath.Join(dir, name+".index")

		index, filter, rebuildErr := rebuildIndex(dataPath, filterSize, filterHashes)
		if rebuildErr != nil {
			return nil, 0, rebuildErr
		}
		info, statErr := os.Stat(dataPath)
		if statErr != nil {
			return nil, 0, dberrors.NewIoError("stat", dataPath, statErr)
		}

		tables = append(tables, sstable.Recovered(name, dataPath, indexPath, filter, index, info.ModTime()))
	}

	sort.SliceStable(tables, func(i, j int) bool {
		ti, tj := tables[i].CreationTime(), tables[j].CreationTime()
		if ti.Equal(tj) {
			return tableNameLess(tables[i].Name(), tables[j].Name())
		}
		return ti.Before(tj)
	})

	return tables, maxCounter, nil
}

// rebuildIndex streams a data file line by line, recording the offset
// of the *last* occurrence of each key and re-seeding a fresh
// membership filter with every key encountered. A line that cannot be
// parsed (no comma, or a partial line left by a crash mid-write) is a
// MalformedEntry: logged and skipped, recovery continues.
func rebuildIndex(path string, filterSize uint32, filterHashes int) (map[string]int64, *bloom.Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, dberrors.NewIoError("open", path, err)
	}
	defer f.Close()

	index := make(map[string]int64)
	filter := bloom.New(filterSize, filterHashes)

	reader := bufio.NewReader(f)
	var offset int64
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, nil, dberrors.NewIoError("read", path, readErr)
		}

		complete := strings.HasSuffix(line, "\n")
		lineLen := int64(len(line))

		if !complete {
			// Either EOF with no trailing newline (a partial line left
			// by a crash mid-append) or a genuinely empty read at EOF.
			// Neither contributes an entry.
			if line != "" {
				slog.Warn("skipping incomplete trailing sstable entry during recovery", "path", path, "offset", offset)
			}
			break
		}

		content := strings.TrimSuffix(line, "\n")
		parts := strings.SplitN(content, ",", 2)
		if len(parts) != 2 || parts[0] == "" {
			slog.Warn("skipping malformed sstable entry during recovery", "path", path, "offset", offset)
			offset += lineLen
			continue
		}

		index[parts[0]] = offset
		filter.Add([]byte(parts[0]))
		offset += lineLen

		if readErr == io.EOF {
			break
		}
	}

	return index, filter, nil
}
