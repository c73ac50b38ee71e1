// Package wal implements the write-ahead log of a database: an append-only
// JSON Lines file where each line records one state change of a
// transaction.
package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// MaxRecordSize bounds a single encoded log line, which carries a
// transaction's full operation list. Append rejects larger records.
var MaxRecordSize = 64 << 20

// WAL is an append-only transaction log.
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open opens or creates the log at path. A torn trailing line left by a
// crash mid-append is cut off so new records start on a fresh line.
func Open(path string) (*WAL, error) {
	if err := repairTail(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, util.FileError("open wal", path, err)
	}
	return &WAL{path: path, file: file}, nil
}

// Path returns the log file path.
func (w *WAL) Path() string {
	return w.path
}

// Append writes rec as one line and syncs it to disk before returning.
func (w *WAL) Append(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to encode wal record: %w", util.ErrSerialization, err)
	}
	if len(data) > MaxRecordSize {
		return fmt.Errorf("%w: wal record of %d bytes exceeds the %d byte limit", util.ErrInvalidArgument, len(data), MaxRecordSize)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("%w: wal is closed", util.ErrDatabaseClosed)
	}
	if _, err := w.file.Write(data); err != nil {
		return util.FileError("append to wal", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return util.FileError("sync wal", w.path, err)
	}
	return nil
}

// ReadAll returns every record in log order. An unparsable last line is a
// torn write and is ignored; an unparsable line anywhere else is corruption.
func (w *WAL) ReadAll() ([]*Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return readRecords(w.path)
}

// Pending returns the pending records of transactions that never reached
// a terminal line, in log order.
func (w *WAL) Pending() ([]*Record, error) {
	records, err := w.ReadAll()
	if err != nil {
		return nil, err
	}
	return filterPending(records), nil
}

// Close closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func readRecords(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, util.FileError("open wal", path, err)
	}
	defer f.Close()

	// lines are read without a size cap so a log written before a limit
	// change still replays
	var lines [][]byte
	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadBytes('\n')
		if line := bytes.TrimSpace(raw); len(line) > 0 {
			lines = append(lines, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, util.FileError("read wal", path, err)
		}
	}

	records := make([]*Record, 0, len(lines))
	for i, line := range lines {
		rec := &Record{}
		if err := json.Unmarshal(line, rec); err != nil {
			if i == len(lines)-1 {
				break
			}
			return nil, fmt.Errorf("%w: wal line %d: %w", util.ErrSerialization, i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// filterPending keeps the pending records whose transaction has no
// committed or rolled_back line.
func filterPending(records []*Record) []*Record {
	finished := make(map[string]bool)
	for _, rec := range records {
		if rec.Status.Terminal() {
			finished[rec.TxID] = true
		}
	}
	var pending []*Record
	for _, rec := range records {
		if rec.Status == StatusPending && !finished[rec.TxID] {
			pending = append(pending, rec)
		}
	}
	return pending
}

// repairTail truncates the file after its last newline.
func repairTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return util.FileError("open wal", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return util.FileError("stat wal", path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return util.FileError("read wal", path, err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			cut := start + int64(i) + 1
			if cut == size {
				return nil
			}
			return truncate(f, path, cut)
		}
		end = start
	}
	return truncate(f, path, 0)
}

func truncate(f *os.File, path string, size int64) error {
	if err := f.Truncate(size); err != nil {
		return util.FileError("truncate wal", path, err)
	}
	if err := f.Sync(); err != nil {
		return util.FileError("sync wal", path, err)
	}
	return nil
}
