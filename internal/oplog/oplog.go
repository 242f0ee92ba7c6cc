// Package oplog implements the append-only crash-recovery log described
// in §4.F: one line per mutation, "U <internal_id>" for an upsert or
// "D <internal_id>" for a delete, fsynced on every append and truncated
// only after a successful snapshot rename.
package oplog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Op is the single-character operation tag recorded in each line.
type Op byte

const (
	OpUpsert Op = 'U'
	OpDelete Op = 'D'
)

// Entry is one parsed oplog line.
type Entry struct {
	Op Op
	ID int32
}

// Log is an append-only, fsync-on-write text log.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	closed bool
}

// Open opens (creating if necessary) the oplog at path in append mode.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	return &Log{file: f, writer: bufio.NewWriter(f), path: path}, nil
}

// Append writes one line and fsyncs before returning, per §4.F step 7.
func (l *Log) Append(op Op, id int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("oplog: append to closed log %s", l.path)
	}
	if _, err := fmt.Fprintf(l.writer, "%c %d\n", op, id); err != nil {
		return fmt.Errorf("oplog: write: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("oplog: flush: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("oplog: fsync: %w", err)
	}
	return nil
}

// AppendUnique appends one "U <id>" line per unique id in order, per
// §4.F step 7's "one U line per unique id".
func (l *Log) AppendUnique(ids []int32) error {
	seen := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if err := l.Append(OpUpsert, id); err != nil {
			return err
		}
	}
	return nil
}

// Replay reads every line written so far and returns the parsed entries
// in file order. Malformed lines are silently skipped rather than treated
// as corruption, wherever they occur; the expected case is a partial
// write from a crash mid-append, which in an append-only log can only
// affect the last line.
func Replay(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s for replay: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 || len(fields[0]) != 1 {
			continue
		}
		id, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Op: Op(fields[0][0]), ID: int32(id)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("oplog: scan %s: %w", path, err)
	}
	return entries, nil
}

// Truncate empties the log file in place, called only after a successful
// snapshot rename per §4.F.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("oplog: flush before truncate: %w", err)
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("oplog: truncate: %w", err)
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return fmt.Errorf("oplog: seek after truncate: %w", err)
	}
	l.writer = bufio.NewWriter(l.file)
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("oplog: flush on close: %w", err)
	}
	return l.file.Close()
}
