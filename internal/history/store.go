// Package history implements the append-only journal of conversational
// events described in §4.3: one JSON object per line, single-writer
// discipline, bounded-suffix snapshot reads.
package history

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/victorarias/jelly-j/internal/jellyerr"
	"github.com/victorarias/jelly-j/internal/protocol"
)

// Role is one of the four roles a History Entry may carry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleNote      Role = "note"
	RoleError     Role = "error"
)

const defaultSnapshotLimit = 80

// Store appends to a single JSONL file. Appends come from the goroutine
// the daemon starts for each turn (turns run one at a time), while
// ReadSnapshot runs on the actor goroutine at registration; the mutex
// serializes the two so appends never interleave and a snapshot never
// reads a half-written line.
type Store struct {
	mu   sync.Mutex
	path string
}

func Open(path string) *Store {
	return &Store{path: path}
}

// Append writes one entry to the journal. Entries are immutable once
// written and never rewritten in place.
func (s *Store) Append(role Role, session, text string) error {
	entry := protocol.HistoryEntryView{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Role:      string(role),
		Session:   session,
		Text:      text,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "marshal history entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "open history journal")
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "append history entry")
	}
	return nil
}

// ReadSnapshot returns the last limit entries in original order. A
// missing file yields an empty list; malformed lines are silently
// skipped rather than aborting the read (§4.3).
func (s *Store) ReadSnapshot(limit int) ([]protocol.HistoryEntryView, error) {
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []protocol.HistoryEntryView{}, nil
		}
		return nil, jellyerr.Wrap(err, jellyerr.IO, "open history journal")
	}
	defer f.Close()

	// Ring buffer over all valid lines; we don't know the file length in
	// lines up front, so we accumulate and keep only the suffix.
	ring := make([]protocol.HistoryEntryView, 0, limit)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	for scanner.Scan() {
		var entry protocol.HistoryEntryView
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		ring = append(ring, entry)
		if len(ring) > limit {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, jellyerr.Wrap(err, jellyerr.IO, "scan history journal")
	}

	return ring, nil
}
