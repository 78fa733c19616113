package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"vigil/internal/audit"
)

// Journal is the local fallback sink: an append-only JSONL file that
// accepts events when the primary store is unavailable. Writes are synced
// per event; losing an in-flight event to a crash would defeat its point.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenJournal opens (or creates) the journal file in append mode.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open fallback journal: %w", err)
	}
	return &Journal{path: path, file: f}, nil
}

// Write appends one event as a JSON line and syncs.
func (j *Journal) Write(_ context.Context, ev audit.Event) error {
	line, err := json.Marshal(ev.Record())
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Drain replays every journaled event through apply, oldest first, and
// truncates the journal once all of them land. Writes are blocked for the
// duration so a concurrent fallback write cannot be lost to the truncate.
// A failed apply leaves the journal intact for the next attempt.
func (j *Journal) Drain(ctx context.Context, apply func(context.Context, audit.Event) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	events, err := ReadJournal(j.path)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		if err := apply(ctx, ev); err != nil {
			return fmt.Errorf("replay journal entry %s: %w", ev.ID, err)
		}
	}
	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate drained journal: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// ReadJournal loads all events from a journal file, for replay into the
// primary store once it recovers.
func ReadJournal(path string) ([]audit.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal for replay: %w", err)
	}
	defer f.Close()

	var events []audit.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		ev, err := rec.Event()
		if err != nil {
			return nil, fmt.Errorf("restore journal entry: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return events, nil
}
