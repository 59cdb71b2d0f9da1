package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Entry is a queued intent tagged with the sequence number it was enqueued
// under. Remove uses the sequence to avoid deleting a newer intent that
// replaced this one.
type Entry struct {
	Seq    uint64
	Intent Intent
}

// Options configures a Queue.
type Options struct {
	// Path, when set, persists the queue as a JSON snapshot so pending
	// writes survive a restart. Empty keeps the queue in memory only.
	Path string
	// OnChange is called with the new length after every mutation.
	OnChange func(count int)
	Logger   *slog.Logger
}

// Queue is an ordered list of pending write intents that keeps at most one
// intent per Key. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []Entry
	seq      uint64
	path     string
	onChange func(int)
	logger   *slog.Logger
}

type queueState struct {
	Items []envelope `json:"items"`
}

func New(opts Options) (*Queue, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		path:     strings.TrimSpace(opts.Path),
		onChange: opts.OnChange,
		logger:   logger,
	}
	if q.path != "" {
		if err := q.load(); err != nil {
			return nil, fmt.Errorf("load pending queue: %w", err)
		}
	}
	return q, nil
}

// Enqueue appends i, first removing any intent with the same key so only the
// latest edit survives.
func (q *Queue) Enqueue(i Intent) Entry {
	q.mu.Lock()
	key := i.Key()
	kept := q.items[:0]
	for _, e := range q.items {
		if e.Intent.Key() != key {
			kept = append(kept, e)
		}
	}
	q.items = kept
	q.seq++
	entry := Entry{Seq: q.seq, Intent: i}
	q.items = append(q.items, entry)
	n := len(q.items)
	q.saveLocked()
	q.mu.Unlock()

	q.changed(n)
	return entry
}

// Snapshot returns the queued entries in queue order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.items...)
}

// Remove deletes e if it is still queued. It reports false when e was
// already removed or superseded by a newer intent for the same key.
func (q *Queue) Remove(e Entry) bool {
	q.mu.Lock()
	idx := -1
	for i, item := range q.items {
		if item.Seq == e.Seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	n := len(q.items)
	q.saveLocked()
	q.mu.Unlock()

	q.changed(n)
	return true
}

// Drop removes the intent queued under k, if any.
func (q *Queue) Drop(k Key) bool {
	q.mu.Lock()
	idx := -1
	for i, item := range q.items {
		if item.Intent.Key() == k {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	n := len(q.items)
	q.saveLocked()
	q.mu.Unlock()

	q.changed(n)
	return true
}

// Get returns the intent queued under k.
func (q *Queue) Get(k Key) (Intent, bool) {
	e, ok := q.Lookup(k)
	return e.Intent, ok
}

// Lookup returns the entry currently queued under k, with its sequence.
func (q *Queue) Lookup(k Key) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.Intent.Key() == k {
			return item, true
		}
	}
	return Entry{}, false
}

func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) changed(n int) {
	if q.onChange != nil {
		q.onChange(n)
	}
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var state queueState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	for _, env := range state.Items {
		i, err := env.decode()
		if err != nil {
			q.logger.Warn("skip unreadable pending intent", "error", err)
			continue
		}
		q.seq++
		q.items = append(q.items, Entry{Seq: q.seq, Intent: i})
	}
	return nil
}

// saveLocked writes the snapshot atomically. A failed save is logged and the
// queue keeps working from memory.
func (q *Queue) saveLocked() {
	if q.path == "" {
		return
	}
	state := queueState{Items: make([]envelope, 0, len(q.items))}
	for _, e := range q.items {
		env, err := encodeIntent(e.Intent)
		if err != nil {
			q.logger.Error("encode pending intent", "key", e.Intent.Key().String(), "error", err)
			continue
		}
		state.Items = append(state.Items, env)
	}
	data, err := json.Marshal(state)
	if err != nil {
		q.logger.Error("marshal pending queue", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		q.logger.Error("create pending queue dir", "error", err)
		return
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		q.logger.Error("write pending queue", "error", err)
		return
	}
	if err := os.Rename(tmp, q.path); err != nil {
		q.logger.Error("replace pending queue", "error", err)
	}
}
