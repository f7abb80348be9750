package history

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/veoclip/pkg/adapter"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
)

// StorageKey is the key holding the whole history snapshot
const StorageKey = "videoHistory"

// Store keeps the bounded, newest-first collection of past generations and
// persists it as one snapshot on every mutation. Persistence problems never
// reach the caller: a failed write leaves the new collection in memory only.
type Store struct {
	kv         adapter.KVStore
	key        string
	maxEntries int

	mu      sync.Mutex
	entries []*model.HistoryEntry

	// unread is set while the stored snapshot could not be read. Writes are
	// held back until it is merged in, so the snapshot is never overwritten
	// by a partial collection.
	unread  bool
	removed map[model.HistoryID]bool
}

type Option func(*Store)

// WithKey overrides StorageKey
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithMaxEntries overrides model.MaxHistoryEntries
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		s.maxEntries = n
	}
}

func New(kv adapter.KVStore, opts ...Option) *Store {
	s := &Store{
		kv:         kv,
		key:        StorageKey,
		maxEntries: model.MaxHistoryEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted snapshot. An unparsable snapshot is cleared and
// an empty collection is returned. When the snapshot cannot be read at all
// the collection starts empty and the stored data is left untouched.
func (s *Store) Load(ctx context.Context) []*model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.read(ctx)
	s.entries = entries
	s.unread = !ok
	s.removed = nil
	return s.snapshot()
}

// read returns the stored collection. ok is false only when the backend
// failed, in which case nothing was decoded.
func (s *Store) read(ctx context.Context) ([]*model.HistoryEntry, bool) {
	logger := logging.From(ctx)

	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, adapter.ErrKeyNotFound) {
			return nil, true
		}
		logger.Warn("failed to read video history, starting empty", "error", err)
		return nil, false
	}

	entries, err := decodeSnapshot(data)
	if err != nil {
		logger.Warn("failed to parse video history, resetting", "error", err)
		if err := s.kv.Delete(ctx, s.key); err != nil {
			logger.Warn("failed to reset video history", "error", err)
		}
		return nil, true
	}

	if len(entries) > s.maxEntries {
		entries = entries[:s.maxEntries]
	}
	return entries, true
}

// reconcile merges the stored snapshot behind the in-memory entries after an
// earlier read failure. It reports whether writing is safe.
func (s *Store) reconcile(ctx context.Context) bool {
	if !s.unread {
		return true
	}

	stored, ok := s.read(ctx)
	if !ok {
		return false
	}

	seen := make(map[model.HistoryID]bool, len(s.entries))
	merged := make([]*model.HistoryEntry, 0, len(s.entries)+len(stored))
	for _, e := range append(s.snapshot(), stored...) {
		if seen[e.ID] || s.removed[e.ID] {
			continue
		}
		seen[e.ID] = true
		merged = append(merged, e)
	}
	if len(merged) > s.maxEntries {
		merged = merged[:s.maxEntries]
	}

	s.entries = merged
	s.unread = false
	s.removed = nil
	return true
}

// Add prepends entry, drops the oldest entries beyond the limit and
// persists the result
func (s *Store) Add(ctx context.Context, entry *model.HistoryEntry) []*model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	writable := s.reconcile(ctx)

	next := make([]*model.HistoryEntry, 0, len(s.entries)+1)
	next = append(next, entry)
	next = append(next, s.entries...)
	if len(next) > s.maxEntries {
		next = next[:s.maxEntries]
	}

	s.entries = next
	if writable {
		s.persist(ctx)
	} else {
		logging.From(ctx).Warn("video history is unreadable, keeping the change in memory")
	}
	return s.snapshot()
}

// Remove drops the entry with id and persists the result. Removing an
// unknown id persists the unchanged collection.
func (s *Store) Remove(ctx context.Context, id model.HistoryID) []*model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	writable := s.reconcile(ctx)

	next := make([]*model.HistoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.ID != id {
			next = append(next, e)
		}
	}

	s.entries = next
	if writable {
		s.persist(ctx)
	} else {
		if s.removed == nil {
			s.removed = make(map[model.HistoryID]bool)
		}
		s.removed[id] = true
		logging.From(ctx).Warn("video history is unreadable, keeping the change in memory")
	}
	return s.snapshot()
}

func (s *Store) persist(ctx context.Context) {
	logger := logging.From(ctx)

	data, err := encodeSnapshot(s.entries)
	if err != nil {
		logger.Warn("failed to encode video history, keeping it in memory", "error", err)
		return
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		logger.Warn("failed to save video history, keeping it in memory", "error", err)
	}
}

// snapshot returns a copy of the collection. Entries are immutable, so
// sharing the pointers is safe.
func (s *Store) snapshot() []*model.HistoryEntry {
	out := make([]*model.HistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
