package history_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/veoclip/pkg/adapter"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/usecase/history"
)

// failingStore wraps a KVStore and fails reads and writes on demand
type failingStore struct {
	adapter.KVStore
	failGet bool
	failPut bool
	puts    int
	deletes int
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGet {
		return nil, errors.New("service unavailable")
	}
	return f.KVStore.Get(ctx, key)
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte) error {
	f.puts++
	if f.failPut {
		return errors.New("quota exceeded")
	}
	return f.KVStore.Put(ctx, key, value)
}

func (f *failingStore) Delete(ctx context.Context, key string) error {
	f.deletes++
	return f.KVStore.Delete(ctx, key)
}

func newEntry(n int) *model.HistoryEntry {
	ts := int64(1700000000000 + n)
	return &model.HistoryEntry{
		ID:               model.HistoryID(fmt.Sprintf("vid_%d", ts)),
		Prompt:           fmt.Sprintf("prompt %d", n),
		VideoDataURL:     "data:video/mp4;base64,AAAA",
		ThumbnailDataURL: "data:image/jpeg;base64,/9j/",
		Timestamp:        ts,
	}
}

func TestStoreLoadEmpty(t *testing.T) {
	store := history.New(adapter.NewMemoryStore())
	entries := store.Load(context.Background())
	gt.A(t, entries).Length(0)
}

func TestStoreAddEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := history.New(adapter.NewMemoryStore())
	store.Load(ctx)

	var entries []*model.HistoryEntry
	for i := 0; i < model.MaxHistoryEntries; i++ {
		entries = store.Add(ctx, newEntry(i))
	}
	gt.A(t, entries).Length(model.MaxHistoryEntries)
	gt.Equal(t, entries[0].ID, newEntry(8).ID)
	gt.Equal(t, entries[8].ID, newEntry(0).ID)

	entries = store.Add(ctx, newEntry(9))
	gt.A(t, entries).Length(model.MaxHistoryEntries)
	gt.Equal(t, entries[0].ID, newEntry(9).ID)
	gt.Equal(t, entries[8].ID, newEntry(1).ID)
	for _, e := range entries {
		gt.NotEqual(t, e.ID, newEntry(0).ID)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := adapter.NewMemoryStore()

	store := history.New(kv)
	store.Load(ctx)
	entry := newEntry(1)
	store.Add(ctx, entry)

	reloaded := history.New(kv).Load(ctx)
	gt.A(t, reloaded).Length(1)
	gt.Equal(t, *reloaded[0], *entry)
}

func TestStoreRemove(t *testing.T) {
	ctx := context.Background()
	kv := &failingStore{KVStore: adapter.NewMemoryStore()}
	store := history.New(kv)
	store.Load(ctx)
	store.Add(ctx, newEntry(1))
	store.Add(ctx, newEntry(2))

	entries := store.Remove(ctx, newEntry(1).ID)
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].ID, newEntry(2).ID)

	t.Run("unknown id is a no-op that still persists", func(t *testing.T) {
		before := kv.puts
		entries := store.Remove(ctx, "vid_0")
		gt.A(t, entries).Length(1)
		gt.Equal(t, kv.puts, before+1)

		reloaded := history.New(kv).Load(ctx)
		gt.A(t, reloaded).Length(1)
		gt.Equal(t, reloaded[0].ID, newEntry(2).ID)
	})
}

func TestStoreGet(t *testing.T) {
	ctx := context.Background()
	store := history.New(adapter.NewMemoryStore())
	store.Load(ctx)
	store.Add(ctx, newEntry(3))

	e, err := store.Get(newEntry(3).ID)
	gt.NoError(t, err)
	gt.Equal(t, e.Prompt, "prompt 3")

	_, err = store.Get("vid_missing")
	gt.True(t, errors.Is(err, history.ErrEntryNotFound))
}

func TestStoreLoadCorrupted(t *testing.T) {
	for _, raw := range []string{`{not json`, `"a string"`, `{"version":1,"entries":[]}`, `   `} {
		t.Run(raw, func(t *testing.T) {
			ctx := context.Background()
			kv := &failingStore{KVStore: adapter.NewMemoryStore()}
			gt.NoError(t, kv.KVStore.Put(ctx, history.StorageKey, []byte(raw)))

			entries := history.New(kv).Load(ctx)
			gt.A(t, entries).Length(0)
			gt.Equal(t, kv.deletes, 1)

			_, err := kv.Get(ctx, history.StorageKey)
			gt.True(t, errors.Is(err, adapter.ErrKeyNotFound))
		})
	}
}

func TestStoreLoadLegacyArray(t *testing.T) {
	ctx := context.Background()
	kv := adapter.NewMemoryStore()
	legacy := `[
		{"id":"vid_1700000000002","prompt":"b","videoDataUrl":"data:video/mp4;base64,AA==","thumbnailDataUrl":"data:image/jpeg;base64,AA==","timestamp":1700000000002},
		{"id":"vid_1700000000001","prompt":"a","videoDataUrl":"data:video/mp4;base64,AA==","thumbnailDataUrl":"data:image/jpeg;base64,AA=="},
		{"prompt":"c","videoDataUrl":"data:video/mp4;base64,AA==","timestamp":1700000000000},
		{"prompt":"no identity","videoDataUrl":"data:video/mp4;base64,AA=="}
	]`
	gt.NoError(t, kv.Put(ctx, history.StorageKey, []byte(legacy)))

	store := history.New(kv)
	entries := store.Load(ctx)
	gt.A(t, entries).Length(3)
	gt.Equal(t, entries[0].Prompt, "b")
	gt.Equal(t, entries[1].Timestamp, int64(1700000000001))
	gt.Equal(t, entries[2].ID, model.HistoryID("vid_1700000000000"))
	for _, e := range entries {
		gt.NotEqual(t, e.ID, model.HistoryID(""))
	}

	// next write upgrades the snapshot to the envelope format
	store.Add(ctx, newEntry(10))
	data, err := kv.Get(ctx, history.StorageKey)
	gt.NoError(t, err)

	var snap struct {
		Version int               `json:"version"`
		Entries []json.RawMessage `json:"entries"`
	}
	gt.NoError(t, json.Unmarshal(data, &snap))
	gt.Equal(t, snap.Version, 2)
	gt.A(t, snap.Entries).Length(4)
}

func TestStoreLoadTruncatesOversizedSnapshot(t *testing.T) {
	ctx := context.Background()
	kv := adapter.NewMemoryStore()

	writer := history.New(kv, history.WithMaxEntries(20))
	writer.Load(ctx)
	for i := 0; i < 12; i++ {
		writer.Add(ctx, newEntry(i))
	}

	entries := history.New(kv).Load(ctx)
	gt.A(t, entries).Length(model.MaxHistoryEntries)
	gt.Equal(t, entries[0].ID, newEntry(11).ID)
}

func TestStorePersistFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	kv := &failingStore{KVStore: adapter.NewMemoryStore()}
	store := history.New(kv)
	store.Load(ctx)
	store.Add(ctx, newEntry(1))

	kv.failPut = true
	entries := store.Add(ctx, newEntry(2))
	gt.A(t, entries).Length(2)
	gt.A(t, store.List()).Length(2)

	// persisted snapshot still holds the last successful write
	reloaded := history.New(kv).Load(ctx)
	gt.A(t, reloaded).Length(1)
	gt.Equal(t, reloaded[0].ID, newEntry(1).ID)
}

func TestStoreReadFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	kv := &failingStore{KVStore: adapter.NewMemoryStore()}

	writer := history.New(kv)
	writer.Load(ctx)
	for i := 0; i < 5; i++ {
		writer.Add(ctx, newEntry(i))
	}

	t.Run("writes are held back while the snapshot is unreadable", func(t *testing.T) {
		kv.failGet = true
		defer func() { kv.failGet = false }()

		store := history.New(kv)
		gt.A(t, store.Load(ctx)).Length(0)

		before := kv.puts
		entries := store.Add(ctx, newEntry(99))
		gt.A(t, entries).Length(1)
		gt.Equal(t, kv.puts, before)
	})

	reloaded := history.New(kv).Load(ctx)
	gt.A(t, reloaded).Length(5)
	gt.Equal(t, reloaded[0].ID, newEntry(4).ID)
}

func TestStoreReadFailureMergesOnRecovery(t *testing.T) {
	ctx := context.Background()
	kv := &failingStore{KVStore: adapter.NewMemoryStore()}

	writer := history.New(kv)
	writer.Load(ctx)
	for i := 0; i < 5; i++ {
		writer.Add(ctx, newEntry(i))
	}

	kv.failGet = true
	store := history.New(kv)
	store.Load(ctx)
	store.Add(ctx, newEntry(10))
	store.Remove(ctx, newEntry(2).ID)

	kv.failGet = false
	entries := store.Add(ctx, newEntry(11))
	gt.A(t, entries).Length(6)
	gt.Equal(t, entries[0].ID, newEntry(11).ID)
	gt.Equal(t, entries[1].ID, newEntry(10).ID)
	gt.Equal(t, entries[2].ID, newEntry(4).ID)
	for _, e := range entries {
		gt.NotEqual(t, e.ID, newEntry(2).ID)
	}

	reloaded := history.New(kv).Load(ctx)
	gt.A(t, reloaded).Length(6)
	gt.Equal(t, reloaded[0].ID, newEntry(11).ID)
}
