package history

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps history for the lifetime of the process only. It is
// used when persistent history is disabled.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*Record)}
}

func (store *MemoryStore) SaveDownload(record *Record) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.records[record.ID] = copyRecord(record)
	return nil
}

func (store *MemoryStore) GetDownload(id uuid.UUID) (*Record, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if r, ok := store.records[id]; ok {
		return copyRecord(r), nil
	}

	return nil, ErrNotFound
}

func (store *MemoryStore) ListDownloads() ([]*Record, error) {
	return store.filter(func(*Record) bool { return true }), nil
}

func (store *MemoryStore) GetDownloadsForFolder(folder string) ([]*Record, error) {
	return store.filter(func(r *Record) bool { return r.Folder == folder }), nil
}

func (store *MemoryStore) DeleteDownloadsForFolder(folder string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for id, r := range store.records {
		if r.Folder == folder {
			delete(store.records, id)
		}
	}

	return nil
}

// filter returns copies of the matching records, most recently completed first.
func (store *MemoryStore) filter(match func(*Record) bool) []*Record {
	store.mu.RLock()
	defer store.mu.RUnlock()

	out := make([]*Record, 0)
	for _, r := range store.records {
		if match(r) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })

	return out
}

func copyRecord(r *Record) *Record {
	cp := *r
	cp.Files = append([]string(nil), r.Files...)
	return &cp
}
