package cache

import (
	"context"
	"sync"
	"time"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// Entry 一次完整拉取的快照，整体替换，不做原地修改
type Entry struct {
	FetchedAt time.Time           `json:"fetched_at"`
	TTL       time.Duration       `json:"ttl"`
	Snapshot  []coremodel.Reading `json:"snapshot"`
}

// clone 深拷贝，调用方拿到的切片与缓存内部互不影响
func (e Entry) clone() Entry {
	out := e
	out.Snapshot = append([]coremodel.Reading(nil), e.Snapshot...)
	return out
}

// SnapshotStore 快照存放位置：进程内存或 Redis
type SnapshotStore interface {
	// Load 返回当前快照；不存在时返回 (nil, nil)
	Load(ctx context.Context) (*Entry, error)
	Save(ctx context.Context, e Entry) error
	Clear(ctx context.Context) error
}

// MemoryStore 进程内快照（默认）
type MemoryStore struct {
	mu    sync.RWMutex
	entry *Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(context.Context) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.entry == nil {
		return nil, nil
	}
	e := m.entry.clone()
	return &e, nil
}

func (m *MemoryStore) Save(_ context.Context, e Entry) error {
	c := e.clone()
	m.mu.Lock()
	m.entry = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.entry = nil
	m.mu.Unlock()
	return nil
}
