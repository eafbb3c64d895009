package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taoyao-code/airq/internal/coremodel"
)

type readingKey struct {
	deviceID  string
	timestamp int64
}

// MemoryStore 进程内存储（虚拟传感器运行与测试用），同时实现 ReadingWriter 与 ReadingSource
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[readingKey]coremodel.Reading
	// failWith 非 nil 时所有操作返回该错误（模拟存储不可用）
	failWith error
	writes   int
	lists    int
}

// NewMemoryStore 创建空存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[readingKey]coremodel.Reading)}
}

// Backend 后端名称
func (m *MemoryStore) Backend() string { return "memory" }

// UpsertReading 按 (device_id, timestamp) 覆盖写入
func (m *MemoryStore) UpsertReading(_ context.Context, r coremodel.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failWith != nil {
		return m.failWith
	}
	m.rows[readingKey{deviceID: r.DeviceID, timestamp: r.Timestamp}] = r
	return nil
}

// ListReadings 按时间升序返回 since 之后的读数
func (m *MemoryStore) ListReadings(_ context.Context, since time.Time) ([]coremodel.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]coremodel.Reading, 0, len(m.rows))
	for _, r := range m.rows {
		if !since.IsZero() && r.Timestamp < since.Unix() {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// LatestTimestamp 指定设备最近读数时间戳；无数据返回 0
func (m *MemoryStore) LatestTimestamp(_ context.Context, deviceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	var latest int64
	for k := range m.rows {
		if k.deviceID == deviceID && k.timestamp > latest {
			latest = k.timestamp
		}
	}
	return latest, nil
}

// SetFailure 设置/清除故障注入
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Len 行数
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Calls 返回写入与读取调用次数
func (m *MemoryStore) Calls() (writes, lists int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes, m.lists
}
