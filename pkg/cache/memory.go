package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ZhangHanDong/urlpreview/pkg/extract"
)

const defaultCapacity = 100

// Memory is a bounded in-process LRU cache.
type Memory struct {
	entries *lru.Cache[string, *extract.Preview]
}

// NewMemory creates a cache holding at most capacity previews. Non-positive
// capacities fall back to the default.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	entries, err := lru.New[string, *extract.Preview](capacity)
	if err != nil {
		// Only reachable with capacity <= 0, which is handled above.
		panic(err)
	}
	return &Memory{entries: entries}
}

func (m *Memory) Get(_ context.Context, key string) (*extract.Preview, bool, error) {
	preview, ok := m.entries.Get(key)
	return preview, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, preview *extract.Preview) error {
	m.entries.Add(key, preview)
	return nil
}

func (m *Memory) Len() int {
	return m.entries.Len()
}

func (m *Memory) Close() error {
	m.entries.Purge()
	return nil
}
