package banditstore

import (
	"context"
	"maps"
	"sync"

	"github.com/alextanhongpin/mab/ab"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps each bandit as its encoded JSON record, so loaded bandits
// never share state, arm values included, with saved ones.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	opts    *options
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		opts:    newOptions(opts...),
	}
}

func (m *MemoryStore) Load(ctx context.Context) (map[string]*ab.Bandit, error) {
	m.mu.RLock()
	raw := maps.Clone(m.records)
	m.mu.RUnlock()

	return m.opts.decode(ctx, "memory", raw), nil
}

func (m *MemoryStore) Save(ctx context.Context, bandits map[string]*ab.Bandit) error {
	raw, err := encode(bandits)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.records = raw
	m.mu.Unlock()

	return nil
}
