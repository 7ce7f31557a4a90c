package checkpoint

import (
	"context"

	"bigcartel/trickle/concurrent_map"

	"go.uber.org/atomic"
)

// MemoryStore keeps checkpoints for the life of the process only.
type MemoryStore struct {
	m concurrent_map.ConcurrentMap[atomic.Int64]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: concurrent_map.NewConcurrentMap[atomic.Int64]()}
}

func (s *MemoryStore) Load(_ context.Context, name string) (int64, error) {
	v := s.m.Get(name)
	if v == nil {
		return 0, nil
	}

	return v.Load(), nil
}

func (s *MemoryStore) Save(_ context.Context, name string, sequence int64) error {
	s.m.GetOrSet(name, atomic.NewInt64(0)).Store(sequence)
	return nil
}
