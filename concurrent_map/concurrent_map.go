package concurrent_map

import "sync"

// ConcurrentMap is a sync.Map keyed by string holding pointers to V.
type ConcurrentMap[V any] struct {
	sync.Map
}

func NewConcurrentMap[V any]() ConcurrentMap[V] {
	return ConcurrentMap[V]{
		sync.Map{},
	}
}

func (m *ConcurrentMap[V]) Get(k string) *V {
	v, _ := m.Load(k)
	if v != nil {
		return v.(*V)
	} else {
		return nil
	}
}

func (m *ConcurrentMap[V]) Set(k string, v *V) {
	m.Store(k, v)
}

// GetOrSet returns the stored value for k, storing v first if k is absent.
func (m *ConcurrentMap[V]) GetOrSet(k string, v *V) *V {
	actual, _ := m.LoadOrStore(k, v)
	return actual.(*V)
}
