package hive

// biMap is a bidirectional map holding a strict bijection between keys
// and values: setting a pair first evicts any existing pair sharing
// either side, so the map can never hold two entries pointing at each
// other's partner.
//
// It is not safe for concurrent use; the Pool guards it with its own
// lock. Iteration order is unspecified.
type biMap[K comparable, V comparable] struct {
	fwd map[K]V
	rev map[V]K
}

func newBiMap[K comparable, V comparable]() *biMap[K, V] {
	return &biMap[K, V]{
		fwd: make(map[K]V),
		rev: make(map[V]K),
	}
}

func (m *biMap[K, V]) Set(key K, val V) {
	if old, has := m.fwd[key]; has {
		delete(m.rev, old)
	}
	if old, has := m.rev[val]; has {
		delete(m.fwd, old)
	}
	m.fwd[key] = val
	m.rev[val] = key
}

func (m *biMap[K, V]) GetByKey(key K) (V, bool) {
	val, has := m.fwd[key]
	return val, has
}

func (m *biMap[K, V]) GetByValue(val V) (K, bool) {
	key, has := m.rev[val]
	return key, has
}

func (m *biMap[K, V]) HasKey(key K) bool {
	_, has := m.fwd[key]
	return has
}

func (m *biMap[K, V]) HasValue(val V) bool {
	_, has := m.rev[val]
	return has
}

func (m *biMap[K, V]) DeleteByKey(key K) bool {
	val, has := m.fwd[key]
	if !has {
		return false
	}
	delete(m.fwd, key)
	delete(m.rev, val)
	return true
}

func (m *biMap[K, V]) DeleteByValue(val V) bool {
	key, has := m.rev[val]
	if !has {
		return false
	}
	delete(m.rev, val)
	delete(m.fwd, key)
	return true
}

func (m *biMap[K, V]) Len() int {
	return len(m.fwd)
}

// Range calls fn for every pair until fn returns false.
func (m *biMap[K, V]) Range(fn func(key K, val V) bool) {
	for key, val := range m.fwd {
		if !fn(key, val) {
			return
		}
	}
}
