package store

import "sync"

// IDMap issues temporary ids for entries that are not durable yet and
// remembers which durable id replaced each of them.
type IDMap struct {
	mu      sync.Mutex
	next    int64
	durable map[int64]int64
}

func NewIDMap() *IDMap {
	return &IDMap{next: -1, durable: make(map[int64]int64)}
}

// NextTemp returns a fresh negative id.
func (m *IDMap) NextTemp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next--
	return id
}

// Bind records that temp was replaced by durable.
func (m *IDMap) Bind(temp, durable int64) {
	if temp >= 0 || durable <= 0 {
		return
	}
	m.mu.Lock()
	m.durable[temp] = durable
	m.mu.Unlock()
}

// Resolve returns the durable id for id when one is known, else id.
func (m *IDMap) Resolve(id int64) int64 {
	if id >= 0 {
		return id
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.durable[id]; ok {
		return d
	}
	return id
}
