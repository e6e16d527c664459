package queue

// Redis key naming for queue data. Every key of a queue shares the
// "<prefix><name>" root so a queue can be inspected or flushed as a unit.

const defaultKeyPrefix = "queue:"

// fifoKey is the List backing the unprioritized path: queue:{name}
func (m *Manager) fifoKey(name string) string { return m.prefix + name }

// priorityKey is the Sorted Set backing the priority path: queue:{name}:priority
func (m *Manager) priorityKey(name string) string { return m.prefix + name + ":priority" }

// seqKey is the arrival counter used as the tie-breaker: queue:{name}:seq
func (m *Manager) seqKey(name string) string { return m.prefix + name + ":seq" }

// itemsKey is the Hash of id -> projection: queue:{name}:items
func (m *Manager) itemsKey(name string) string { return m.prefix + name + ":items" }
