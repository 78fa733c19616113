package bus

import "sync"

// ringBuffer is a bounded, thread-safe buffer for threat events awaiting
// flush. When full, the oldest events are dropped to make room: a stale
// alert is worth less than a fresh one, and alerting must never block
// event ingestion.
type ringBuffer struct {
	mu       sync.Mutex
	events   []ThreatEvent
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ringBuffer{
		events:   make([]ThreatEvent, capacity),
		capacity: capacity,
	}
}

// enqueue adds an event, dropping the oldest if necessary.
func (b *ringBuffer) enqueue(ev ThreatEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
	}

	b.events[b.head] = ev
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// dequeueBatch removes up to n events from the buffer.
func (b *ringBuffer) dequeueBatch(n int) []ThreatEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	result := make([]ThreatEvent, n)
	for i := 0; i < n; i++ {
		result[i] = b.events[b.tail]
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *ringBuffer) droppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
