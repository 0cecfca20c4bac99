package relay

import "sync"

// buffer is an unbounded ring between a feed and one subscriber's drain
// goroutine. It grows instead of blocking, so a slow consumer never stalls
// the feed loop or other subscribers.
type buffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	tail   int
	count  int
	closed bool
}

func newBuffer[T any](capacity int) *buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &buffer[T]{items: make([]T, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push appends an item, doubling the ring when full. Reports false once the
// buffer is closed.
func (b *buffer[T]) push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.count == len(b.items) {
		b.grow()
	}

	b.items[b.tail] = item
	b.tail = (b.tail + 1) % len(b.items)
	b.count++

	b.cond.Signal()
	return true
}

// pop blocks until an item is available or the buffer is closed. After
// close, remaining items drain first; then pop reports false.
func (b *buffer[T]) pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}

	item := b.items[b.head]
	var zero T
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.count--

	return item, true
}

func (b *buffer[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

func (b *buffer[T]) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// grow doubles the ring. Caller holds the lock.
func (b *buffer[T]) grow() {
	next := make([]T, len(b.items)*2)
	if b.head < b.tail {
		copy(next, b.items[b.head:b.tail])
	} else {
		n := copy(next, b.items[b.head:])
		copy(next[n:], b.items[:b.tail])
	}
	b.head = 0
	b.tail = b.count
	b.items = next
}
