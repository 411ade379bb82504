// Package broadcast fans values out to any number of subscribers without ever blocking the sender.
package broadcast

import "sync"

const DefaultBuffer = 8

type Broadcaster[T any] struct {
	lock   sync.Mutex
	nextID int
	subs   map[int]chan T
	buffer int
	last   *T
	closed bool
}

func New[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe returns an id for Unsubscribe and a channel of published values. The most recently
// published value, if any, is delivered first. After Close the channel comes back closed.
func (b *Broadcaster[T]) Subscribe() (id int, c <-chan T) {
	b.lock.Lock()
	defer b.lock.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return 0, ch
	}
	if b.last != nil {
		ch <- *b.last
	}

	b.nextID++
	b.subs[b.nextID] = ch
	return b.nextID, ch
}

func (b *Broadcaster[T]) Unsubscribe(id int) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers v to every subscriber with room in its buffer. Full subscribers miss v.
// Nothing is delivered after Close.
func (b *Broadcaster[T]) Publish(v T) (dropped int) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}

	b.last = &v
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return
}

// Close unsubscribes everybody.
func (b *Broadcaster[T]) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Broadcaster[T]) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.subs)
}
