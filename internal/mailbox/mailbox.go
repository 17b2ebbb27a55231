// Package mailbox provides a bounded single-slot channel where the newest value wins.
package mailbox

import "sync"

// Mailbox holds at most one undelivered value. Put never blocks: a value the
// consumer has not picked up yet is replaced by the newer one.
type Mailbox[T any] struct {
	mu sync.Mutex
	ch chan T
}

// New creates an empty mailbox
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// Put stores v and reports whether an undelivered value was overwritten
func (m *Mailbox[T]) Put(v T) (replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.ch:
		replaced = true
	default:
	}
	// Only producers fill the slot and they hold the lock, so this cannot block.
	m.ch <- v
	return replaced
}

// C returns the receive side of the mailbox
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}
