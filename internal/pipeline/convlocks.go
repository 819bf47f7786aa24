package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// convLocks serializes pipeline runs per conversation so concurrent messages
// in the same thread never interleave their persisted runs. Locks for
// distinct conversations are independent.
type convLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{locks: make(map[uuid.UUID]*convLock)}
}

// acquire blocks until the conversation lock is held. The returned func
// releases it; the entry is dropped once no goroutine is waiting.
func (c *convLocks) acquire(conversationID uuid.UUID) func() {
	c.mu.Lock()
	lock, ok := c.locks[conversationID]
	if !ok {
		lock = &convLock{}
		c.locks[conversationID] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()
		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, conversationID)
		}
		c.mu.Unlock()
	}
}
