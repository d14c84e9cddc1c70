// Package syncutil adapts CockroachDB's pkg/util/syncutil mutex wrappers:
// thin embeddings of the standard library's primitives with an AssertHeld
// hook kept for documentation and debug-assertion value at call sites that
// require a lock to already be held.
package syncutil

import "sync"

// Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}

// AssertHeld documents, at the call site, those callers that require the
// mutex to already be held by some goroutine. It performs no check.
func (m *Mutex) AssertHeld() {}

// RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	sync.RWMutex
}

// AssertHeld documents that the write lock is expected to be held.
func (rw *RWMutex) AssertHeld() {}

// AssertRHeld documents that at least the read lock is expected to be held.
func (rw *RWMutex) AssertRHeld() {}
