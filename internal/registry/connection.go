package registry

import (
	"context"
	"sync/atomic"

	"github.com/sogaiu/circledb/internal/log"
	"github.com/sogaiu/circledb/internal/storage"
)

// Connection owns the present snapshot for one named database. Readers
// take a single atomic load and are then snapshot-consistent: nothing they
// hold can change beneath them, including the ancestor chain reachable
// through Snapshot.History. Writers serialize through Transact's
// compare-and-set retry loop.
type Connection struct {
	Name string
	ptr  atomic.Pointer[storage.Snapshot]
}

func newConnection(name string) *Connection {
	c := &Connection{Name: name}
	c.ptr.Store(storage.Empty())
	return c
}

// Present returns the connection's current (most recent) snapshot.
func (c *Connection) Present() *storage.Snapshot {
	return c.ptr.Load()
}

// At returns the snapshot at 0-based history position t, for time-travel
// callers that address a snapshot other than the present one.
func (c *Connection) At(t int) (*storage.Snapshot, bool) {
	return c.ptr.Load().At(t)
}

// Transact applies ops atomically against the connection's present
// snapshot and swaps the pointer to the resulting snapshot on success. If
// the present snapshot moved between the read and the compare-and-set
// (another writer committed first), the whole op list is reapplied against
// the new present -- this is the write-skew resolution called for by the
// design's open question on concurrent transacts.
func (c *Connection) Transact(ctx context.Context, ops ...storage.Op) (*storage.Snapshot, error) {
	for {
		present := c.ptr.Load()

		next, err := storage.Transact(present, ops...)
		if err != nil {
			return nil, err
		}

		if c.ptr.CompareAndSwap(present, next) {
			log.Infof(ctx, "circledb: %s committed %d -> %d", c.Name, present.CurrTime, next.CurrTime)
			return next, nil
		}
		log.VEventf(ctx, 2, "circledb: %s retrying transact after concurrent commit", c.Name)
	}
}
