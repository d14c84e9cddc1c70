// Package registry implements Connection, the atomically-swapped present
// snapshot and its compare-and-set commit primitive, plus the
// process-global name -> Connection registry behind Open/Close/Drop.
package registry

import (
	"github.com/sogaiu/circledb/internal/storage"
	"github.com/sogaiu/circledb/internal/syncutil"
)

var (
	mu    syncutil.Mutex
	conns = map[string]*Connection{}
)

// Open returns the existing connection registered under name, creating and
// registering a fresh, empty one (one initial snapshot at CurrTime 0) if
// none exists yet.
func Open(name string) *Connection {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := conns[name]; ok {
		return c
	}
	c := newConnection(name)
	conns[name] = c
	return c
}

// Close removes name from the registry. Connection values already held by
// callers remain usable -- the registry only controls what a later Open
// returns.
func Close(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(conns, name)
}

// Drop removes name from the registry and resets its history to a fresh
// empty snapshot, so any caller still holding the Connection value also
// observes the drop rather than continuing to see the old data.
func Drop(name string) {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := conns[name]; ok {
		c.ptr.Store(storage.Empty())
	}
	delete(conns, name)
}
