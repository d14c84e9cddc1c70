// Package graph implements traverse-db: BFS/DFS walks over the reference
// edges between entities, in either the outgoing or incoming direction.
package graph

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/storage"
)

// Strategy selects the graph-walk order.
type Strategy int

const (
	BFS Strategy = iota
	DFS
)

// Direction selects which edges the walk follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// Traverse walks the reference graph from rootID against snap, visiting
// each reachable entity at most once, and returns the entities in visit
// order. Dangling references (edges to an id absent from storage) are
// skipped rather than failing the walk. Every call starts a fresh walk
// from the current state of snap, so restarting is just calling it again.
func Traverse(snap *storage.Snapshot, rootID string, strategy Strategy, direction Direction) []eav.Entity {
	root, ok := snap.Storage.Get(rootID)
	if !ok {
		return nil
	}

	visited := map[string]bool{rootID: true}
	frontier := []eav.Entity{root}
	var order []eav.Entity

	for len(frontier) > 0 {
		var next eav.Entity
		switch strategy {
		case DFS:
			next = frontier[len(frontier)-1]
			frontier = frontier[:len(frontier)-1]
		default: // BFS
			next = frontier[0]
			frontier = frontier[1:]
		}
		order = append(order, next)

		for _, edgeID := range edgesOf(snap, next.ID, direction) {
			if visited[edgeID] {
				continue
			}
			neighbor, ok := snap.Storage.Get(edgeID)
			if !ok {
				continue
			}
			visited[edgeID] = true
			frontier = append(frontier, neighbor)
		}
	}
	return order
}

// edgesOf returns the ordered list of neighbor entity ids reachable from id
// in the given direction. Outgoing edges come from id's own reference-typed
// attributes; incoming edges come from the VEAT index, keyed by id as the
// reference target.
func edgesOf(snap *storage.Snapshot, id string, direction Direction) []string {
	if direction == Outgoing {
		entity, ok := snap.Storage.Get(id)
		if !ok {
			return nil
		}
		return entity.OutgoingRefs()
	}

	paths := snap.VEAT.Filter(
		func(v eav.Value) bool { return v.Kind == eav.KindRef && v.Ref == id },
		func(eav.Value) bool { return true },
		func(eav.Value) bool { return true },
	)
	var ids []string
	for _, p := range paths {
		ids = append(ids, p.L2.Text)
	}
	return ids
}

// TraverseConcurrent walks the graph breadth-first, level by level,
// resolving each frontier level's edges (in the given direction)
// concurrently via an errgroup rather than sequentially. It is useful for
// wide fan-out graphs where edgesOf's index walk dominates. It takes no
// strategy: its visit order is the same as Traverse's with BFS.
func TraverseConcurrent(ctx context.Context, snap *storage.Snapshot, rootID string, direction Direction) ([]eav.Entity, error) {
	root, ok := snap.Storage.Get(rootID)
	if !ok {
		return nil, nil
	}

	visited := map[string]bool{rootID: true}
	frontier := []eav.Entity{root}
	var order []eav.Entity

	for len(frontier) > 0 {
		order = append(order, frontier...)

		edgeLists := make([][]string, len(frontier))
		g, _ := errgroup.WithContext(ctx)
		for i, e := range frontier {
			i, e := i, e
			g.Go(func() error {
				edgeLists[i] = edgesOf(snap, e.ID, direction)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var nextFrontier []eav.Entity
		for _, edges := range edgeLists {
			for _, edgeID := range edges {
				if visited[edgeID] {
					continue
				}
				neighbor, ok := snap.Storage.Get(edgeID)
				if !ok {
					continue
				}
				visited[edgeID] = true
				nextFrontier = append(nextFrontier, neighbor)
			}
		}
		frontier = nextFrontier
	}
	return order, nil
}
