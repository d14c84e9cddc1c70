// Package storage implements the Storage (present-state entity map) and
// Snapshot types, and the transactor operations that turn one Snapshot
// into the next with structural sharing.
package storage

import (
	"github.com/google/btree"

	"github.com/sogaiu/circledb/internal/eav"
)

const degree = 32

type entityItem struct {
	id     string
	entity eav.Entity
}

func (a entityItem) Less(than btree.Item) bool { return a.id < than.(entityItem).id }

// Storage is a copy-on-write mapping from entity identifier to the current
// form of that entity.
type Storage struct {
	tree *btree.BTree
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{tree: btree.New(degree)}
}

// Clone returns a copy-on-write fork of the storage.
func (s *Storage) Clone() *Storage {
	return &Storage{tree: s.tree.Clone()}
}

// Get looks up an entity by id.
func (s *Storage) Get(id string) (eav.Entity, bool) {
	item := s.tree.Get(entityItem{id: id})
	if item == nil {
		return eav.Entity{}, false
	}
	return item.(entityItem).entity, true
}

// Has reports whether id is present.
func (s *Storage) Has(id string) bool {
	return s.tree.Get(entityItem{id: id}) != nil
}

// Put returns a new Storage with entity stored under its id.
func (s *Storage) Put(entity eav.Entity) *Storage {
	next := s.Clone()
	next.tree.ReplaceOrInsert(entityItem{id: entity.ID, entity: entity})
	return next
}

// Delete returns a new Storage with id removed. Deleting an absent id is a
// no-op.
func (s *Storage) Delete(id string) *Storage {
	next := s.Clone()
	next.tree.Delete(entityItem{id: id})
	return next
}

// Len reports the number of entities in storage.
func (s *Storage) Len() int {
	return s.tree.Len()
}

// Each calls fn for every entity in ascending id order. Iteration stops
// early if fn returns false.
func (s *Storage) Each(fn func(eav.Entity) bool) {
	s.tree.Ascend(func(i btree.Item) bool {
		return fn(i.(entityItem).entity)
	})
}
