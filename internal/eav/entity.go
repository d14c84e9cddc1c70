package eav

// Entity is an identifier plus a mapping from attribute name to its current
// Attribute version. Entities are treated as immutable values: every
// mutation (via the transactor) produces a new Entity rather than editing
// this one in place.
type Entity struct {
	ID    string
	Attrs map[string]Attribute
}

// MakeEntity constructs an empty entity with the given identifier.
func MakeEntity(id string) Entity {
	return Entity{ID: id, Attrs: map[string]Attribute{}}
}

// WithAttr returns a new Entity with attr set, leaving the receiver
// untouched. The attribute map is copied (shallow: Attribute is itself
// copied by value, and Value.Set slices are only ever appended to through
// SetOf/Members, never mutated in place).
func (e Entity) WithAttr(attr Attribute) Entity {
	next := Entity{ID: e.ID, Attrs: make(map[string]Attribute, len(e.Attrs)+1)}
	for k, v := range e.Attrs {
		next.Attrs[k] = v
	}
	next.Attrs[attr.Name] = attr
	return next
}

// WithoutAttr returns a new Entity with attrName removed.
func (e Entity) WithoutAttr(attrName string) Entity {
	next := Entity{ID: e.ID, Attrs: make(map[string]Attribute, len(e.Attrs))}
	for k, v := range e.Attrs {
		if k != attrName {
			next.Attrs[k] = v
		}
	}
	return next
}

// Attr looks up an attribute by name.
func (e Entity) Attr(name string) (Attribute, bool) {
	a, ok := e.Attrs[name]
	return a, ok
}

// OutgoingRefs returns every reference value held by the entity's
// reference-typed attributes, singleton or multi-cardinality alike. Used by
// the graph walker for outgoing traversal.
func (e Entity) OutgoingRefs() []string {
	var refs []string
	for _, a := range e.Attrs {
		if a.Type != ValueTypeRef {
			continue
		}
		for _, m := range a.Value.Members() {
			if m.Kind == KindRef {
				refs = append(refs, m.Ref)
			}
		}
	}
	return refs
}
