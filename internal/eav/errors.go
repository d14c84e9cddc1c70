package eav

import "github.com/cockroachdb/errors"

// Sentinel errors, matched with errors.Is. Failures about a specific entity
// or attribute (unknown entity/attribute, duplicate entity, type mismatch)
// wrap one of these with errors.Wrapf to attach the operation's arguments,
// the way pkg/sql/catalog/lease wraps errRenewLease and errReadOlderVersion
// with call-site context; the query errors and
// ErrRemoveOnSingleCardinality are returned as the bare sentinel.
var (
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrDuplicateEntity  = errors.New("duplicate entity")
	ErrMalformedClause  = errors.New("malformed clause")
	ErrUnsupportedQuery = errors.New("unsupported query")
	ErrTypeMismatch     = errors.New("type mismatch")

	// ErrRemoveOnSingleCardinality resolves an open question in the design:
	// calling update-entity with op=remove on a single-cardinality
	// attribute is rejected rather than silently treated as reset-to-zero.
	ErrRemoveOnSingleCardinality = errors.New("remove is not defined for a single-cardinality attribute")
)

// NewUnknownEntity wraps ErrUnknownEntity with the offending id.
func NewUnknownEntity(id string) error {
	return errors.Wrapf(ErrUnknownEntity, "entity %q", id)
}

// NewUnknownAttribute wraps ErrUnknownAttribute with the offending entity
// and attribute name.
func NewUnknownAttribute(id, attr string) error {
	return errors.Wrapf(ErrUnknownAttribute, "entity %q attribute %q", id, attr)
}

// NewDuplicateEntity wraps ErrDuplicateEntity with the offending id.
func NewDuplicateEntity(id string) error {
	return errors.Wrapf(ErrDuplicateEntity, "entity %q", id)
}

// NewTypeMismatch wraps ErrTypeMismatch with the expected/actual types.
func NewTypeMismatch(attr string, want ValueType, got Kind) error {
	return errors.Wrapf(ErrTypeMismatch, "attribute %q wants %s, got %s", attr, want, got)
}
