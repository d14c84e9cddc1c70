package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/storage"
)

func testsRefAttr(ids ...string) eav.Attribute {
	vs := make([]eav.Value, len(ids))
	for i, id := range ids {
		vs[i] = eav.Ref(id)
	}
	return eav.MakeAttr("test/patient", eav.SetOf(vs...), eav.ValueTypeRef,
		eav.Indexed(true), eav.WithCardinality(eav.CardinalityMultiple))
}

func patientGraphSnapshot(t *testing.T) *storage.Snapshot {
	snap := storage.Empty()
	snap, err := storage.Transact(snap,
		storage.AddEntityOp(eav.MakeEntity("pat1")),
		storage.AddEntityOp(eav.MakeEntity("pat2")),
		storage.AddEntityOp(eav.MakeEntity("t3-pat2").WithAttr(testsRefAttr("pat2"))),
		storage.AddEntityOp(eav.MakeEntity("t4-pat2").WithAttr(testsRefAttr("pat2"))),
	)
	require.NoError(t, err)
	return snap
}

func ids(entities []eav.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func TestTraverseIncomingBFSVisitsRootThenReferencers(t *testing.T) {
	snap := patientGraphSnapshot(t)
	visited := Traverse(snap, "pat2", BFS, Incoming)
	require.Equal(t, "pat2", visited[0].ID)
	require.ElementsMatch(t, []string{"t3-pat2", "t4-pat2"}, ids(visited[1:]))
}

func TestTraverseOutgoingFollowsReferenceAttrs(t *testing.T) {
	snap := patientGraphSnapshot(t)
	visited := Traverse(snap, "t3-pat2", BFS, Outgoing)
	require.Equal(t, []string{"t3-pat2", "pat2"}, ids(visited))
}

func TestTraverseSkipsDanglingReferences(t *testing.T) {
	snap := storage.Empty()
	snap, err := storage.Transact(snap,
		storage.AddEntityOp(eav.MakeEntity("orphan").WithAttr(testsRefAttr("nonexistent"))))
	require.NoError(t, err)

	visited := Traverse(snap, "orphan", BFS, Outgoing)
	require.Len(t, visited, 1)
	require.Equal(t, "orphan", visited[0].ID)
}

func TestTraverseUnknownRootIsEmpty(t *testing.T) {
	snap := storage.Empty()
	require.Nil(t, Traverse(snap, "nope", BFS, Outgoing))
}

func TestTraverseConcurrentMatchesSequentialBFS(t *testing.T) {
	snap := patientGraphSnapshot(t)
	visited, err := TraverseConcurrent(context.Background(), snap, "pat2", Incoming)
	require.NoError(t, err)
	require.Equal(t, "pat2", visited[0].ID)
	require.ElementsMatch(t, []string{"t3-pat2", "t4-pat2"}, ids(visited[1:]))
	require.Equal(t, ids(Traverse(snap, "pat2", BFS, Incoming)), ids(visited))
}

func TestTraverseHandlesCycles(t *testing.T) {
	snap := storage.Empty()
	snap, err := storage.Transact(snap,
		storage.AddEntityOp(eav.MakeEntity("a").WithAttr(testsRefAttr("b"))),
		storage.AddEntityOp(eav.MakeEntity("b").WithAttr(testsRefAttr("a"))),
	)
	require.NoError(t, err)

	visited := Traverse(snap, "a", BFS, Outgoing)
	require.Equal(t, []string{"a", "b"}, ids(visited))
}
