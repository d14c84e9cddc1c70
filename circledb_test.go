package circledb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func patientEntity(id, city string) Entity {
	e := MakeEntity(id)
	e = e.WithAttr(MakeAttr("patient/city", Text(city), ValueTypeString, Indexed(true)))
	e = e.WithAttr(MakeAttr("patient/symptoms", SetOf(Text("fever"), Text("cough")),
		ValueTypeString, Indexed(true), WithCardinality(CardinalityMultiple)))
	return e
}

func testResultEntity(id, patientID string, systolic, diastolic float64) Entity {
	e := MakeEntity(id)
	e = e.WithAttr(MakeAttr("test/bp-systolic", Real(systolic), ValueTypeNumber, Indexed(true)))
	e = e.WithAttr(MakeAttr("test/bp-diastolic", Real(diastolic), ValueTypeNumber, Indexed(true)))
	e = e.WithAttr(MakeAttr("test/patient", Ref(patientID), ValueTypeRef, Indexed(true)))
	return e
}

func TestEndToEndScenario(t *testing.T) {
	defer Drop("clinic")
	conn := Open("clinic")
	ctx := context.Background()

	snap, err := Transact(ctx, conn,
		AddEntityOp(patientEntity("pat1", "London")),
		AddEntityOp(patientEntity("pat2", "London")),
		AddEntityOp(testResultEntity("t3-pat2", "pat2", 140, 80)),
		AddEntityOp(testResultEntity("t4-pat2", "pat2", 170, 90)),
	)
	require.NoError(t, err)

	city, ok := ValueOfAt(snap, "pat1", "patient/city")
	require.True(t, ok)
	require.True(t, city.Equal(Text("London")))

	snap, err = Transact(ctx, conn,
		UpdateEntityOp("pat1", "patient/symptoms", SetOf(Text("cold-sweat"), Text("sneeze")), ResetTo))
	require.NoError(t, err)

	versions := EvolutionOf(snap, "pat1", "patient/symptoms")
	require.Len(t, versions, 2)

	rows, err := Q(snap, Query{
		Find: []string{"id", "v"},
		Where: []Clause{
			{E: Binary(Eq, "id", Text("pat1")), A: Binary(Eq, "a", Text("patient/city")), V: Var("v")},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	visited := TraverseDB(snap, "pat2", BFS, Incoming)
	require.Equal(t, "pat2", visited[0].ID)
	require.Len(t, visited, 3)
}

func TestOpenIsIdempotentPerName(t *testing.T) {
	defer Drop("idempotent")
	a := Open("idempotent")
	b := Open("idempotent")
	require.Same(t, a, b)
}

func TestRemoveEntityOpRestoresStorageSize(t *testing.T) {
	defer Drop("restore")
	conn := Open("restore")
	ctx := context.Background()

	_, err := Transact(ctx, conn, AddEntityOp(patientEntity("pat1", "London")))
	require.NoError(t, err)
	before := Present(conn).Storage

	snap, err := Transact(ctx, conn, RemoveEntityOp("pat1"))
	require.NoError(t, err)
	require.Equal(t, before.Len()-1, snap.Storage.Len())
}
