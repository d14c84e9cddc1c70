package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/storage"
)

func numAttr(name string, n float64) eav.Attribute {
	return eav.MakeAttr(name, eav.Real(n), eav.ValueTypeNumber, eav.Indexed(true))
}

func testResult(id string, systolic, diastolic float64) eav.Entity {
	e := eav.MakeEntity(id)
	e = e.WithAttr(numAttr("test/bp-systolic", systolic))
	e = e.WithAttr(numAttr("test/bp-diastolic", diastolic))
	return e
}

func patient(id, city string) eav.Entity {
	e := eav.MakeEntity(id)
	e = e.WithAttr(eav.MakeAttr("patient/city", eav.Text(city), eav.ValueTypeString, eav.Indexed(true)))
	e = e.WithAttr(eav.MakeAttr("patient/symptoms", eav.SetOf(eav.Text("fever"), eav.Text("cough")),
		eav.ValueTypeString, eav.Indexed(true), eav.WithCardinality(eav.CardinalityMultiple)))
	return e
}

func demoSnapshot(t *testing.T) *storage.Snapshot {
	snap := storage.Empty()
	snap, err := storage.Transact(snap,
		storage.AddEntityOp(patient("pat1", "London")),
		storage.AddEntityOp(patient("pat2", "London")),
		storage.AddEntityOp(testResult("t2-pat1", 170, 80)),
		storage.AddEntityOp(testResult("t4-pat2", 170, 90)),
		storage.AddEntityOp(testResult("t3-pat2", 140, 80)),
	)
	require.NoError(t, err)
	return snap
}

func findValue(t *testing.T, row Row, name string) eav.Value {
	for _, b := range row {
		if b.Var == name {
			return b.Value
		}
	}
	t.Fatalf("row has no binding for %q: %+v", name, row)
	return eav.Value{}
}

func idsOf(t *testing.T, rows []Row) []string {
	var ids []string
	for _, r := range rows {
		ids = append(ids, findValue(t, r, "id").Text)
	}
	return ids
}

func TestBpQueryUnder200ReturnsAllThree(t *testing.T) {
	snap := demoSnapshot(t)
	rows, err := Execute(snap, Query{
		Find: []string{"id", "k", "b"},
		Where: []Clause{
			{E: Var("id"), A: Lit(eav.Text("test/bp-systolic")), V: BinaryLitFirst(Gt, eav.Real(200), "b")},
			{E: Var("id"), A: Lit(eav.Text("test/bp-diastolic")), V: Var("k")},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.ElementsMatch(t, []string{"t2-pat1", "t4-pat2", "t3-pat2"}, idsOf(t, rows))
}

func TestBpQueryUnder160ReturnsOne(t *testing.T) {
	snap := demoSnapshot(t)
	rows, err := Execute(snap, Query{
		Find: []string{"id", "k", "b"},
		Where: []Clause{
			{E: Var("id"), A: Lit(eav.Text("test/bp-systolic")), V: BinaryLitFirst(Gt, eav.Real(160), "b")},
			{E: Var("id"), A: Lit(eav.Text("test/bp-diastolic")), V: Var("k")},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "t3-pat2", findValue(t, rows[0], "id").Text)
	require.True(t, findValue(t, rows[0], "k").Equal(eav.Real(80)))
	require.True(t, findValue(t, rows[0], "b").Equal(eav.Real(140)))
}

func TestLiteralEqualityClauseBindsCity(t *testing.T) {
	snap := demoSnapshot(t)
	rows, err := Execute(snap, Query{
		Find: []string{"v"},
		Where: []Clause{
			{
				E: Binary(Eq, "id", eav.Text("pat1")),
				A: Binary(Eq, "a", eav.Text("patient/city")),
				V: Var("v"),
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, findValue(t, rows[0], "v").Equal(eav.Text("London")))
}

func TestWildcardNeverBinds(t *testing.T) {
	snap := demoSnapshot(t)
	rows, err := Execute(snap, Query{
		Find: []string{"id", "_"},
		Where: []Clause{
			{E: Var("id"), A: Lit(eav.Text("patient/city")), V: Var("_")},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		for _, b := range r {
			require.NotEqual(t, "_", b.Var)
		}
	}
}

func TestClauseWithNoVariableIsMalformed(t *testing.T) {
	snap := demoSnapshot(t)
	_, err := Execute(snap, Query{
		Find: []string{"x"},
		Where: []Clause{
			{E: Lit(eav.Text("pat1")), A: Lit(eav.Text("patient/city")), V: Lit(eav.Text("London"))},
		},
	})
	require.ErrorIs(t, err, eav.ErrMalformedClause)
}

func TestNoJoinColumnIsUnsupported(t *testing.T) {
	snap := demoSnapshot(t)
	_, err := Execute(snap, Query{
		Find: []string{"id", "other"},
		Where: []Clause{
			{E: Var("id"), A: Lit(eav.Text("patient/city")), V: Var("v")},
			{E: Var("other"), A: Lit(eav.Text("test/bp-systolic")), V: Var("v2")},
		},
	})
	require.ErrorIs(t, err, eav.ErrUnsupportedQuery)
}
