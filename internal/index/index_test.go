package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sogaiu/circledb/internal/eav"
)

func TestInsertHasRemove(t *testing.T) {
	ix := New(EAVT)
	e, a, v := eav.Text("pat1"), eav.Text("patient/city"), eav.Text("London")

	require.False(t, ix.Has(e, a, v))
	next := ix.Insert(e, a, v)
	require.True(t, next.Has(e, a, v))
	require.False(t, ix.Has(e, a, v), "insert must not mutate the receiver")

	removed := next.Remove(e, a, v)
	require.False(t, removed.Has(e, a, v))
	require.True(t, next.Has(e, a, v), "remove must not mutate the receiver")
}

func TestInsertIsIdempotent(t *testing.T) {
	ix := New(AVET)
	e, a, v := eav.Text("pat1"), eav.Text("patient/city"), eav.Text("London")
	once := ix.Insert(e, a, v)
	twice := once.Insert(e, a, v)
	require.Equal(t, 1, twice.Len())
}

func TestRemoveAbsentIsNoOp(t *testing.T) {
	ix := New(VEAT)
	e, a, v := eav.Text("pat1"), eav.Text("patient/city"), eav.Text("London")
	removed := ix.Remove(e, a, v)
	require.Equal(t, 0, removed.Len())
}

func TestFromToEAVRoundTrips(t *testing.T) {
	e, a, v := eav.Text("pat1"), eav.Text("patient/city"), eav.Text("London")
	for _, p := range []Permutation{EAVT, AVET, VEAT} {
		l1, l2, l3 := FromEAV(p, e, a, v)
		e2, a2, v2 := ToEAV(p, l1, l2, l3)
		require.True(t, e.Equal(e2), p)
		require.True(t, a.Equal(a2), p)
		require.True(t, v.Equal(v2), p)
	}
}

func TestFilter(t *testing.T) {
	ix := New(AVET)
	ix = ix.Insert(eav.Text("pat1"), eav.Text("patient/city"), eav.Text("London"))
	ix = ix.Insert(eav.Text("pat2"), eav.Text("patient/city"), eav.Text("London"))
	ix = ix.Insert(eav.Text("pat3"), eav.Text("patient/city"), eav.Text("Paris"))

	always := func(eav.Value) bool { return true }
	eqCity := func(v eav.Value) bool { return v.Equal(eav.Text("patient/city")) }
	eqLondon := func(v eav.Value) bool { return v.Equal(eav.Text("London")) }

	paths := ix.Filter(eqCity, eqLondon, always)
	require.Len(t, paths, 1)
	var ids []string
	for _, v := range paths[0].Leaves {
		ids = append(ids, v.Text)
	}
	require.ElementsMatch(t, []string{"pat1", "pat2"}, ids)
}
