package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sogaiu/circledb/internal/eav"
)

func pat1() eav.Entity {
	e := eav.MakeEntity("pat1")
	e = e.WithAttr(eav.MakeAttr("patient/city", eav.Text("London"), eav.ValueTypeString, eav.Indexed(true)))
	e = e.WithAttr(eav.MakeAttr("patient/symptoms",
		eav.SetOf(eav.Text("fever"), eav.Text("cough")), eav.ValueTypeString,
		eav.Indexed(true), eav.WithCardinality(eav.CardinalityMultiple)))
	return e
}

func TestAddEntity(t *testing.T) {
	snap := Empty()
	next, err := Transact(snap, AddEntityOp(pat1()))
	require.NoError(t, err)
	require.Equal(t, 1, next.CurrTime)

	got, ok := next.Storage.Get("pat1")
	require.True(t, ok)
	city, ok := got.Attr("patient/city")
	require.True(t, ok)
	require.Equal(t, eav.NoTimestamp, city.PrevTS)
	require.True(t, city.Value.Equal(eav.Text("London")))

	require.True(t, next.AVET.Has(eav.Text("pat1"), eav.Text("patient/city"), eav.Text("London")))
	require.True(t, next.EAVT.Has(eav.Text("pat1"), eav.Text("patient/city"), eav.Text("London")))
	require.True(t, next.VEAT.Has(eav.Text("pat1"), eav.Text("patient/city"), eav.Text("London")))
}

func TestAddDuplicateEntityFails(t *testing.T) {
	snap := Empty()
	next, err := Transact(snap, AddEntityOp(pat1()))
	require.NoError(t, err)

	_, err = Transact(next, AddEntityOp(pat1()))
	require.ErrorIs(t, err, eav.ErrDuplicateEntity)
}

func TestAddThenRemoveRoundTrips(t *testing.T) {
	snap := Empty()
	added, err := Transact(snap, AddEntityOp(pat1()))
	require.NoError(t, err)

	removed, err := Transact(added, RemoveEntityOp("pat1"))
	require.NoError(t, err)
	require.False(t, removed.Storage.Has("pat1"))
	require.Equal(t, 0, removed.EAVT.Len())
	require.Equal(t, 0, removed.AVET.Len())
	require.Equal(t, 0, removed.VEAT.Len())
}

func TestResetToIsIdempotent(t *testing.T) {
	snap := Empty()
	added, err := Transact(snap, AddEntityOp(pat1()))
	require.NoError(t, err)

	once, err := Transact(added, UpdateEntityOp("pat1", "patient/symptoms",
		eav.SetOf(eav.Text("cold-sweat"), eav.Text("sneeze")), ResetTo))
	require.NoError(t, err)

	twice, err := Transact(once, UpdateEntityOp("pat1", "patient/symptoms",
		eav.SetOf(eav.Text("cold-sweat"), eav.Text("sneeze")), ResetTo))
	require.NoError(t, err)

	e1, _ := once.Storage.Get("pat1")
	e2, _ := twice.Storage.Get("pat1")
	a1, _ := e1.Attr("patient/symptoms")
	a2, _ := e2.Attr("patient/symptoms")
	require.True(t, a1.Value.Equal(a2.Value))
}

func TestRemoveNonMemberIsNoOp(t *testing.T) {
	snap := Empty()
	added, err := Transact(snap, AddEntityOp(pat1()))
	require.NoError(t, err)

	next, err := Transact(added, UpdateEntityOp("pat1", "patient/symptoms", eav.Text("nonexistent"), Remove))
	require.NoError(t, err)

	got, _ := next.Storage.Get("pat1")
	attr, _ := got.Attr("patient/symptoms")
	require.Len(t, attr.Value.Set, 2)
}

func TestRemoveOnSingleCardinalityIsError(t *testing.T) {
	snap := Empty()
	added, err := Transact(snap, AddEntityOp(pat1()))
	require.NoError(t, err)

	_, err = Transact(added, UpdateEntityOp("pat1", "patient/city", eav.Text("London"), Remove))
	require.ErrorIs(t, err, eav.ErrRemoveOnSingleCardinality)
}

func TestUnknownEntityAndAttribute(t *testing.T) {
	snap := Empty()
	_, err := Transact(snap, UpdateEntityOp("nope", "x", eav.Text("y"), Add))
	require.ErrorIs(t, err, eav.ErrUnknownEntity)

	added, err := Transact(snap, AddEntityOp(pat1()))
	require.NoError(t, err)
	_, err = Transact(added, UpdateEntityOp("pat1", "patient/age", eav.Int(1), Add))
	require.ErrorIs(t, err, eav.ErrUnknownAttribute)
}

func TestFailedSubOpAbortsWholeTransact(t *testing.T) {
	snap := Empty()
	_, err := Transact(snap, AddEntityOp(pat1()), AddEntityOp(pat1()))
	require.Error(t, err)
}

func TestAddEntityWithEmptyIDAllocatesAutoID(t *testing.T) {
	snap := Empty()
	next, err := Transact(snap, AddEntityOp(eav.MakeEntity("")))
	require.NoError(t, err)
	require.Equal(t, int64(1), next.TopID)
	require.Equal(t, 1, next.Storage.Len())

	var gotID string
	next.Storage.Each(func(e eav.Entity) bool {
		gotID = e.ID
		return false
	})
	require.NotEmpty(t, gotID)
}

func TestCurrTimeAdvancesOncePerTransact(t *testing.T) {
	snap := Empty()
	pat2 := eav.MakeEntity("pat2")
	next, err := Transact(snap, AddEntityOp(pat1()), AddEntityOp(pat2))
	require.NoError(t, err)
	require.Equal(t, snap.CurrTime+1, next.CurrTime)
}
