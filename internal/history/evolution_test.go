package history

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/storage"
)

func symptomsAttr(vals ...string) eav.Attribute {
	vs := make([]eav.Value, len(vals))
	for i, v := range vals {
		vs[i] = eav.Text(v)
	}
	return eav.MakeAttr("patient/symptoms", eav.SetOf(vs...), eav.ValueTypeString,
		eav.Indexed(true), eav.WithCardinality(eav.CardinalityMultiple))
}

func TestEvolutionOfTracksResetTo(t *testing.T) {
	snap := storage.Empty()
	snap, err := storage.Transact(snap,
		storage.AddEntityOp(eav.MakeEntity("pat1").WithAttr(symptomsAttr("fever", "cough"))))
	require.NoError(t, err)

	snap, err = storage.Transact(snap,
		storage.UpdateEntityOp("pat1", "patient/symptoms", eav.SetOf(eav.Text("cold-sweat"), eav.Text("sneeze")), storage.ResetTo))
	require.NoError(t, err)

	versions := EvolutionOf(snap, "pat1", "patient/symptoms")
	require.Len(t, versions, 2)

	first := setOfText(versions[0].Attr.Value)
	second := setOfText(versions[1].Attr.Value)
	require.ElementsMatch(t, []string{"fever", "cough"}, first)
	require.ElementsMatch(t, []string{"cold-sweat", "sneeze"}, second)
	require.Less(t, versions[0].Time, versions[1].Time)
}

func TestEvolutionOfTracksAddToSet(t *testing.T) {
	snap := storage.Empty()
	tests := eav.MakeAttr("patient/tests", eav.SetOf(eav.Ref("t1-pat1")), eav.ValueTypeRef,
		eav.Indexed(true), eav.WithCardinality(eav.CardinalityMultiple))
	snap, err := storage.Transact(snap,
		storage.AddEntityOp(eav.MakeEntity("pat1").WithAttr(tests)))
	require.NoError(t, err)

	snap, err = storage.Transact(snap,
		storage.UpdateEntityOp("pat1", "patient/tests", eav.Ref("t2-pat1"), storage.Add))
	require.NoError(t, err)

	versions := EvolutionOf(snap, "pat1", "patient/tests")
	require.Len(t, versions, 2)
	require.ElementsMatch(t, []string{"t1-pat1"}, setOfRef(versions[0].Attr.Value))
	require.ElementsMatch(t, []string{"t1-pat1", "t2-pat1"}, setOfRef(versions[1].Attr.Value))
}

func TestEvolutionOfUnknownEntityIsEmpty(t *testing.T) {
	snap := storage.Empty()
	require.Nil(t, EvolutionOf(snap, "nope", "patient/city"))
}

func setOfText(v eav.Value) []string {
	var out []string
	for _, m := range v.Members() {
		out = append(out, m.Text)
	}
	return out
}

func setOfRef(v eav.Value) []string {
	var out []string
	for _, m := range v.Members() {
		out = append(out, m.Ref)
	}
	return out
}
