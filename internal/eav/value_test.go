package eav

import "testing"

func TestValueEqualIsSetOrderIndependent(t *testing.T) {
	a := SetOf(Text("fever"), Text("cough"))
	b := SetOf(Text("cough"), Text("fever"))
	if !a.Equal(b) {
		t.Fatalf("expected %v to equal %v", a, b)
	}
}

func TestSetOfCollapsesDuplicates(t *testing.T) {
	s := SetOf(Text("a"), Text("a"), Text("b"))
	if len(s.Set) != 2 {
		t.Fatalf("expected 2 members, got %d: %v", len(s.Set), s)
	}
}

func TestLessOrdersByKindFirst(t *testing.T) {
	if !Text("9").Less(Int(1)) {
		t.Fatalf("text values should sort before int values regardless of content")
	}
	if !Int(1).Less(Int(2)) {
		t.Fatalf("expected 1 < 2")
	}
	if Int(2).Less(Int(1)) {
		t.Fatalf("expected 2 not < 1")
	}
}

func TestMembersExpandsSetAndWrapsScalar(t *testing.T) {
	if got := len(Text("x").Members()); got != 1 {
		t.Fatalf("expected scalar to expand to 1 member, got %d", got)
	}
	s := SetOf(Text("a"), Text("b"))
	if got := len(s.Members()); got != 2 {
		t.Fatalf("expected set to expand to 2 members, got %d", got)
	}
}

func TestKeyDistinguishesKindsWithSameText(t *testing.T) {
	if Text("1").Key() == Int(1).Key() {
		t.Fatalf("text %q and int %d should not share a key", "1", 1)
	}
}

func TestRefValueCarriesIdentifier(t *testing.T) {
	r := Ref("pat1")
	if r.Kind != KindRef || r.Ref != "pat1" {
		t.Fatalf("unexpected ref value: %+v", r)
	}
}
