package entity_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jacentio/lockstore/entity"
)

func TestInterfaceCompliance(t *testing.T) {
	var _ entity.Entity = &entity.Parent{}
	var _ entity.Entity = &entity.Child{}
	var _ entity.Entity = &entity.GrandChild{}
}

func TestRefString(t *testing.T) {
	tests := []struct {
		ref      entity.Ref
		expected string
	}{
		{entity.NewParent(275, "p").EntityRef(), "parent#275"},
		{entity.NewChild(1001, "c").EntityRef(), "child#1001"},
		{entity.NewGrandChild(7, "g").EntityRef(), "grandchild#7"},
	}

	for _, tt := range tests {
		if got := tt.ref.String(); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}

func TestKindOwner(t *testing.T) {
	if entity.KindParent.Owner() != "" {
		t.Errorf("expected parent to have no owner, got %q", entity.KindParent.Owner())
	}
	if entity.KindChild.Owner() != entity.KindParent {
		t.Errorf("expected child owner parent, got %q", entity.KindChild.Owner())
	}
	if entity.KindGrandChild.Owner() != entity.KindChild {
		t.Errorf("expected grandchild owner child, got %q", entity.KindGrandChild.Owner())
	}
}

func TestNewRecordsHaveNoVersion(t *testing.T) {
	p := entity.NewParent(275, "Hello world.")
	if p.Version != nil {
		t.Errorf("expected nil version, got %d", *p.Version)
	}
	if entity.NewChild(1, "c").Version != nil {
		t.Error("expected nil child version")
	}
	if entity.NewGrandChild(1, "g").Version != nil {
		t.Error("expected nil grandchild version")
	}
}

func TestSetParentWiresBackReference(t *testing.T) {
	p := entity.NewParent(275, "Parent_Name")
	c1 := entity.NewChild(1001, "Child1_Name")
	c2 := entity.NewChild(1002, "Child2_Name")

	c1.SetParent(p)
	c2.SetParent(p)

	children := p.Children()
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0] != c1 || children[1] != c2 {
		t.Error("expected children in insertion order")
	}
	if c1.Parent() != p || c2.Parent() != p {
		t.Error("expected back-references to point at parent")
	}
}

func TestSetParentSameOwnerIsNoop(t *testing.T) {
	p := entity.NewParent(275, "p")
	c := entity.NewChild(1001, "c")

	c.SetParent(p)
	c.SetParent(p)

	if n := len(p.Children()); n != 1 {
		t.Errorf("expected 1 child, got %d", n)
	}

	// A different instance with the same id counts as the same owner.
	c.SetParent(entity.NewParent(275, "copy"))
	if c.Parent() != p {
		t.Error("expected owner to be unchanged when re-set by identifier")
	}
}

func TestSetParentReparents(t *testing.T) {
	p1 := entity.NewParent(1, "p1")
	p2 := entity.NewParent(2, "p2")
	c := entity.NewChild(10, "c")

	p1.AddChild(c)
	c.SetParent(p2)

	if len(p1.Children()) != 0 {
		t.Errorf("expected old parent to lose child, has %d", len(p1.Children()))
	}
	if _, ok := p2.ChildByID(10); !ok {
		t.Error("expected new parent to own child")
	}
	if c.Parent() != p2 {
		t.Error("expected back-reference to new parent")
	}
}

func TestRemoveChild(t *testing.T) {
	p := entity.NewParent(1, "p")
	other := entity.NewParent(2, "other")
	c := entity.NewChild(10, "c")
	p.AddChild(c)

	// Removing through a parent that does not own the child does nothing.
	other.RemoveChild(c)
	if c.Parent() != p {
		t.Fatal("expected child to keep its owner")
	}

	p.RemoveChild(c)
	if c.Parent() != nil {
		t.Error("expected nil back-reference after removal")
	}
	if len(p.Children()) != 0 {
		t.Error("expected empty collection after removal")
	}
}

func TestChildrenReturnsCopy(t *testing.T) {
	p := entity.NewParent(1, "p")
	p.AddChild(entity.NewChild(10, "c"))

	children := p.Children()
	children[0] = nil

	if p.Children()[0] == nil {
		t.Error("expected Children to return a copy")
	}
}

func TestCollectionsRejectDuplicateIDs(t *testing.T) {
	p := entity.NewParent(1, "p")
	p.AddChild(entity.NewChild(10, "a"))
	p.AddChild(entity.NewChild(10, "b"))

	if n := len(p.Children()); n != 1 {
		t.Errorf("expected 1 child, got %d", n)
	}
}

func TestGrandChildWiring(t *testing.T) {
	c1 := entity.NewChild(10, "c1")
	c2 := entity.NewChild(11, "c2")
	gc := entity.NewGrandChild(100, "gc")

	c1.AddGrandChild(gc)
	if gc.Child() != c1 {
		t.Fatal("expected back-reference to c1")
	}
	if _, ok := c1.GrandChildByID(100); !ok {
		t.Fatal("expected c1 to own gc")
	}

	gc.SetChild(c2)
	if len(c1.GrandChildren()) != 0 {
		t.Error("expected c1 to lose gc")
	}
	if _, ok := c2.GrandChildByID(100); !ok {
		t.Error("expected c2 to own gc")
	}

	c2.RemoveGrandChild(gc)
	if gc.Child() != nil {
		t.Error("expected nil back-reference")
	}
}

func TestEqualByIdentifier(t *testing.T) {
	a := entity.NewParent(1, "a")
	b := entity.NewParent(1, "b")
	c := entity.NewParent(2, "a")
	v := int64(4)
	b.Version = &v

	if !a.Equal(b) {
		t.Error("expected parents with same id to be equal")
	}
	if a.Equal(c) {
		t.Error("expected parents with different ids to differ")
	}
	if a.Equal(nil) {
		t.Error("expected non-nil parent to differ from nil")
	}
	var np *entity.Parent
	if !np.Equal(nil) {
		t.Error("expected nil to equal nil")
	}

	if !entity.NewChild(5, "x").Equal(entity.NewChild(5, "y")) {
		t.Error("expected children with same id to be equal")
	}
	if entity.NewGrandChild(5, "x").Equal(entity.NewGrandChild(6, "x")) {
		t.Error("expected grandchildren with different ids to differ")
	}
}

func TestValidate(t *testing.T) {
	owned := entity.NewChild(10, "ok")
	owned.SetParent(entity.NewParent(1, "p"))
	ownedGC := entity.NewGrandChild(100, "ok")
	ownedGC.SetChild(owned)

	tests := []struct {
		name    string
		record  entity.Entity
		wantErr bool
	}{
		{"valid parent", entity.NewParent(1, "Hello world."), false},
		{"zero id", entity.NewParent(0, "p"), true},
		{"negative id", entity.NewParent(-3, "p"), true},
		{"name at limit", entity.NewParent(1, strings.Repeat("x", entity.MaxNameLength)), false},
		{"name too long", entity.NewParent(1, strings.Repeat("x", entity.MaxNameLength+1)), true},
		{"multibyte name at limit", entity.NewParent(1, strings.Repeat("é", entity.MaxNameLength)), false},
		{"owned child", owned, false},
		{"orphan child", entity.NewChild(11, "c"), true},
		{"owned grandchild", ownedGC, false},
		{"orphan grandchild", entity.NewGrandChild(101, "g"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				if !errors.Is(err, entity.ErrInvalid) {
					t.Errorf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestStringIncludesVersion(t *testing.T) {
	p := entity.NewParent(275, "Hello world.")
	if !strings.Contains(p.String(), "version=nil") {
		t.Errorf("expected nil version in %q", p.String())
	}
	v := int64(1)
	p.Version = &v
	if !strings.Contains(p.String(), "version=1") {
		t.Errorf("expected version=1 in %q", p.String())
	}
}
