package entity

import "fmt"

// GrandChild belongs to exactly one Child.
type GrandChild struct {
	ID      int64
	Version *int64
	Name    string

	child *Child
}

// NewGrandChild creates a transient GrandChild without an owner.
func NewGrandChild(id int64, name string) *GrandChild {
	return &GrandChild{ID: id, Name: name}
}

// EntityRef returns "grandchild#id".
func (gc *GrandChild) EntityRef() Ref {
	return Ref{Kind: KindGrandChild, ID: gc.ID}
}

// Validate checks the id, the name length and that the record has an owner.
func (gc *GrandChild) Validate() error {
	if err := validateCommon(gc.EntityRef(), gc.Name); err != nil {
		return err
	}
	if gc.child == nil {
		return fmt.Errorf("%w: %s: child is required", ErrInvalid, gc.EntityRef())
	}
	return nil
}

// Child returns the owning child, or nil.
func (gc *GrandChild) Child() *Child {
	return gc.child
}

// SetChild sets the owner and wires gc into the owner's collection.
func (gc *GrandChild) SetChild(c *Child) {
	if gc.child != nil {
		if gc.child.Equal(c) {
			return
		}
		gc.child.removeGrandChild(gc)
	}
	if c != nil {
		c.addGrandChild(gc)
	}
	gc.child = c
}

// Equal reports whether gc and other have the same identifier.
func (gc *GrandChild) Equal(other *GrandChild) bool {
	if gc == nil || other == nil {
		return gc == other
	}
	return gc.ID == other.ID
}

func (gc *GrandChild) String() string {
	var childID int64
	if gc.child != nil {
		childID = gc.child.ID
	}
	return fmt.Sprintf("GrandChild{id=%d, version=%s, name=%q, child=%d}",
		gc.ID, formatVersion(gc.Version), gc.Name, childID)
}
