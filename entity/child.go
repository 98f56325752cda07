package entity

import (
	"fmt"
	"slices"
)

// Child belongs to exactly one Parent and owns an ordered collection of
// GrandChild records.
type Child struct {
	ID      int64
	Version *int64
	Name    string

	parent        *Parent
	grandChildren []*GrandChild
}

// NewChild creates a transient Child without an owner.
func NewChild(id int64, name string) *Child {
	return &Child{ID: id, Name: name}
}

// EntityRef returns "child#id".
func (c *Child) EntityRef() Ref {
	return Ref{Kind: KindChild, ID: c.ID}
}

// Validate checks the id, the name length and that the child has an owner.
func (c *Child) Validate() error {
	if err := validateCommon(c.EntityRef(), c.Name); err != nil {
		return err
	}
	if c.parent == nil {
		return fmt.Errorf("%w: %s: parent is required", ErrInvalid, c.EntityRef())
	}
	return nil
}

// Parent returns the owning parent, or nil.
func (c *Child) Parent() *Parent {
	return c.parent
}

// SetParent sets the owner and wires c into the owner's collection.
// Setting the current owner again is a no-op. Setting nil detaches c.
func (c *Child) SetParent(p *Parent) {
	if c.parent != nil {
		if c.parent.Equal(p) {
			return
		}
		c.parent.removeChild(c)
	}
	if p != nil {
		p.addChild(c)
	}
	c.parent = p
}

// GrandChildren returns the owned grandchildren in insertion order.
func (c *Child) GrandChildren() []*GrandChild {
	return slices.Clone(c.grandChildren)
}

// GrandChildByID returns the owned grandchild with the given id.
func (c *Child) GrandChildByID(id int64) (*GrandChild, bool) {
	for _, gc := range c.grandChildren {
		if gc.ID == id {
			return gc, true
		}
	}
	return nil, false
}

// AddGrandChild makes c the owner of gc.
func (c *Child) AddGrandChild(gc *GrandChild) {
	gc.SetChild(c)
}

// RemoveGrandChild detaches gc from c.
func (c *Child) RemoveGrandChild(gc *GrandChild) {
	if gc.child.Equal(c) {
		gc.SetChild(nil)
	}
}

// Equal reports whether c and other have the same identifier.
func (c *Child) Equal(other *Child) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.ID == other.ID
}

func (c *Child) String() string {
	var parentID int64
	if c.parent != nil {
		parentID = c.parent.ID
	}
	return fmt.Sprintf("Child{id=%d, version=%s, name=%q, parent=%d, grandChildren=%d}",
		c.ID, formatVersion(c.Version), c.Name, parentID, len(c.grandChildren))
}

func (c *Child) addGrandChild(gc *GrandChild) {
	if _, ok := c.GrandChildByID(gc.ID); ok {
		return
	}
	c.grandChildren = append(c.grandChildren, gc)
}

func (c *Child) removeGrandChild(gc *GrandChild) {
	c.grandChildren = slices.DeleteFunc(c.grandChildren, func(x *GrandChild) bool {
		return x.Equal(gc)
	})
}
