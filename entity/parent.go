package entity

import (
	"fmt"
	"slices"
)

// Parent is the root of the aggregate. It owns an ordered collection of
// Child records.
type Parent struct {
	ID int64

	// Version is the optimistic lock counter. It is nil until the record is
	// first flushed and is maintained by the persistence layer.
	Version *int64

	Name string

	children []*Child
}

// NewParent creates a transient Parent.
func NewParent(id int64, name string) *Parent {
	return &Parent{ID: id, Name: name}
}

// EntityRef returns "parent#id".
func (p *Parent) EntityRef() Ref {
	return Ref{Kind: KindParent, ID: p.ID}
}

// Validate checks the id and the name length.
func (p *Parent) Validate() error {
	return validateCommon(p.EntityRef(), p.Name)
}

// Children returns the owned children in insertion order.
func (p *Parent) Children() []*Child {
	return slices.Clone(p.children)
}

// ChildByID returns the owned child with the given id.
func (p *Parent) ChildByID(id int64) (*Child, bool) {
	for _, c := range p.children {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// AddChild makes p the owner of c, detaching c from its previous owner.
func (p *Parent) AddChild(c *Child) {
	c.SetParent(p)
}

// RemoveChild detaches c from p. The child is left without an owner.
func (p *Parent) RemoveChild(c *Child) {
	if c.parent.Equal(p) {
		c.SetParent(nil)
	}
}

// Equal reports whether p and other have the same identifier.
func (p *Parent) Equal(other *Parent) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.ID == other.ID
}

func (p *Parent) String() string {
	return fmt.Sprintf("Parent{id=%d, version=%s, name=%q, children=%d}",
		p.ID, formatVersion(p.Version), p.Name, len(p.children))
}

// addChild appends c without touching its back-reference.
func (p *Parent) addChild(c *Child) {
	if _, ok := p.ChildByID(c.ID); ok {
		return
	}
	p.children = append(p.children, c)
}

// removeChild drops c without touching its back-reference.
func (p *Parent) removeChild(c *Child) {
	p.children = slices.DeleteFunc(p.children, func(x *Child) bool {
		return x.Equal(c)
	})
}

func formatVersion(v *int64) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%d", *v)
}
