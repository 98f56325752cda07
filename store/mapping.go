package store

import (
	"slices"

	"github.com/jacentio/lockstore/entity"
)

// The mapping between records and rows is written out for the three known
// kinds; there is no reflection-based metadata.

func kindRank(k entity.Kind) int {
	switch k {
	case entity.KindParent:
		return 0
	case entity.KindChild:
		return 1
	}
	return 2
}

func rowOf(e entity.Entity) Row {
	row := Row{Ref: e.EntityRef()}
	if v := versionOf(e); v != nil {
		row.Version = *v
	}
	switch r := e.(type) {
	case *entity.Parent:
		row.Name = r.Name
	case *entity.Child:
		row.Name = r.Name
		if p := r.Parent(); p != nil {
			row.ParentID = p.ID
		}
	case *entity.GrandChild:
		row.Name = r.Name
		if c := r.Child(); c != nil {
			row.ParentID = c.ID
		}
	}
	return row
}

func newEntity(row Row) entity.Entity {
	v := row.Version
	switch row.Ref.Kind {
	case entity.KindParent:
		p := entity.NewParent(row.Ref.ID, row.Name)
		p.Version = &v
		return p
	case entity.KindChild:
		c := entity.NewChild(row.Ref.ID, row.Name)
		c.Version = &v
		return c
	default:
		gc := entity.NewGrandChild(row.Ref.ID, row.Name)
		gc.Version = &v
		return gc
	}
}

func versionOf(e entity.Entity) *int64 {
	switch r := e.(type) {
	case *entity.Parent:
		return r.Version
	case *entity.Child:
		return r.Version
	case *entity.GrandChild:
		return r.Version
	}
	return nil
}

func setVersion(e entity.Entity, v int64) {
	switch r := e.(type) {
	case *entity.Parent:
		r.Version = &v
	case *entity.Child:
		r.Version = &v
	case *entity.GrandChild:
		r.Version = &v
	}
}

// ownedOf returns the records directly owned by e.
func ownedOf(e entity.Entity) []entity.Entity {
	switch r := e.(type) {
	case *entity.Parent:
		children := r.Children()
		out := make([]entity.Entity, 0, len(children))
		for _, c := range children {
			out = append(out, c)
		}
		return out
	case *entity.Child:
		gcs := r.GrandChildren()
		out := make([]entity.Entity, 0, len(gcs))
		for _, gc := range gcs {
			out = append(out, gc)
		}
		return out
	}
	return nil
}

// hasOwner reports whether e is an owned kind that currently has an owner.
// Parents always report true.
func hasOwner(e entity.Entity) bool {
	switch r := e.(type) {
	case *entity.Child:
		return r.Parent() != nil
	case *entity.GrandChild:
		return r.Child() != nil
	}
	return true
}

// attach wires child into owner.
func attach(child, owner entity.Entity) {
	switch r := child.(type) {
	case *entity.Child:
		if p, ok := owner.(*entity.Parent); ok {
			r.SetParent(p)
		}
	case *entity.GrandChild:
		if c, ok := owner.(*entity.Child); ok {
			r.SetChild(c)
		}
	}
}

// detachFromOwner clears the back-reference of e and removes it from its
// owner's collection.
func detachFromOwner(e entity.Entity) {
	switch r := e.(type) {
	case *entity.Child:
		r.SetParent(nil)
	case *entity.GrandChild:
		r.SetChild(nil)
	}
}

// snapshot is the state of a record as last read from or written to storage.
type snapshot struct {
	version int64
	name    string
	ownerID int64
	members []int64
}

func takeSnapshot(e entity.Entity) *snapshot {
	row := rowOf(e)
	owned := ownedOf(e)
	members := make([]int64, 0, len(owned))
	for _, o := range owned {
		members = append(members, o.EntityRef().ID)
	}
	slices.Sort(members)
	return &snapshot{
		version: row.Version,
		name:    row.Name,
		ownerID: row.ParentID,
		members: members,
	}
}

// dirty reports whether cur differs from the stored state s.
func (s *snapshot) dirty(cur *snapshot) bool {
	return s.name != cur.name || s.ownerID != cur.ownerID || !slices.Equal(s.members, cur.members)
}

// addMember records id as owned in storage, keeping members sorted.
func (s *snapshot) addMember(id int64) {
	i, found := slices.BinarySearch(s.members, id)
	if !found {
		s.members = slices.Insert(s.members, i, id)
	}
}
