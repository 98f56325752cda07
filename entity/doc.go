// Package entity defines the three mapped record types of the lockstore
// aggregate: Parent, Child and GrandChild.
//
// Each record carries an application-assigned identifier, a version counter
// managed by the persistence layer and a short name. Ownership is modelled in
// both directions and the back-references are maintained by the mutating
// accessors, so a Child added to a Parent always points back at that Parent:
//
//	p := entity.NewParent(275, "Parent_Name")
//	c := entity.NewChild(1001, "Child1_Name")
//	c.SetParent(p) // p.Children() now contains c
//
// Equality for all three types is defined solely by identifier.
package entity
