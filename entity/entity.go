package entity

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxNameLength is the column length of every name field.
const MaxNameLength = 32

// ErrInvalid is returned by Validate when a record cannot be stored.
var ErrInvalid = errors.New("entity: invalid record")

// Kind names a record type.
type Kind string

const (
	KindParent     Kind = "parent"
	KindChild      Kind = "child"
	KindGrandChild Kind = "grandchild"
)

// Owner returns the kind that owns records of kind k, or "" for roots.
func (k Kind) Owner() Kind {
	switch k {
	case KindChild:
		return KindParent
	case KindGrandChild:
		return KindChild
	}
	return ""
}

// Ref is the type-qualified identity of a record.
type Ref struct {
	Kind Kind
	ID   int64
}

// String renders the reference as "kind#id".
func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// Entity is implemented by Parent, Child and GrandChild.
type Entity interface {
	// EntityRef returns the type-qualified identity of the record.
	EntityRef() Ref

	// Validate reports whether the record can be stored.
	Validate() error
}

func validateCommon(ref Ref, name string) error {
	if ref.ID <= 0 {
		return fmt.Errorf("%w: %s: id must be positive", ErrInvalid, ref)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: %s: name longer than %d characters", ErrInvalid, ref, MaxNameLength)
	}
	return nil
}
