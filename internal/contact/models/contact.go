package models

import (
	"cmp"
	"slices"
	"time"
)

// LinkPrecedence marks whether a contact is the canonical record of its group.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// IsValid checks if the precedence is one of the supported values.
func (p LinkPrecedence) IsValid() bool {
	return p == LinkPrecedencePrimary || p == LinkPrecedenceSecondary
}

// Contact is a single identity fragment. A primary never links anywhere; a
// secondary always links directly to a primary.
type Contact struct {
	ID             int64          `db:"id"`
	Email          *string        `db:"email"`
	PhoneNumber    *string        `db:"phone_number"`
	LinkedID       *int64         `db:"linked_id"`
	LinkPrecedence LinkPrecedence `db:"link_precedence"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	DeletedAt      *time.Time     `db:"deleted_at"`
}

func (c Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

func (c Contact) IsSecondary() bool {
	return c.LinkPrecedence == LinkPrecedenceSecondary
}

// PrimaryID is the id of the canonical contact this row belongs to: its own id
// for a primary, its link target for a secondary. ok is false for a secondary
// that carries no link.
func (c Contact) PrimaryID() (id int64, ok bool) {
	if c.IsPrimary() {
		return c.ID, true
	}
	if c.LinkedID != nil {
		return *c.LinkedID, true
	}
	return 0, false
}

// NewContact describes a row to insert. The store assigns id and timestamps.
type NewContact struct {
	Email          *string
	PhoneNumber    *string
	LinkedID       *int64
	LinkPrecedence LinkPrecedence
}

// NewPrimary builds the insert for a contact that starts its own group.
func NewPrimary(email, phoneNumber *string) NewContact {
	return NewContact{
		Email:          email,
		PhoneNumber:    phoneNumber,
		LinkPrecedence: LinkPrecedencePrimary,
	}
}

// NewSecondary builds the insert for new evidence attached to primaryID.
func NewSecondary(email, phoneNumber *string, primaryID int64) NewContact {
	linked := primaryID
	return NewContact{
		Email:          email,
		PhoneNumber:    phoneNumber,
		LinkedID:       &linked,
		LinkPrecedence: LinkPrecedenceSecondary,
	}
}

// CompareAge orders contacts oldest first: createdAt, then id.
func CompareAge(a, b Contact) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortByAge returns a copy of contacts ordered oldest first.
func SortByAge(contacts []Contact) []Contact {
	sorted := slices.Clone(contacts)
	slices.SortStableFunc(sorted, CompareAge)
	return sorted
}
