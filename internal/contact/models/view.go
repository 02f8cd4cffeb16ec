package models

import (
	"contactlink/pkg/platform/strings"
)

// ContactView is the consolidated identity returned to callers.
type ContactView struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse wraps the view the way the endpoint returns it.
type IdentifyResponse struct {
	Contact *ContactView `json:"contact"`
}

// BuildView assembles the deterministic summary of a group. The canonical
// contact's own email and phone come first; every other distinct value follows
// in (createdAt, id) order. Every secondary member is listed in the same order,
// including a secondary standing in as canonical.
func BuildView(primaryID int64, contacts []Contact) *ContactView {
	sorted := SortByAge(contacts)

	emails := make([]string, 0, len(sorted)+1)
	phones := make([]string, 0, len(sorted)+1)
	secondaries := make([]int64, 0, len(sorted))

	for _, c := range sorted {
		if c.ID == primaryID {
			emails = append(emails, deref(c.Email))
			phones = append(phones, deref(c.PhoneNumber))
			break
		}
	}

	for _, c := range sorted {
		if c.IsSecondary() {
			secondaries = append(secondaries, c.ID)
		}
		emails = append(emails, deref(c.Email))
		phones = append(phones, deref(c.PhoneNumber))
	}

	return &ContactView{
		PrimaryContactID:    primaryID,
		Emails:              strings.DedupeNonEmpty(emails),
		PhoneNumbers:        strings.DedupeNonEmpty(phones),
		SecondaryContactIDs: secondaries,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
