// Package events records contact lifecycle changes in a transactional outbox
// and relays them to Kafka.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"contactlink/internal/contact/models"
)

// Type names a lifecycle change.
type Type string

const (
	TypeCreated Type = "contact.created"
	TypeLinked  Type = "contact.linked"
	TypeMerged  Type = "contact.merged"
)

// Event is one outbox row. Payload is the JSON document published to Kafka.
type Event struct {
	ID               uuid.UUID       `db:"id"`
	Type             Type            `db:"event_type"`
	PrimaryContactID int64           `db:"primary_contact_id"`
	Payload          json.RawMessage `db:"payload"`
	CreatedAt        time.Time       `db:"created_at"`
	PublishedAt      *time.Time      `db:"published_at"`
}

type contactPayload struct {
	ContactID        int64   `json:"contactId"`
	PrimaryContactID int64   `json:"primaryContactId"`
	Email            *string `json:"email,omitempty"`
	PhoneNumber      *string `json:"phoneNumber,omitempty"`
	LinkPrecedence   string  `json:"linkPrecedence"`
}

type mergePayload struct {
	PrimaryContactID int64   `json:"primaryContactId"`
	DemotedIDs       []int64 `json:"demotedContactIds"`
}

// NewCreated describes a contact that started its own group.
func NewCreated(c models.Contact, now time.Time) (Event, error) {
	return newEvent(TypeCreated, c.ID, contactPayload{
		ContactID:        c.ID,
		PrimaryContactID: c.ID,
		Email:            c.Email,
		PhoneNumber:      c.PhoneNumber,
		LinkPrecedence:   string(c.LinkPrecedence),
	}, now)
}

// NewLinked describes new evidence attached to an existing group.
func NewLinked(c models.Contact, primaryID int64, now time.Time) (Event, error) {
	return newEvent(TypeLinked, primaryID, contactPayload{
		ContactID:        c.ID,
		PrimaryContactID: primaryID,
		Email:            c.Email,
		PhoneNumber:      c.PhoneNumber,
		LinkPrecedence:   string(c.LinkPrecedence),
	}, now)
}

// NewMerged describes primaries demoted into an older canonical contact.
func NewMerged(primaryID int64, demoted []int64, now time.Time) (Event, error) {
	return newEvent(TypeMerged, primaryID, mergePayload{
		PrimaryContactID: primaryID,
		DemotedIDs:       demoted,
	}, now)
}

func newEvent(t Type, primaryID int64, payload any, now time.Time) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:               uuid.New(),
		Type:             t,
		PrimaryContactID: primaryID,
		Payload:          body,
		CreatedAt:        now,
	}, nil
}
