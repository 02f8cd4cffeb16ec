package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ViewSuite struct {
	suite.Suite
	t0 time.Time
}

func TestViewSuite(t *testing.T) {
	suite.Run(t, new(ViewSuite))
}

func (s *ViewSuite) SetupTest() {
	s.t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func (s *ViewSuite) contact(id int64, email, phone string, linkedID int64, age time.Duration) Contact {
	c := Contact{
		ID:             id,
		LinkPrecedence: LinkPrecedencePrimary,
		CreatedAt:      s.t0.Add(age),
		UpdatedAt:      s.t0.Add(age),
	}
	if email != "" {
		c.Email = &email
	}
	if phone != "" {
		c.PhoneNumber = &phone
	}
	if linkedID != 0 {
		c.LinkedID = &linkedID
		c.LinkPrecedence = LinkPrecedenceSecondary
	}
	return c
}

func (s *ViewSuite) TestSingleFreshPrimary() {
	view := BuildView(7, []Contact{s.contact(7, "a@x.com", "111", 0, 0)})

	s.Equal(int64(7), view.PrimaryContactID)
	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Equal([]string{"111"}, view.PhoneNumbers)
	s.Equal([]int64{}, view.SecondaryContactIDs)
}

func (s *ViewSuite) TestCanonicalValuesComeFirst() {
	// the secondary is older than the canonical on paper (clock skew between
	// writers); the canonical's own values must still lead
	contacts := []Contact{
		s.contact(3, "late@x.com", "333", 1, -time.Minute),
		s.contact(1, "first@x.com", "111", 0, 0),
		s.contact(2, "second@x.com", "222", 1, time.Minute),
	}

	view := BuildView(1, contacts)

	s.Equal([]string{"first@x.com", "late@x.com", "second@x.com"}, view.Emails)
	s.Equal([]string{"111", "333", "222"}, view.PhoneNumbers)
	s.Equal([]int64{3, 2}, view.SecondaryContactIDs)
}

func (s *ViewSuite) TestDeduplicatesAcrossGroup() {
	contacts := []Contact{
		s.contact(1, "a@x.com", "111", 0, 0),
		s.contact(2, "a@x.com", "222", 1, time.Minute),
		s.contact(3, "b@x.com", "111", 1, 2*time.Minute),
		s.contact(4, "b@x.com", "222", 1, 3*time.Minute),
	}

	view := BuildView(1, contacts)

	s.Equal([]string{"a@x.com", "b@x.com"}, view.Emails)
	s.Equal([]string{"111", "222"}, view.PhoneNumbers)
	s.Equal([]int64{2, 3, 4}, view.SecondaryContactIDs)
}

func (s *ViewSuite) TestCanonicalWithoutEmail() {
	contacts := []Contact{
		s.contact(1, "", "111", 0, 0),
		s.contact(2, "a@x.com", "111", 1, time.Minute),
	}

	view := BuildView(1, contacts)

	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Equal([]string{"111"}, view.PhoneNumbers)
}

func (s *ViewSuite) TestTiesBreakOnID() {
	contacts := []Contact{
		s.contact(5, "e@x.com", "", 1, time.Minute),
		s.contact(4, "d@x.com", "", 1, time.Minute),
		s.contact(1, "a@x.com", "", 0, 0),
	}

	view := BuildView(1, contacts)

	s.Equal([]string{"a@x.com", "d@x.com", "e@x.com"}, view.Emails)
	s.Equal([]int64{4, 5}, view.SecondaryContactIDs)
	s.Equal([]string{}, view.PhoneNumbers)
}

func (s *ViewSuite) TestDoesNotMutateInput() {
	contacts := []Contact{
		s.contact(2, "b@x.com", "", 1, time.Minute),
		s.contact(1, "a@x.com", "", 0, 0),
	}

	BuildView(1, contacts)

	s.Equal(int64(2), contacts[0].ID)
}

func (s *ViewSuite) TestSecondaryStandInIsListed() {
	// primary 1 is gone; 2 stands in as canonical but stays a secondary
	contacts := []Contact{
		s.contact(3, "", "888", 2, 2*time.Minute),
		s.contact(2, "orphan@x.com", "999", 1, time.Minute),
	}

	view := BuildView(2, contacts)

	s.Equal(int64(2), view.PrimaryContactID)
	s.Equal([]string{"999", "888"}, view.PhoneNumbers)
	s.Equal([]int64{2, 3}, view.SecondaryContactIDs)
}
