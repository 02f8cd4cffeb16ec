package service

import (
	"fmt"
	"slices"

	"contactlink/internal/contact/models"
	dErrors "contactlink/pkg/domain-errors"
)

// referencedPrimaryIDs collects the canonical ids the matched rows point at,
// sorted and unique. A secondary without a link references nothing.
func referencedPrimaryIDs(matches []models.Contact) []int64 {
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		if id, ok := m.PrimaryID(); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// mergePlan is the outcome of electing a canonical contact for a group.
type mergePlan struct {
	canonical models.Contact
	// demote lists the other primaries, oldest first.
	demote []int64
	// degraded is set when no member was primary and the oldest contact of
	// any precedence had to stand in as canonical.
	degraded bool
}

// planMerge elects the oldest primary as canonical and marks every other
// primary for demotion. group must be non-empty.
func planMerge(group []models.Contact) mergePlan {
	sorted := models.SortByAge(group)

	var plan mergePlan
	found := false
	for _, c := range sorted {
		if !c.IsPrimary() {
			continue
		}
		if !found {
			plan.canonical = c
			found = true
			continue
		}
		plan.demote = append(plan.demote, c.ID)
	}
	if !found {
		plan.canonical = sorted[0]
		plan.degraded = true
	}
	return plan
}

// verifyFlatLinks asserts the consolidated group has exactly one primary, the
// canonical, and that every other member links to it directly.
func verifyFlatLinks(canonicalID int64, group []models.Contact) error {
	seenCanonical := false
	for _, c := range group {
		if c.ID == canonicalID {
			if !c.IsPrimary() || c.LinkedID != nil {
				return dErrors.New(dErrors.CodeInvariantViolation,
					fmt.Sprintf("canonical contact %d is not a primary", canonicalID))
			}
			seenCanonical = true
			continue
		}
		if !c.IsSecondary() || c.LinkedID == nil || *c.LinkedID != canonicalID {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("contact %d is not linked directly to canonical contact %d", c.ID, canonicalID))
		}
	}
	if !seenCanonical {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("canonical contact %d missing from its group", canonicalID))
	}
	return nil
}

// hasNewEvidence reports whether the request carries an email or phone the
// group does not know yet.
func hasNewEvidence(group []models.Contact, email, phoneNumber *string) bool {
	emails := make(map[string]struct{}, len(group))
	phones := make(map[string]struct{}, len(group))
	for _, c := range group {
		if c.Email != nil {
			emails[*c.Email] = struct{}{}
		}
		if c.PhoneNumber != nil {
			phones[*c.PhoneNumber] = struct{}{}
		}
	}

	if email != nil {
		if _, ok := emails[*email]; !ok {
			return true
		}
	}
	if phoneNumber != nil {
		if _, ok := phones[*phoneNumber]; !ok {
			return true
		}
	}
	return false
}
