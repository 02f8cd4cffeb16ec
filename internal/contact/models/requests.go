package models

import (
	dErrors "contactlink/pkg/domain-errors"
	"contactlink/pkg/platform/strings"
)

// IdentifyRequest carries the touchpoint a caller submits. Either field may be
// absent, but not both once normalized.
type IdentifyRequest struct {
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
}

// Normalize trims both identifiers and folds blank values to nil.
func (r *IdentifyRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = strings.TrimToNil(r.Email)
	r.PhoneNumber = strings.TrimToNil(r.PhoneNumber)
}

// Validate rejects requests that carry no identifier. Call after Normalize.
func (r *IdentifyRequest) Validate() error {
	if r == nil || (r.Email == nil && r.PhoneNumber == nil) {
		return dErrors.New(dErrors.CodeValidation, "email or phoneNumber is required")
	}
	return nil
}
