package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// ErrInvalidState means a write was refused because the persisted rows would
// violate a linkage invariant, such as a primary carrying a link or a
// secondary pointing at a missing contact.
var (
	ErrInvalidState = errors.New("invalid state")
)
