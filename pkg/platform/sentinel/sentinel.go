package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, gateways and external
// sources return these (optionally wrapped) so services can translate them
// into domain errors:
// - ErrNotFound: row or record does not exist
// - ErrConflict: a uniqueness rule would be violated
// - ErrUnavailable: backend or remote source temporarily unavailable
// - ErrRateLimited: remote source refused the call for volume reasons
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrRateLimited = errors.New("rate limited")
)
