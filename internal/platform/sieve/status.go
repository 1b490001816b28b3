package sieve

import (
	"strings"

	types "github.com/yungbote/dubbing-backend/internal/domain"
)

// statusTable is the only place provider status strings are interpreted.
// Anything not listed leaves the local job untouched.
var statusTable = map[string]types.JobStatus{
	"queued":     types.JobQueued,
	"pending":    types.JobQueued,
	"processing": types.JobRunning,
	"running":    types.JobRunning,
	"started":    types.JobRunning,
	"finished":   types.JobSucceeded,
	"succeeded":  types.JobSucceeded,
	"completed":  types.JobSucceeded,
	"error":      types.JobFailed,
	"failed":     types.JobFailed,
	"cancelled":  types.JobFailed,
	"canceled":   types.JobFailed,
}

// MapStatus translates a provider status. ok is false for unrecognized values.
func MapStatus(raw string) (types.JobStatus, bool) {
	s, ok := statusTable[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}
