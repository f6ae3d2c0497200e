package spray

import "errors"

var (
	// ErrNoMatch is the terminal state of a submission the matcher could not
	// resolve to a location. The event is persisted anyway and surfaced in
	// the unmatched report for later repair.
	ErrNoMatch = errors.New("no matching location")

	// ErrBadPayload marks a submission missing its required identity fields
	// (submission id, date). This is a contract violation by the sender and
	// the only condition the ingestion boundary rejects outright.
	ErrBadPayload = errors.New("bad submission payload")
)
