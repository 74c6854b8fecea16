package ledger

import "errors"

var (
	// ErrNotFound is returned when a mutation targets a contribution the ledger never saw.
	ErrNotFound = errors.New("ledger: not found")

	// ErrConsistency marks a broken invariant at the call site: a merge without a
	// merge time, a streak on AllTime, a streak without criteria. Never retried.
	ErrConsistency = errors.New("ledger: consistency violation")

	// ErrNotAllowed is returned when a contribution is started in an organization
	// that is not on the allow-list, or in a paused repository.
	ErrNotAllowed = errors.New("ledger: organization not allowed")

	// ErrInvalidScore is returned for scores outside 1..10.
	ErrInvalidScore = errors.New("ledger: invalid score")
)
