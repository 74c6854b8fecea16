package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PRRef addresses one pull request on the forge.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

// FullID is the ledger identity of a contribution: owner/repo/number.
func (r PRRef) FullID() string {
	return fmt.Sprintf("%s/%s/%d", r.Owner, r.Repo, r.Number)
}

func (r PRRef) String() string {
	return r.FullID()
}

// ParseFullID is the inverse of FullID.
func ParseFullID(s string) (PRRef, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return PRRef{}, fmt.Errorf("malformed pr id %q: want owner/repo/number", s)
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n <= 0 {
		return PRRef{}, fmt.Errorf("malformed pr number in %q", s)
	}
	return PRRef{Owner: parts[0], Repo: parts[1], Number: n}, nil
}

// PrMetadata is an immutable snapshot of a pull request as last fetched.
// A fresher fetch replaces it; nothing mutates it in place.
type PrMetadata struct {
	PRRef
	Author    User
	StartedAt time.Time
	MergedAt  *time.Time
	UpdatedAt time.Time
	Closed    bool
}

func (p PrMetadata) Merged() bool {
	return p.MergedAt != nil
}
