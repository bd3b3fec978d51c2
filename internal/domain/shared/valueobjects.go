// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// MaxMemberIDLength bounds identifiers coming from the chat platform.
const MaxMemberIDLength = 64

// MemberID represents a stable community member identifier
// (a Discord snowflake in production, any opaque token in tests).
type MemberID string

// IsValid checks that the ID is non-empty, bounded and free of whitespace
// and control characters.
func (m MemberID) IsValid() bool {
	if m == "" || len(m) > MaxMemberIDLength {
		return false
	}
	for _, r := range string(m) {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// String returns the string representation.
func (m MemberID) String() string {
	return string(m)
}

// NewMemberID creates a new MemberID with validation.
func NewMemberID(id string) (MemberID, error) {
	mid := MemberID(strings.TrimSpace(id))
	if !mid.IsValid() {
		return "", ErrInvalidMemberID
	}
	return mid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Rank represents a member's position in a leaderboard.
type Rank int

const (
	MinRank  Rank = 1
	Unranked Rank = 0
)

// IsValid checks if the rank is valid.
func (r Rank) IsValid() bool {
	return r >= MinRank
}

// Int returns the underlying int value.
func (r Rank) Int() int {
	return int(r)
}

// IsTop returns true if the rank is in the top N.
func (r Rank) IsTop(n int) bool {
	return r.IsValid() && int(r) <= n
}

// Medal returns a medal emoji for top ranks.
func (r Rank) Medal() string {
	switch r {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return ""
	}
}

// Label returns the medal for the podium and "#N" for everyone else.
func (r Rank) Label() string {
	if m := r.Medal(); m != "" {
		return m
	}
	return fmt.Sprintf("#%d", r)
}

// ═══════════════════════════════════════════════════════════════════════════
// Limit Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Leaderboard size bounds for externally supplied limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ClampLimit normalizes a requested leaderboard size.
// Zero means "use the default", negative values are rejected.
func ClampLimit(n int) (int, error) {
	switch {
	case n < 0:
		return 0, NewDomainError("shared", "ClampLimit", ErrValueOutOfRange, "limit cannot be negative")
	case n == 0:
		return DefaultLimit, nil
	case n > MaxLimit:
		return MaxLimit, nil
	default:
		return n, nil
	}
}
