package security

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what the revocation check and the rate limiter do
// when their backend errors. FailOpen favours availability: tokens are
// treated as not revoked and requests are allowed. FailClosed favours
// strictness: tokens are treated as revoked and requests are rejected.
type FailurePolicy int

const (
	FailOpen FailurePolicy = iota
	FailClosed
)

func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown failure policy %q", value)
	}
}

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}
