// Package session implements the app lock state machine: which locked app
// must pass a challenge before use, and how long an approved app stays trusted.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidPackage is returned for an empty package name.
	ErrInvalidPackage = errors.New("invalid package name")
	// ErrNoPendingChallenge is returned when resolving a challenge nobody is waiting on.
	ErrNoPendingChallenge = errors.New("no pending challenge for package")
	// ErrUnknownPolicy is returned by ParseRevocationPolicy.
	ErrUnknownPolicy = errors.New("unknown revocation policy")
)

// Outcome is the presenter's answer to a challenge.
type Outcome int

const (
	OutcomeApproved Outcome = iota + 1
	OutcomeDenied
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeDenied:
		return "denied"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// RevocationPolicy decides what happens to a trust window when the user
// navigates away from the trusted app.
type RevocationPolicy int

const (
	// RevokeOnLeave ends trust as soon as another app comes to the foreground.
	RevokeOnLeave RevocationPolicy = iota
	// FixedWindow keeps trust until it expires regardless of navigation.
	FixedWindow
)

func (p RevocationPolicy) String() string {
	switch p {
	case RevokeOnLeave:
		return "revoke_on_leave"
	case FixedWindow:
		return "fixed_window"
	default:
		return "unknown"
	}
}

// ParseRevocationPolicy accepts the String form of a policy. Empty selects RevokeOnLeave.
func ParseRevocationPolicy(s string) (RevocationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "revoke_on_leave":
		return RevokeOnLeave, nil
	case "fixed_window":
		return FixedWindow, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Config holds the state machine timings.
type Config struct {
	// TrustDuration is how long an approved app stays unlocked.
	TrustDuration time.Duration
	// SettleTimeout clears the pending-challenge flag if the presenter never replies.
	SettleTimeout time.Duration
	// ChallengeTimeout bounds how long the presenter may take; expiry counts as denial.
	ChallengeTimeout time.Duration
	Revocation       RevocationPolicy
}

// DefaultConfig returns the documented defaults: 2m trust, 1s settle, 30s challenge.
func DefaultConfig() Config {
	return Config{
		TrustDuration:    2 * time.Minute,
		SettleTimeout:    time.Second,
		ChallengeTimeout: 30 * time.Second,
		Revocation:       RevokeOnLeave,
	}
}

// Presenter shows a challenge for pkg and blocks until it is answered or
// ctx is done. A done ctx must yield OutcomeTimedOut.
type Presenter interface {
	Request(ctx context.Context, pkg string) Outcome
}

// PolicyStore persists the set of locked packages.
type PolicyStore interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, pkg string) error
	Remove(ctx context.Context, pkg string) error
	RemoveAll(ctx context.Context) error
}

// SessionState exists for every locked package. A zero TrustedUntil means
// the package is locked with no trust window.
type SessionState struct {
	TrustedUntil time.Time `json:"trusted_until"`
}

// Decision is what the state machine did with one foreground event.
type Decision int

const (
	DecisionDuplicate Decision = iota + 1 // same package as the last event
	DecisionNotLocked
	DecisionTrusted
	DecisionChallenge // a challenge was requested
	DecisionPending   // locked, but a challenge is already pending
)

func (d Decision) String() string {
	switch d {
	case DecisionDuplicate:
		return "duplicate"
	case DecisionNotLocked:
		return "not_locked"
	case DecisionTrusted:
		return "trusted"
	case DecisionChallenge:
		return "challenge"
	case DecisionPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the machine state.
type Snapshot struct {
	LastPackage    string                  `json:"last_package"`
	TrustedPackage string                  `json:"trusted_package"`
	Pending        bool                    `json:"pending"`
	PendingPackage string                  `json:"pending_package,omitempty"`
	Sessions       map[string]SessionState `json:"sessions"`
}
