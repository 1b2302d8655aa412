package subscription

import "time"

// State is the three-way subscription state used by status rendering.
type State string

const (
	StateNone    State = "none"
	StateExpired State = "expired"
	StateActive  State = "active"
)

func (s State) String() string {
	return string(s)
}

type Status struct {
	State     State
	PlanID    string
	PlanLabel string
	ExpiresAt *time.Time
}

// LinkOutcome describes how GetOrCreatePaymentLink ended.
type LinkOutcome string

const (
	LinkReused        LinkOutcome = "reused"
	LinkIssued        LinkOutcome = "created"
	LinkUnavailable   LinkOutcome = "unavailable"
	LinkNotConfigured LinkOutcome = "not_configured"
)

func (o LinkOutcome) String() string {
	return string(o)
}

// HasURL reports whether the caller can show a checkout button.
func (o LinkOutcome) HasURL() bool {
	return o == LinkReused || o == LinkIssued
}

type LinkResult struct {
	Outcome LinkOutcome
	URL     string
	Link    *PaymentLink
}

// VerifyOutcome describes how VerifyAndApply ended.
type VerifyOutcome string

const (
	VerifyNotConfigured   VerifyOutcome = "not_configured"
	VerifyNoLink          VerifyOutcome = "no_link"
	VerifyAlreadyVerified VerifyOutcome = "already_verified"
	VerifyInvalidLink     VerifyOutcome = "invalid_link"
	VerifyRetryLater      VerifyOutcome = "retry_later"
	VerifyPending         VerifyOutcome = "pending"
	VerifyApplied         VerifyOutcome = "verified"
)

func (o VerifyOutcome) String() string {
	return string(o)
}

func (o VerifyOutcome) IsValid() bool {
	switch o {
	case VerifyNotConfigured, VerifyNoLink, VerifyAlreadyVerified, VerifyInvalidLink,
		VerifyRetryLater, VerifyPending, VerifyApplied:
		return true
	}
	return false
}

// VerifyResult carries the outcome plus the data the caller needs for its
// next action: the new expiry when verified, the provider status and the
// stored URL when still pending.
type VerifyResult struct {
	Outcome        VerifyOutcome
	ExpiresAt      *time.Time
	ProviderStatus string
	PaymentURL     string
}
