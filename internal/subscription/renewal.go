package subscription

import (
	"strings"
	"time"
)

const day = 24 * time.Hour

// Renew computes the subscription produced by paying for link at now.
//
// Time already paid for is never lost: when current is active the new period
// stacks on its expiry, otherwise it starts at now.
func Renew(current *Subscription, link *PaymentLink, now time.Time) Subscription {
	base := now
	if current.ActiveAt(now) {
		base = *current.ExpiresAt
	}
	expires := base.Add(time.Duration(link.DurationDays) * day).UTC()

	label := link.PlanLabel
	if label == "" {
		label = strings.ToUpper(link.PlanID.String())
	}

	return Subscription{
		UserID:    link.UserID,
		PlanID:    link.PlanID,
		PlanLabel: label,
		ExpiresAt: &expires,
		UpdatedAt: now,
	}
}
