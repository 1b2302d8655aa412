package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	"approve-bot/internal/plans"
	"approve-bot/internal/subscription"
)

const expiryLayout = "2006-01-02 15:04 UTC"

var planFeatures = map[plans.ID][]string{
	plans.Basic: {
		"Unlimited auto-forwarding between your selected chats",
		"Choose sources & targets easily",
		"Start/Stop forwarding anytime",
		"⚠️ High-size file sending is NOT included",
	},
	plans.Pro: {
		"Everything in BASIC",
		"Text replacement filters (@old → @new)",
		"Custom delay control between forwards",
		"✅ High-size media & file sending supported",
	},
	plans.Premium: {
		"Everything in PRO",
		"Custom text at the START/END of every forward",
		"Blacklist words (auto-remove from text)",
		"✅ High-size media & file sending supported",
	},
}

func currencySymbol(code string) string {
	if strings.EqualFold(code, "INR") {
		return "₹"
	}
	return strings.ToUpper(code) + " "
}

// priceTag renders "₹1499 / 30 days".
func priceTag(plan plans.Plan, currency string) string {
	return fmt.Sprintf("%s%s / %d days", currencySymbol(currency), plan.PriceText(), plan.DurationDays)
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.UTC().Format(expiryLayout)
}

// statusText renders the three subscription states.
func statusText(st subscription.Status) string {
	switch st.State {
	case subscription.StateActive:
		label := st.PlanLabel
		if label == "" {
			label = "Unknown Plan"
		}
		return fmt.Sprintf("🟢 <b>Active Plan: %s</b>\n📅 <b>Expires at:</b> <code>%s</code>\n\nThank you for being a premium user! 🎉",
			html.EscapeString(label), formatExpiry(st.ExpiresAt))
	case subscription.StateExpired:
		return "🟠 <b>Your plan has expired.</b>\nUse /upgrade to renew."
	default:
		return "🔴 <b>No active plan found.</b>\nUse /upgrade to purchase any plan."
	}
}

func plansHeaderText(brand string, all []plans.Plan, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✨ <b>%s Plans</b>\n", html.EscapeString(brand))
	for _, plan := range all {
		fmt.Fprintf(&b, "\n<b>%s: %s</b>\n", html.EscapeString(plan.Label), priceTag(plan, currency))
		for _, f := range planFeatures[plan.ID] {
			fmt.Fprintf(&b, "• %s\n", html.EscapeString(f))
		}
	}
	b.WriteString("\n<i>Every payment extends your expiry, unused days are kept.</i>")
	return b.String()
}

func planDetailsText(plan plans.Plan, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s: %s</b>\n\n<b>Features:</b>\n", html.EscapeString(plan.Label), priceTag(plan, currency))
	for _, f := range planFeatures[plan.ID] {
		fmt.Fprintf(&b, "• %s\n", html.EscapeString(f))
	}
	fmt.Fprintf(&b, "\n<i>Validity: %d days. Every renewal adds +%d days.</i>", plan.DurationDays, plan.DurationDays)
	return b.String()
}
