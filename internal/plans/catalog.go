package plans

import (
	"errors"
	"fmt"
	"strings"

	"approve-bot/internal/config"
)

var ErrUnknownPlan = errors.New("unknown plan")

// ID identifies a subscription tier.
type ID string

const (
	Basic   ID = "basic"
	Pro     ID = "pro"
	Premium ID = "premium"
)

func (id ID) String() string {
	return string(id)
}

func (id ID) IsValid() bool {
	switch id {
	case Basic, Pro, Premium:
		return true
	}
	return false
}

func (id ID) Emoji() string {
	switch id {
	case Basic:
		return "💠"
	case Pro:
		return "⚡️"
	case Premium:
		return "💎"
	}
	return "📦"
}

// ParseID accepts plan identifiers case-insensitively.
func ParseID(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if !id.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
	}
	return id, nil
}

// Plan is a subscription tier. Price is in minor currency units.
type Plan struct {
	ID           ID
	Label        string
	Price        int64
	DurationDays int
}

// PriceText renders the price in major units, e.g. 149900 -> "1499" and 149950 -> "1499.50".
func (p Plan) PriceText() string {
	major, minor := p.Price/100, p.Price%100
	if minor == 0 {
		return fmt.Sprintf("%d", major)
	}
	return fmt.Sprintf("%d.%02d", major, minor)
}

type Catalog struct {
	order []ID
	plans map[ID]Plan
}

func NewCatalog(list ...Plan) *Catalog {
	c := &Catalog{plans: make(map[ID]Plan, len(list))}
	for _, p := range list {
		if _, dup := c.plans[p.ID]; !dup {
			c.order = append(c.order, p.ID)
		}
		c.plans[p.ID] = p
	}
	return c
}

// FromConfig builds the three standard tiers.
func FromConfig(cfg *config.Config) *Catalog {
	return NewCatalog(
		Plan{ID: Basic, Label: Basic.Emoji() + " BASIC", Price: cfg.BasicPrice, DurationDays: cfg.PlanDurationDays},
		Plan{ID: Pro, Label: Pro.Emoji() + " PRO", Price: cfg.ProPrice, DurationDays: cfg.PlanDurationDays},
		Plan{ID: Premium, Label: Premium.Emoji() + " PREMIUM", Price: cfg.PremiumPrice, DurationDays: cfg.PlanDurationDays},
	)
}

func (c *Catalog) Get(id ID) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}

func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}
