package domain

import "time"

// Plan is a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanPro     Plan = "pro"
	PlanVIP     Plan = "vip"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPremium, PlanPro, PlanVIP:
		return true
	}
	return false
}

// Entitlement is the per-account record of what the account may consume.
// BonusUsed only ever transitions false to true.
type Entitlement struct {
	AccountID    string
	Plan         Plan
	ExpiresAt    time.Time
	PointBalance int64
	BonusUsed    bool
	Version      int64
	UpdatedAt    time.Time
}

// ActiveAt reports whether the subscription is active at the given time.
func (e *Entitlement) ActiveAt(now time.Time) bool {
	return e.ExpiresAt.After(now)
}

// PaymentEffect describes what a payment event does to an entitlement.
type PaymentEffect string

const (
	EffectCreditPoints       PaymentEffect = "points_credited"
	EffectExtendSubscription PaymentEffect = "subscription_extended"
)

// Valid reports whether e is a known effect.
func (e PaymentEffect) Valid() bool {
	return e == EffectCreditPoints || e == EffectExtendSubscription
}

// PaymentEvent is an append-only record of a gateway callback. EventID is
// assigned by the gateway and doubles as the idempotency key.
type PaymentEvent struct {
	EventID    string
	AccountID  string
	Effect     PaymentEffect
	Points     int64
	Plan       Plan
	ExtendDays int
	Applied    bool
	CreatedAt  time.Time
}
