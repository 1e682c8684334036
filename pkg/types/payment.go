package types

type PaymentProvider string

const (
	PaymentProviderTelegramStars PaymentProvider = "telegram_stars"
)

type PaymentIntentStatus string

const (
	PaymentIntentStatusCreated  PaymentIntentStatus = "created"
	PaymentIntentStatusInvoiced PaymentIntentStatus = "invoiced"
	PaymentIntentStatusPaid     PaymentIntentStatus = "paid"
)

var intentStatusRank = map[PaymentIntentStatus]int{
	PaymentIntentStatusCreated:  0,
	PaymentIntentStatusInvoiced: 1,
	PaymentIntentStatusPaid:     2,
}

// CanAdvanceTo reports whether an intent may move from s to next.
// Intents only move forward: created -> invoiced -> paid.
func (s PaymentIntentStatus) CanAdvanceTo(next PaymentIntentStatus) bool {
	cur, ok := intentStatusRank[s]
	if !ok {
		return false
	}
	n, ok := intentStatusRank[next]
	if !ok {
		return false
	}
	return n > cur
}

type PaymentStatus string

const (
	PaymentStatusPaid PaymentStatus = "paid"
)
