package types

type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

type ProvisionSource string

const (
	ProvisionSourcePayment ProvisionSource = "payment"
	ProvisionSourceTrial   ProvisionSource = "trial"
	ProvisionSourceAdmin   ProvisionSource = "admin"
)
