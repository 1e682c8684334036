package models

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&User{},
		&Plan{},
		&PlanLocationMapping{},
		&PromoCode{},
		&PromoRedemption{},
		&PaymentIntent{},
		&Payment{},
		&ReferralEarning{},
		&Subscription{},
		&SubscriptionLog{},
		&NotificationLog{},
		&Job{},
	}
}
