package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/fatflowers/tunnelbot/internal/models"
)

var (
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrLocationUnavailable  = errors.New("location_unavailable")
	ErrPromoNotFound        = errors.New("promo_not_found")
	ErrPromoAlreadyRedeemed = errors.New("promo_already_redeemed")
	ErrPromoExhausted       = errors.New("promo_exhausted")
)

// Quote is the priced offer shown before checkout.
type Quote struct {
	PlanCode      string  `json:"plan_code"`
	LocationCode  string  `json:"location_code"`
	PriceStars    int     `json:"price_stars"`
	DiscountStars int     `json:"discount_stars"`
	AmountStars   int     `json:"amount_stars"`
	PeriodDays    int     `json:"period_days"`
	FreeDays      int     `json:"free_days"`
	PromoCode     string  `json:"promo_code,omitempty"`
	PromoCodeID   *string `json:"-"`
	Title         string  `json:"title"`
}

// TotalDays is the period the user ends up provisioned for.
func (q Quote) TotalDays() int {
	return q.PeriodDays + q.FreeDays
}

// Discount computes the promo discount on price and its bonus days.
// A percentage and a flat discount do not stack; the larger one applies.
func Discount(price int, promo *models.PromoCode) (discount, freeDays int) {
	if promo == nil {
		return 0, 0
	}
	if promo.DiscountPercent != nil && *promo.DiscountPercent > 0 {
		discount = price * *promo.DiscountPercent / 100
	}
	if promo.DiscountStars != nil && *promo.DiscountStars > discount {
		discount = *promo.DiscountStars
	}
	if discount < 0 {
		discount = 0
	}
	if promo.FreeDays != nil && *promo.FreeDays > 0 {
		freeDays = *promo.FreeDays
	}
	return discount, freeDays
}

// ChargeAmount never drops below one star.
func ChargeAmount(price, discount int) int {
	return max(price-discount, 1)
}

// Quote prices plan in location for userID, applying promoCode when given.
func (s *Service) Quote(ctx context.Context, userID int64, planCode, locationCode, promoCode string) (*Quote, error) {
	return s.quote(ctx, s.db, userID, planCode, locationCode, promoCode)
}

func (s *Service) quote(ctx context.Context, tx *gorm.DB, userID int64, planCode, locationCode, promoCode string) (*Quote, error) {
	var plan models.Plan
	err := tx.WithContext(ctx).Where("plan_code = ? AND is_active = ?", planCode, true).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	var mappings int64
	if err := tx.WithContext(ctx).Model(&models.PlanLocationMapping{}).
		Where("plan_code = ? AND location_code = ? AND is_active = ?", planCode, locationCode, true).
		Count(&mappings).Error; err != nil {
		return nil, fmt.Errorf("failed to check location: %w", err)
	}
	if mappings == 0 {
		return nil, ErrLocationUnavailable
	}

	q := &Quote{
		PlanCode:     plan.PlanCode,
		LocationCode: locationCode,
		PriceStars:   plan.PriceStars,
		PeriodDays:   plan.DurationDays,
		Title:        plan.Title,
	}
	if promoCode != "" {
		promo, err := s.validatePromo(ctx, tx, userID, promoCode)
		if err != nil {
			return nil, err
		}
		q.DiscountStars, q.FreeDays = Discount(plan.PriceStars, promo)
		q.PromoCode = promo.Code
		q.PromoCodeID = &promo.ID
	}
	q.AmountStars = ChargeAmount(plan.PriceStars, q.DiscountStars)
	return q, nil
}

// ValidatePromo checks that code can still be redeemed by userID.
func (s *Service) ValidatePromo(ctx context.Context, userID int64, code string) (*models.PromoCode, error) {
	return s.validatePromo(ctx, s.db, userID, code)
}

func (s *Service) validatePromo(ctx context.Context, tx *gorm.DB, userID int64, code string) (*models.PromoCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var promo models.PromoCode
	err := tx.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPromoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo: %w", err)
	}
	if promo.ExpiresAt != nil && !s.clock.Now().Before(*promo.ExpiresAt) {
		return nil, ErrPromoNotFound
	}

	var redeemed int64
	if err := tx.WithContext(ctx).Model(&models.PromoRedemption{}).
		Where("promo_code_id = ? AND user_id = ?", promo.ID, userID).
		Count(&redeemed).Error; err != nil {
		return nil, fmt.Errorf("failed to check promo redemption: %w", err)
	}
	if redeemed > 0 {
		return nil, ErrPromoAlreadyRedeemed
	}

	if promo.MaxRedemptions != nil && *promo.MaxRedemptions > 0 {
		var total int64
		if err := tx.WithContext(ctx).Model(&models.PromoRedemption{}).
			Where("promo_code_id = ?", promo.ID).
			Count(&total).Error; err != nil {
			return nil, fmt.Errorf("failed to count promo redemptions: %w", err)
		}
		if total >= int64(*promo.MaxRedemptions) {
			return nil, ErrPromoExhausted
		}
	}
	return &promo, nil
}

// Checkout prices the offer and opens an intent for it.
func (s *Service) Checkout(ctx context.Context, userID int64, planCode, locationCode, promoCode string) (*models.PaymentIntent, *Quote, error) {
	var (
		intent *models.PaymentIntent
		q      *Quote
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		q, err = s.quote(ctx, tx, userID, planCode, locationCode, promoCode)
		if err != nil {
			return err
		}
		intent, err = s.createIntent(ctx, tx, IntentParams{
			UserID:       userID,
			PlanCode:     q.PlanCode,
			PeriodDays:   q.PeriodDays,
			LocationCode: q.LocationCode,
			AmountStars:  q.AmountStars,
			PromoCodeID:  q.PromoCodeID,
			Meta: models.PaymentIntentMeta{
				FreeDays:  q.FreeDays,
				PromoCode: q.PromoCode,
				Title:     q.Title,
			},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return intent, q, nil
}
