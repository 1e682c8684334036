package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/tool"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

var (
	ErrIntentNotFound       = errors.New("payment_intent_not_found")
	ErrIntentExpired        = errors.New("payment_intent_expired")
	ErrInvalidTransition    = errors.New("payment_intent_invalid_transition")
	ErrEmptyProviderPayment = errors.New("provider_payment_id_empty")
)

// Service runs intents through created -> invoiced -> paid and records charges.
type Service struct {
	db    *gorm.DB
	store *outbox.Store
	cfg   config.PaymentConfig
	clock clock.Clock
	log   *zap.SugaredLogger
}

func NewService(db *gorm.DB, store *outbox.Store, cfg *config.Config, clk clock.Clock, log *zap.SugaredLogger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{db: db, store: store, cfg: cfg.Payment, clock: clk, log: log}
}

// IntentParams describes what the user is about to buy.
type IntentParams struct {
	UserID       int64
	PlanCode     string
	PeriodDays   int
	LocationCode string
	AmountStars  int
	PromoCodeID  *string
	Meta         models.PaymentIntentMeta
}

// CreateIntent stores a new intent valid for the configured TTL.
func (s *Service) CreateIntent(ctx context.Context, p IntentParams) (*models.PaymentIntent, error) {
	return s.createIntent(ctx, s.db, p)
}

func (s *Service) createIntent(ctx context.Context, tx *gorm.DB, p IntentParams) (*models.PaymentIntent, error) {
	now := s.clock.Now()
	intent := &models.PaymentIntent{
		ID:           tool.GenerateUUIDV7(),
		UserID:       p.UserID,
		PlanCode:     p.PlanCode,
		PeriodDays:   p.PeriodDays,
		LocationCode: p.LocationCode,
		AmountStars:  p.AmountStars,
		Provider:     types.PaymentProvider(s.cfg.Provider),
		Status:       types.PaymentIntentStatusCreated,
		PromoCodeID:  p.PromoCodeID,
		ExpiresAt:    now.Add(s.cfg.IntentTTL),
		Meta:         datatypes.NewJSONType(p.Meta),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return intent, nil
}

func (s *Service) GetIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return getIntent(ctx, s.db, id)
}

func getIntent(ctx context.Context, tx *gorm.DB, id string) (*models.PaymentIntent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrIntentNotFound
	}
	var intent models.PaymentIntent
	err := tx.WithContext(ctx).Where("id = ?", id).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return &intent, nil
}

// MarkInvoiced records that the payment channel accepted the pre-checkout.
// Repeating it on an invoiced intent is a no-op.
func (s *Service) MarkInvoiced(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	intent, err := s.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == types.PaymentIntentStatusInvoiced {
		return intent, nil
	}
	if !s.clock.Now().Before(intent.ExpiresAt) {
		return nil, ErrIntentExpired
	}
	if err := s.advance(ctx, s.db, intent, types.PaymentIntentStatusInvoiced); err != nil {
		return nil, err
	}
	return intent, nil
}

// advance moves intent forward with a compare-and-set on the current status.
func (s *Service) advance(ctx context.Context, tx *gorm.DB, intent *models.PaymentIntent, next types.PaymentIntentStatus) error {
	if !intent.Status.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, intent.Status, next)
	}
	now := s.clock.Now()
	res := tx.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", intent.ID, intent.Status).
		Updates(map[string]any{"status": next, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to update payment intent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: intent %s changed concurrently", ErrInvalidTransition, intent.ID)
	}
	intent.Status = next
	intent.UpdatedAt = now
	return nil
}

// HandleSuccessfulPayment records the charge for intent. A repeated
// providerPaymentID returns the stored payment and changes nothing else.
func (s *Service) HandleSuccessfulPayment(ctx context.Context, intentID, providerPaymentID string, raw json.RawMessage) (*models.Payment, error) {
	var payment *models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, _, err = s.handleSuccessfulPayment(ctx, tx, intentID, providerPaymentID, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Service) handleSuccessfulPayment(ctx context.Context, tx *gorm.DB, intentID, providerPaymentID string, raw json.RawMessage) (*models.Payment, *models.PaymentIntent, error) {
	if providerPaymentID == "" {
		return nil, nil, ErrEmptyProviderPayment
	}
	intent, err := getIntent(ctx, tx, intentID)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	payment := &models.Payment{
		ID:                tool.GenerateUUIDV7(),
		IntentID:          intent.ID,
		UserID:            intent.UserID,
		PlanCode:          intent.PlanCode,
		Provider:          intent.Provider,
		ProviderPaymentID: providerPaymentID,
		AmountStars:       intent.AmountStars,
		Currency:          s.cfg.Currency,
		Status:            types.PaymentStatusPaid,
		Raw:               datatypes.JSON(raw),
		CreatedAt:         s.clock.Now(),
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_payment_id"}}, DoNothing: true}).
		Create(payment)
	if res.Error != nil {
		return nil, nil, fmt.Errorf("failed to create payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.Payment
		if err := tx.WithContext(ctx).Where("provider_payment_id = ?", providerPaymentID).First(&existing).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to load existing payment: %w", err)
		}
		logctx.FromCtx(ctx, s.log).Infow("payment_duplicate", "provider_payment_id", providerPaymentID, "payment_id", existing.ID)
		return &existing, intent, nil
	}

	if intent.PromoCodeID != nil {
		redemption := &models.PromoRedemption{
			ID:          tool.GenerateUUIDV7(),
			PromoCodeID: *intent.PromoCodeID,
			UserID:      intent.UserID,
			PaymentID:   &payment.ID,
			RedeemedAt:  payment.CreatedAt,
		}
		if err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(redemption).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to record promo redemption: %w", err)
		}
	}

	if err := s.attributeReferral(ctx, tx, payment); err != nil {
		return nil, nil, err
	}

	if intent.Status != types.PaymentIntentStatusPaid {
		if err := s.advance(ctx, tx, intent, types.PaymentIntentStatusPaid); err != nil {
			return nil, nil, err
		}
	}
	logctx.FromCtx(ctx, s.log).Infow("payment_recorded", "payment_id", payment.ID, "intent_id", intent.ID, "user_id", intent.UserID, "amount_stars", payment.AmountStars)
	return payment, intent, nil
}

// attributeReferral credits the payer's referrer once per payment.
func (s *Service) attributeReferral(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	var user models.User
	err := tx.WithContext(ctx).Where("id = ?", payment.UserID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load payer: %w", err)
	}
	if user.ReferrerID == nil {
		return nil
	}
	earning := &models.ReferralEarning{
		ID:          tool.GenerateUUIDV7(),
		ReferrerID:  *user.ReferrerID,
		ReferredID:  user.ID,
		PaymentID:   payment.ID,
		AmountStars: payment.AmountStars * s.cfg.ReferralPercent / 100,
		CreatedAt:   payment.CreatedAt,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(earning).Error; err != nil {
		return fmt.Errorf("failed to record referral earning: %w", err)
	}
	return nil
}

// CompletePayment records the charge and enqueues provisioning in the same
// transaction, so a confirmed payment is provisioned exactly once.
func (s *Service) CompletePayment(ctx context.Context, intentID, providerPaymentID string, raw json.RawMessage) (*models.Payment, *models.Job, error) {
	var (
		payment *models.Payment
		job     *models.Job
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, intent, err := s.handleSuccessfulPayment(ctx, tx, intentID, providerPaymentID, raw)
		if err != nil {
			return err
		}
		payment = p
		job, err = s.store.WithTx(tx).Enqueue(ctx, types.JobTypeProvisionSubscription, jobs.ProvisionPayload{
			UserID:       intent.UserID,
			PlanCode:     intent.PlanCode,
			LocationCode: intent.LocationCode,
			PeriodDays:   intent.TotalDays(),
			PaymentID:    p.ID,
			Source:       types.ProvisionSourcePayment,
		}, "payment:"+p.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return payment, job, nil
}
