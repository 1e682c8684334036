package statistics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

type StatisticType string

const (
	// Queue health
	StatisticTypeJobStatusCount StatisticType = "job_status_count"

	// Subscriptions
	StatisticTypeActiveSubscriptionCount   StatisticType = "active_subscription_count"
	StatisticTypeDailyNewSubscriptionCount StatisticType = "daily_new_subscription_count"

	// Payments
	StatisticTypeDailyPaymentCount StatisticType = "daily_payment_count"
	StatisticTypeDailyRevenue      StatisticType = "daily_revenue"
)

var AllStatisticTypes = []StatisticType{
	StatisticTypeJobStatusCount,
	StatisticTypeActiveSubscriptionCount,
	StatisticTypeDailyNewSubscriptionCount,
	StatisticTypeDailyPaymentCount,
	StatisticTypeDailyRevenue,
}

const (
	DefaultDays = 30
	MaxDays     = 366
)

type Request struct {
	DataItems []StatisticType `json:"data_items"`
	// Days bounds the daily series, counted back from today.
	Days int `json:"days"`
}

type DataItem struct {
	Date   string `json:"date,omitempty"`
	Label  string `json:"label,omitempty"`
	Label2 string `json:"label2,omitempty"`
	Value  int64  `json:"value"`
}

type Response struct {
	DataItems map[StatisticType][]DataItem `json:"data_items"`
}

// Service answers operator dashboards.
type Service struct {
	db    *gorm.DB
	clock clock.Clock
}

func New(db *gorm.DB, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{db: db, clock: clk}
}

func (s *Service) since(days int) time.Time {
	if days <= 0 {
		days = DefaultDays
	}
	days = min(days, MaxDays)
	today := s.clock.Now().UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -(days - 1))
}

func (s *Service) getJobStatusCount(ctx context.Context, _ *Request) ([]DataItem, error) {
	var results []DataItem
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Select("job_type AS label, status AS label2, count(*) AS value").
		Group("job_type").Group("status").
		Order("label").Order("label2").
		Scan(&results).Error
	return results, err
}

func (s *Service) getActiveSubscriptionCount(ctx context.Context, _ *Request) ([]DataItem, error) {
	var results []DataItem
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("location_code AS label, plan_code AS label2, count(*) AS value").
		Where("status = ? AND expires_at > ?", types.SubscriptionStatusActive, s.clock.Now()).
		Group("location_code").Group("plan_code").
		Order("label").Order("label2").
		Scan(&results).Error
	return results, err
}

type stamped struct {
	CreatedAt time.Time
	Amount    int64
}

// daily buckets rows by UTC date, newest first.
func daily(rows []stamped, sum bool) []DataItem {
	buckets := lo.GroupBy(rows, func(r stamped) string { return r.CreatedAt.UTC().Format(time.DateOnly) })
	out := make([]DataItem, 0, len(buckets))
	for date, rs := range buckets {
		v := int64(len(rs))
		if sum {
			v = lo.SumBy(rs, func(r stamped) int64 { return r.Amount })
		}
		out = append(out, DataItem{Date: date, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

func (s *Service) getDailyNewSubscriptionCount(ctx context.Context, req *Request) ([]DataItem, error) {
	var rows []stamped
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("created_at").
		Where("created_at >= ?", s.since(req.Days)).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return daily(rows, false), nil
}

func (s *Service) paymentRows(ctx context.Context, req *Request) ([]stamped, error) {
	var rows []stamped
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("created_at, amount_stars AS amount").
		Where("status = ? AND created_at >= ?", types.PaymentStatusPaid, s.since(req.Days)).
		Scan(&rows).Error
	return rows, err
}

func (s *Service) getDailyPaymentCount(ctx context.Context, req *Request) ([]DataItem, error) {
	rows, err := s.paymentRows(ctx, req)
	if err != nil {
		return nil, err
	}
	return daily(rows, false), nil
}

func (s *Service) getDailyRevenue(ctx context.Context, req *Request) ([]DataItem, error) {
	rows, err := s.paymentRows(ctx, req)
	if err != nil {
		return nil, err
	}
	return daily(rows, true), nil
}

func (s *Service) getStatistic(ctx context.Context, req *Request, t StatisticType) ([]DataItem, error) {
	switch t {
	case StatisticTypeJobStatusCount:
		return s.getJobStatusCount(ctx, req)
	case StatisticTypeActiveSubscriptionCount:
		return s.getActiveSubscriptionCount(ctx, req)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyNewSubscriptionCount(ctx, req)
	case StatisticTypeDailyPaymentCount:
		return s.getDailyPaymentCount(ctx, req)
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, req)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", t)
	}
}

// Get computes every requested item concurrently. An empty request returns all of them.
func (s *Service) Get(ctx context.Context, req *Request) (*Response, error) {
	items := lo.Uniq(req.DataItems)
	if len(items) == 0 {
		items = AllStatisticTypes
	}

	type entry = lo.Entry[StatisticType, []DataItem]
	var wg sync.WaitGroup
	errChan := make(chan error, len(items))
	resChan := make(chan entry, len(items))
	for _, item := range items {
		wg.Add(1)
		go func(t StatisticType) {
			defer wg.Done()
			res, err := s.getStatistic(ctx, req, t)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", t, err)
				return
			}
			resChan <- entry{Key: t, Value: res}
		}(item)
	}
	wg.Wait()
	close(errChan)
	close(resChan)

	if err := <-errChan; err != nil {
		return nil, err
	}
	results := make(map[StatisticType][]DataItem, len(items))
	for e := range resChan {
		results[e.Key] = e.Value
	}
	return &Response{DataItems: results}, nil
}
