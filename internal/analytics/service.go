package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-donasi/internal/events"
)

// DailyTotal is the amount and count of successful donations for one UTC day.
type DailyTotal struct {
	Day    time.Time `json:"day"`
	Amount int64     `json:"amount"`
	Count  int64     `json:"count"`
}

// PurposeTotal groups successful donations by purpose.
type PurposeTotal struct {
	Purpose string `json:"purpose"`
	Amount  int64  `json:"amount"`
	Count   int64  `json:"count"`
}

// Stats summarises successful donations in [From, To).
type Stats struct {
	From          time.Time      `json:"from"`
	To            time.Time      `json:"to"`
	TotalAmount   int64          `json:"total_amount"`
	Count         int64          `json:"count"`
	AverageAmount int64          `json:"average_amount"`
	Anonymous     int64          `json:"anonymous_count"`
	ByPurpose     []PurposeTotal `json:"by_purpose"`
	Daily         []DailyTotal   `json:"daily"`
}

// Querier defines the database access required for donation analytics.
type Querier interface {
	DailyTotals(ctx context.Context, from, to time.Time) ([]DailyTotal, error)
	PurposeTotals(ctx context.Context, from, to time.Time) ([]PurposeTotal, error)
	AnonymousCount(ctx context.Context, from, to time.Time) (int64, error)
}

// Service provides cached donation statistics.
type Service struct {
	Q            Querier
	R            redis.Cmdable
	TTL          time.Duration
	DefaultRange int
	Now          func() time.Time
}

const cachePrefix = "an:donations"

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// Window returns the day-aligned range covering the last days days including today.
func (s *Service) Window(days int) (time.Time, time.Time) {
	if days <= 0 {
		days = s.DefaultRange
	}
	if days <= 0 {
		days = 30
	}
	to := s.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return to.AddDate(0, 0, -days), to
}

// Stats returns donation statistics between from (inclusive) and to (exclusive).
func (s *Service) Stats(ctx context.Context, from, to time.Time) (Stats, error) {
	if s == nil || s.Q == nil {
		return Stats{}, errors.New("analytics service not configured")
	}
	key := cacheKey(cachePrefix, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}
	daily, err := s.Q.DailyTotals(ctx, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("daily totals: %w", err)
	}
	purposes, err := s.Q.PurposeTotals(ctx, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("purpose totals: %w", err)
	}
	anonymous, err := s.Q.AnonymousCount(ctx, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("anonymous count: %w", err)
	}
	out := Stats{From: from, To: to, Anonymous: anonymous, ByPurpose: purposes, Daily: fillDays(from, to, daily)}
	for _, d := range daily {
		out.TotalAmount += d.Amount
		out.Count += d.Count
	}
	if out.Count > 0 {
		out.AverageAmount = out.TotalAmount / out.Count
	}
	s.store(ctx, key, out)
	return out, nil
}

// Notify drops cached statistics when a donation is recorded. It implements
// events.Notifier.
func (s *Service) Notify(ctx context.Context, ev events.Event) error {
	if s == nil || s.R == nil {
		return nil
	}
	if !slices.Contains(events.RecordedTopics(), ev.Topic) {
		return nil
	}
	iter := s.R.Scan(ctx, 0, cachePrefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.R.Del(ctx, keys...).Err()
}

// fillDays returns one entry per day in [from, to), zero-filled where there
// were no donations.
func fillDays(from, to time.Time, rows []DailyTotal) []DailyTotal {
	byDay := make(map[string]DailyTotal, len(rows))
	for _, r := range rows {
		byDay[r.Day.UTC().Format("2006-01-02")] = r
	}
	out := make([]DailyTotal, 0, int(to.Sub(from).Hours()/24))
	for d := from.UTC(); d.Before(to); d = d.AddDate(0, 0, 1) {
		if r, ok := byDay[d.Format("2006-01-02")]; ok {
			r.Day = d
			out = append(out, r)
			continue
		}
		out = append(out, DailyTotal{Day: d})
	}
	return out
}

func (s *Service) fromCache(ctx context.Context, key string) (Stats, bool) {
	if s.R == nil || s.TTL <= 0 {
		return Stats{}, false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return Stats{}, false
	}
	var out Stats
	if err := json.Unmarshal(data, &out); err != nil {
		return Stats{}, false
	}
	return out, true
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
