// Package billing builds the per-service cost report from a billing warehouse.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/echolog/echolog-server/internal/metrics"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultWindowDays = 30
	defaultCacheTTL   = 10 * time.Minute
	reportCacheKey    = "echolog:billing:report:%d"
)

// Window is a half-open [Start, End) time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Warehouse is the billing/usage export the report is built from.
type Warehouse interface {
	// ServiceCosts returns raw cost rows within the window.
	ServiceCosts(ctx context.Context, window Window) ([]CostRow, error)
	// AllTimeTotal returns the gross cost across the whole export.
	AllTimeTotal(ctx context.Context) (float64, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Report is the billing endpoint payload.
type Report struct {
	TotalCost        float64     `json:"totalCost"`
	TotalCredits     float64     `json:"totalCredits"`
	NetCost          float64     `json:"netCost"`
	AllTimeTotal     float64     `json:"allTimeTotal"`
	Currency         string      `json:"currency"`
	Period           Window      `json:"period"`
	ServiceBreakdown []CostEntry `json:"serviceBreakdown"`
	GeneratedAt      time.Time   `json:"generatedAt"`
}

// ReporterConfig tunes report generation.
type ReporterConfig struct {
	WindowDays int
	Currency   string
	CacheTTL   time.Duration
}

// Reporter assembles billing reports. The redis cache is optional.
type Reporter struct {
	warehouse Warehouse
	cache     *redis.Client
	cfg       ReporterConfig
	now       func() time.Time
}

// NewReporter constructs a Reporter.
func NewReporter(warehouse Warehouse, cache *redis.Client, cfg ReporterConfig) *Reporter {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = defaultWindowDays
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Reporter{
		warehouse: warehouse,
		cache:     cache,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Build returns the trailing-window report, served from cache when fresh.
func (r *Reporter) Build(ctx context.Context) (Report, error) {
	if r == nil || r.warehouse == nil {
		return Report{}, apperr.New(apperr.ErrExternalService, "billing warehouse not configured", "")
	}
	if cached, ok := r.loadCached(ctx); ok {
		return cached, nil
	}

	end := r.now().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	window := Window{Start: end.AddDate(0, 0, -r.cfg.WindowDays), End: end}

	rows, errRows := metrics.ObserveCall(r.warehouse.Name(), "service_costs", func() ([]CostRow, error) {
		return r.warehouse.ServiceCosts(ctx, window)
	})
	if errRows != nil {
		return Report{}, apperr.External("billing", "query service costs", errRows)
	}
	allTime, errTotal := metrics.ObserveCall(r.warehouse.Name(), "all_time_total", func() (float64, error) {
		return r.warehouse.AllTimeTotal(ctx)
	})
	if errTotal != nil {
		return Report{}, apperr.External("billing", "query all-time total", errTotal)
	}

	entries := Aggregate(rows)
	report := Report{
		Currency:         r.cfg.Currency,
		Period:           window,
		AllTimeTotal:     round2(allTime),
		ServiceBreakdown: entries,
		GeneratedAt:      r.now(),
	}
	for _, entry := range entries {
		report.TotalCost += entry.Cost
		report.TotalCredits += entry.Credits
	}
	report.TotalCost = round2(report.TotalCost)
	report.TotalCredits = round2(report.TotalCredits)
	report.NetCost = round2(report.TotalCost + report.TotalCredits)
	Normalize(report.ServiceBreakdown, report.TotalCost)

	r.storeCached(ctx, report)
	return report, nil
}

func (r *Reporter) cacheKey() string {
	return fmt.Sprintf(reportCacheKey, r.cfg.WindowDays)
}

func (r *Reporter) loadCached(ctx context.Context) (Report, bool) {
	if r.cache == nil {
		return Report{}, false
	}
	raw, errGet := r.cache.Get(ctx, r.cacheKey()).Bytes()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).Warn("billing: read report cache failed")
		}
		return Report{}, false
	}
	var report Report
	if errUnmarshal := json.Unmarshal(raw, &report); errUnmarshal != nil {
		return Report{}, false
	}
	return report, true
}

func (r *Reporter) storeCached(ctx context.Context, report Report) {
	if r.cache == nil {
		return
	}
	payload, errMarshal := json.Marshal(report)
	if errMarshal != nil {
		return
	}
	if errSet := r.cache.Set(ctx, r.cacheKey(), payload, r.cfg.CacheTTL).Err(); errSet != nil {
		log.WithError(errSet).Warn("billing: write report cache failed")
	}
}
