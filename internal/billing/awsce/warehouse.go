// Package awsce reads service costs from AWS Cost Explorer.
package awsce

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/echolog/echolog-server/internal/billing"
)

const (
	metricGross = "UnblendedCost"
	metricNet   = "NetUnblendedCost"
	dateLayout  = "2006-01-02"
	// Cost Explorer serves at most 14 months of history.
	defaultHistoryMonths = 13
)

// API is the subset of the Cost Explorer client the warehouse calls.
type API interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Warehouse implements billing.Warehouse on top of Cost Explorer.
type Warehouse struct {
	client        API
	historyMonths int
	now           func() time.Time
}

// New loads the default AWS config for profile and builds a Warehouse.
func New(ctx context.Context, profile string, historyMonths int) (*Warehouse, error) {
	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("awsce: load aws config for profile %q: %w", profile, err)
	}
	// Cost Explorer is a global endpoint served from us-east-1.
	cfg.Region = "us-east-1"
	return NewWithClient(costexplorer.NewFromConfig(cfg), historyMonths), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, historyMonths int) *Warehouse {
	if historyMonths <= 0 || historyMonths > defaultHistoryMonths {
		historyMonths = defaultHistoryMonths
	}
	return &Warehouse{client: client, historyMonths: historyMonths, now: time.Now}
}

// Name identifies the backend.
func (w *Warehouse) Name() string { return "cost_explorer" }

// ServiceCosts returns one row per (service, usage type) in the window.
func (w *Warehouse) ServiceCosts(ctx context.Context, window billing.Window) ([]billing.CostRow, error) {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(window.Start.Format(dateLayout)),
			End:   aws.String(window.End.Format(dateLayout)),
		},
		Granularity: ceTypes.GranularityMonthly,
		Metrics:     []string{metricGross, metricNet},
		GroupBy: []ceTypes.GroupDefinition{
			{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
			{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("USAGE_TYPE")},
		},
	}

	var rows []billing.CostRow
	for {
		result, err := w.client.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, period := range result.ResultsByTime {
			for _, group := range period.Groups {
				gross := amount(group.Metrics, metricGross)
				net := amount(group.Metrics, metricNet)
				row := billing.CostRow{Cost: gross, Credits: net - gross}
				if len(group.Keys) > 0 {
					row.ServiceDescription = group.Keys[0]
				}
				if len(group.Keys) > 1 {
					row.SKUDescription = group.Keys[1]
				}
				rows = append(rows, row)
			}
		}
		if result.NextPageToken == nil || *result.NextPageToken == "" {
			break
		}
		input.NextPageToken = result.NextPageToken
	}
	return rows, nil
}

// AllTimeTotal sums gross cost over the history Cost Explorer retains.
func (w *Warehouse) AllTimeTotal(ctx context.Context) (float64, error) {
	now := w.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -w.historyMonths, 0)
	end := now.Truncate(24*time.Hour).AddDate(0, 0, 1)

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(start.Format(dateLayout)),
			End:   aws.String(end.Format(dateLayout)),
		},
		Granularity: ceTypes.GranularityMonthly,
		Metrics:     []string{metricGross},
	}

	total := 0.0
	for {
		result, err := w.client.GetCostAndUsage(ctx, input)
		if err != nil {
			return 0, err
		}
		for _, period := range result.ResultsByTime {
			total += amount(period.Total, metricGross)
		}
		if result.NextPageToken == nil || *result.NextPageToken == "" {
			break
		}
		input.NextPageToken = result.NextPageToken
	}
	return total, nil
}

func amount(metrics map[string]ceTypes.MetricValue, key string) float64 {
	value, ok := metrics[key]
	if !ok || value.Amount == nil {
		return 0
	}
	parsed, _ := strconv.ParseFloat(*value.Amount, 64)
	return parsed
}
