package awsce

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/echolog/echolog-server/internal/billing"
)

type fakeCostExplorer struct {
	pages  []*costexplorer.GetCostAndUsageOutput
	inputs []costexplorer.GetCostAndUsageInput
}

func (f *fakeCostExplorer) GetCostAndUsage(_ context.Context, params *costexplorer.GetCostAndUsageInput, _ ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	f.inputs = append(f.inputs, *params)
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func metric(amount string) ceTypes.MetricValue {
	return ceTypes.MetricValue{Amount: aws.String(amount), Unit: aws.String("USD")}
}

func TestServiceCostsFollowsPagesAndDerivesCredits(t *testing.T) {
	fake := &fakeCostExplorer{pages: []*costexplorer.GetCostAndUsageOutput{
		{
			ResultsByTime: []ceTypes.ResultByTime{{
				Groups: []ceTypes.Group{{
					Keys:    []string{"Amazon Simple Storage Service", "TimedStorage-ByteHrs"},
					Metrics: map[string]ceTypes.MetricValue{metricGross: metric("10.50"), metricNet: metric("8.00")},
				}},
			}},
			NextPageToken: aws.String("next"),
		},
		{
			ResultsByTime: []ceTypes.ResultByTime{{
				Groups: []ceTypes.Group{{
					Keys:    []string{"Amazon Transcribe", "USE1-TranscribeAudio"},
					Metrics: map[string]ceTypes.MetricValue{metricGross: metric("3"), metricNet: metric("3")},
				}},
			}},
		},
	}}
	warehouse := NewWithClient(fake, 0)

	window := billing.Window{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	rows, errRows := warehouse.ServiceCosts(context.Background(), window)
	if errRows != nil {
		t.Fatalf("service costs: %v", errRows)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].SKUDescription != "TimedStorage-ByteHrs" || rows[0].Cost != 10.5 || rows[0].Credits != -2.5 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if len(fake.inputs) != 2 || aws.ToString(fake.inputs[1].NextPageToken) != "next" {
		t.Fatalf("expected second call with page token, got %+v", fake.inputs)
	}
	if aws.ToString(fake.inputs[0].TimePeriod.Start) != "2026-01-01" {
		t.Fatalf("unexpected start %s", aws.ToString(fake.inputs[0].TimePeriod.Start))
	}
}

func TestAllTimeTotalSumsPeriods(t *testing.T) {
	fake := &fakeCostExplorer{pages: []*costexplorer.GetCostAndUsageOutput{{
		ResultsByTime: []ceTypes.ResultByTime{
			{Total: map[string]ceTypes.MetricValue{metricGross: metric("1.25")}},
			{Total: map[string]ceTypes.MetricValue{metricGross: metric("2.75")}},
			{Total: map[string]ceTypes.MetricValue{}},
		},
	}}}
	warehouse := NewWithClient(fake, 6)
	warehouse.now = func() time.Time { return time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC) }

	total, errTotal := warehouse.AllTimeTotal(context.Background())
	if errTotal != nil {
		t.Fatalf("all time total: %v", errTotal)
	}
	if total != 4 {
		t.Fatalf("expected 4, got %v", total)
	}
	if got := aws.ToString(fake.inputs[0].TimePeriod.Start); got != "2026-01-01" {
		t.Fatalf("expected start 2026-01-01, got %s", got)
	}
	if got := aws.ToString(fake.inputs[0].TimePeriod.End); got != "2026-07-16" {
		t.Fatalf("expected end 2026-07-16, got %s", got)
	}
}
