package tools

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/wagnerlima/certledger/internal/tools"

// Metrics holds the tool call instruments. A nil *Metrics records nothing.
type Metrics struct {
	calls  metric.Int64Counter
	scores metric.Float64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// provider, which is a no-op unless the host installs one.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	calls, err := meter.Int64Counter("certledger.tool.calls",
		metric.WithDescription("Tool calls by tool name and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create calls counter: %w", err)
	}
	scores, err := meter.Float64Histogram("certledger.trust_score",
		metric.WithDescription("Trust score after each reported test result"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return nil, fmt.Errorf("create score histogram: %w", err)
	}
	return &Metrics{calls: calls, scores: scores}, nil
}

func (m *Metrics) recordCall(ctx context.Context, tool, outcome string) {
	if m == nil {
		return
	}
	m.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) recordScore(ctx context.Context, score float64, certified bool) {
	if m == nil {
		return
	}
	m.scores.Record(ctx, score, metric.WithAttributes(attribute.Bool("certified", certified)))
}
