package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when metrics are constructed without a meter
var ErrMeterNil = errors.New("meter is nil")

// FiscalMetrics tracks the authorization pipeline: job throughput per
// outcome, per-job processing latency, emission terminal statuses and
// authority round-trip latency.
type FiscalMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	jobsTotal         metric.Int64Counter
	jobDuration       metric.Float64Histogram
	emissionsTotal    metric.Int64Counter
	authorityDuration metric.Float64Histogram
}

// NewFiscalMetrics creates a new FiscalMetrics instance
func NewFiscalMetrics(meter metric.Meter, logger *zap.Logger) (*FiscalMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	jobsTotal, err := meter.Int64Counter(
		"fiscal_emission_jobs_total",
		metric.WithDescription("Total number of emission jobs processed, by type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs counter: %w", err)
	}

	jobDuration, err := meter.Float64Histogram(
		"fiscal_emission_job_duration_seconds",
		metric.WithDescription("Wall-clock duration of an emission job attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job duration histogram: %w", err)
	}

	emissionsTotal, err := meter.Int64Counter(
		"fiscal_emissions_total",
		metric.WithDescription("Total number of emissions reaching a status, by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create emissions counter: %w", err)
	}

	authorityDuration, err := meter.Float64Histogram(
		"fiscal_authority_roundtrip_seconds",
		metric.WithDescription("Wall-clock duration of an authority exchange, by operation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authority duration histogram: %w", err)
	}

	return &FiscalMetrics{
		meter:             meter,
		logger:            logger,
		jobsTotal:         jobsTotal,
		jobDuration:       jobDuration,
		emissionsTotal:    emissionsTotal,
		authorityDuration: authorityDuration,
	}, nil
}

// RecordJob records one finished job attempt
func (m *FiscalMetrics) RecordJob(ctx context.Context, jobType, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", outcome),
	)
	m.jobsTotal.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordEmissionOutcome records an emission reaching a status
func (m *FiscalMetrics) RecordEmissionOutcome(ctx context.Context, status string) {
	m.emissionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordAuthorityRoundTrip records one authority exchange
func (m *FiscalMetrics) RecordAuthorityRoundTrip(ctx context.Context, operation string, duration time.Duration) {
	m.authorityDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
