// Copyright 2026 The AuthzEngine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps the OpenTelemetry meter with the instruments the decision
// engine reports on.
type Meter struct {
	meter metric.Meter

	decisions       metric.Int64Counter
	evalDuration    metric.Float64Histogram
	cacheOperations metric.Int64Counter
	auditFailures   metric.Int64Counter
	evictions       metric.Int64Counter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	name := serviceName
	if !cfg.Enabled {
		name = "noop"
	}
	meter := otel.Meter(name)

	m := &Meter{meter: meter}

	var err error
	if m.decisions, err = meter.Int64Counter(
		"authz_decisions_total",
		metric.WithDescription("Authorization decisions by outcome and stage"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter authz_decisions_total: %w", err)
	}
	if m.evalDuration, err = meter.Float64Histogram(
		"authz_evaluation_duration_ms",
		metric.WithDescription("End-to-end evaluation latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create histogram authz_evaluation_duration_ms: %w", err)
	}
	if m.cacheOperations, err = meter.Int64Counter(
		"authz_cache_operations_total",
		metric.WithDescription("Decision cache operations by kind and result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter authz_cache_operations_total: %w", err)
	}
	if m.auditFailures, err = meter.Int64Counter(
		"authz_audit_append_failures_total",
		metric.WithDescription("Audit chain append failures"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter authz_audit_append_failures_total: %w", err)
	}
	if m.evictions, err = meter.Int64Counter(
		"authz_cache_evictions_total",
		metric.WithDescription("Cache evictions triggered by invalidation events"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter authz_cache_evictions_total: %w", err)
	}

	return m, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// RecordDecision counts a completed evaluation.
func (m *Meter) RecordDecision(ctx context.Context, allowed bool, stage string, cacheHit bool, elapsed time.Duration) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
		attribute.Bool("cache_hit", cacheHit),
	)
	m.decisions.Add(ctx, 1, attrs)
	m.evalDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}

// RecordCacheOperation counts a cache backend operation result.
func (m *Meter) RecordCacheOperation(ctx context.Context, operation, result string) {
	m.cacheOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}

// RecordAuditFailure counts a failed audit append.
func (m *Meter) RecordAuditFailure(ctx context.Context) {
	m.auditFailures.Add(ctx, 1)
}

// RecordEvictions counts cache keys evicted for an event kind.
func (m *Meter) RecordEvictions(ctx context.Context, kind string, n int) {
	m.evictions.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("event_kind", kind),
	))
}
