package kmetrics

import (
	"context"

	"github.com/xinkaiwang/chunkmgr/kerror"
	"go.opencensus.io/metric"
	"go.opencensus.io/metric/metricdata"
)

// Int64Gauge wraps a derived gauge. A gauge name can only be registered once
// per registry; callers upsert one entry per label value combination.
type Int64Gauge struct {
	gaugeName string
	gauge     *metric.Int64DerivedGauge
}

func NewInt64DerivedGauge(ctx context.Context, r *metric.Registry, gaugeName string, description string, labelKeys ...string) *Int64Gauge {
	gauge, err := r.AddInt64DerivedGauge(gaugeName,
		metric.WithDescription(description),
		metric.WithUnit(metricdata.UnitDimensionless),
		metric.WithLabelKeys(labelKeys...),
	)
	if err != nil {
		panic(kerror.Create("metricProducerFail", "error creating gauge").With("gaugeName", gaugeName))
	}
	return &Int64Gauge{
		gaugeName: gaugeName,
		gauge:     gauge,
	}
}

func (g *Int64Gauge) Upsert(ctx context.Context, fn func() int64, labelValues ...string) {
	metricDataLabelValues := []metricdata.LabelValue{}
	for _, metricValue := range labelValues {
		metricDataLabelValues = append(metricDataLabelValues, metricdata.NewLabelValue(metricValue))
	}

	err := g.gauge.UpsertEntry(fn, metricDataLabelValues...)
	if err != nil {
		panic(kerror.Create("UpsertEntryFail", "error gauge UpsertEntry").With("gaugeName", g.gaugeName))
	}
}

// AddInt64DerivedGaugeWithLabels registers a single-entry gauge.
func AddInt64DerivedGaugeWithLabels(ctx context.Context, r *metric.Registry, fn func() int64, gaugeName string, description string, labels map[string]string) {
	labelKeys := []string{}
	labelValues := []string{}
	for k, v := range labels {
		labelKeys = append(labelKeys, k)
		labelValues = append(labelValues, v)
	}
	gauge := NewInt64DerivedGauge(ctx, r, gaugeName, description, labelKeys...)
	gauge.Upsert(ctx, fn, labelValues...)
}
