// Package otel reports engine counters through an OpenTelemetry meter.
//
// Every engine counter is one data point of authgate_events_total keyed by
// the "event" attribute. The login latency histogram is reported as
// cumulative bucket gauges keyed by "le".
package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	EventsName        = "authgate_events_total"
	LatencyBucketName = "authgate_login_latency_seconds_bucket"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter holds the callback registration for one metrics source.
type Exporter struct {
	source       metricsSource
	registration metric.Registration

	events       metric.Int64ObservableCounter
	latency      metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter

	eventSets  []attribute.Set
	bucketSets []attribute.Set
}

func NewExporter(meter metric.Meter, engine *authgate.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var err error
	if e.events, err = meter.Int64ObservableCounter(EventsName,
		metric.WithDescription("Engine events by kind.")); err != nil {
		return nil, fmt.Errorf("otel: events counter: %w", err)
	}
	if e.latency, err = meter.Int64ObservableGauge(LatencyBucketName,
		metric.WithDescription("Cumulative login latency bucket counts."),
		metric.WithUnit("{login}")); err != nil {
		return nil, fmt.Errorf("otel: latency gauge: %w", err)
	}
	if e.auditDropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription("Audit events dropped on a full buffer.")); err != nil {
		return nil, fmt.Errorf("otel: audit dropped counter: %w", err)
	}

	for _, def := range internaldefs.CounterDefs {
		e.eventSets = append(e.eventSets, attribute.NewSet(attribute.String("event", eventName(def.Name))))
	}
	for _, bound := range internaldefs.HistogramUpperBounds {
		e.bucketSets = append(e.bucketSets, attribute.NewSet(attribute.String("le", strconv.FormatFloat(bound, 'f', -1, 64))))
	}
	e.bucketSets = append(e.bucketSets, attribute.NewSet(attribute.String("le", "+Inf")))

	e.registration, err = meter.RegisterCallback(e.observe, e.events, e.latency, e.auditDropped)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for i, def := range internaldefs.CounterDefs {
		o.ObserveInt64(e.events, int64(snap.Counters[def.ID]), metric.WithAttributeSet(e.eventSets[i]))
	}
	if raw, ok := snap.Histograms[authgate.MetricLoginLatency]; ok {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, set := range e.bucketSets {
			o.ObserveInt64(e.latency, int64(cumulative[i]), metric.WithAttributeSet(set))
		}
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// eventName turns authgate_login_success_total into login_success.
func eventName(counter string) string {
	return strings.TrimSuffix(strings.TrimPrefix(counter, "authgate_"), "_total")
}
