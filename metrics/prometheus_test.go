package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-webhooks/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricName(t *testing.T) {
	require.Equal(t, "webhooks_dispatch_attempt_total", MetricName(core.MetricDispatchAttempts))
	require.Equal(t, "webhooks_dispatch_send_duration_ms", MetricName(core.MetricDispatchDuration))
	require.Equal(t, "_5xx_rate", MetricName("5xx-rate"))
	require.Equal(t, "", MetricName("  "))
}

func TestPrometheusRecorder_CountsByLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry)
	ctx := context.Background()

	recorder.IncCounter(ctx, core.MetricDispatchAttempts, 1, map[string]string{"event_type": "order.paid", "status": "sent"})
	recorder.IncCounter(ctx, core.MetricDispatchAttempts, 2, map[string]string{"event_type": "order.paid", "status": "failed"})
	recorder.IncCounter(ctx, core.MetricDispatchAttempts, 1, map[string]string{"event_type": "order.paid", "status": "sent"})

	entry, err := recorder.counter(core.MetricDispatchAttempts, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"event_type", "status"}, entry.labels)
	require.Equal(t, 2.0, testutil.ToFloat64(entry.vec.WithLabelValues("order.paid", "sent")))
	require.Equal(t, 2.0, testutil.ToFloat64(entry.vec.WithLabelValues("order.paid", "failed")))

	count, err := testutil.GatherAndCount(registry, "webhooks_dispatch_attempt_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestPrometheusRecorder_LabelSetFixedAtFirstUse(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry)
	ctx := context.Background()

	recorder.IncCounter(ctx, core.MetricDispatchDeadLetter, 1, map[string]string{"event_type": "video.completed"})
	require.NotPanics(t, func() {
		recorder.IncCounter(ctx, core.MetricDispatchDeadLetter, 1, map[string]string{"status": "dead", "extra": "x"})
	})

	entry, err := recorder.counter(core.MetricDispatchDeadLetter, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"event_type"}, entry.labels)
	require.Equal(t, 1.0, testutil.ToFloat64(entry.vec.WithLabelValues("video.completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(entry.vec.WithLabelValues("")))
}

func TestPrometheusRecorder_HistogramAndNamespace(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry, WithNamespace("app"), WithBuckets([]float64{1, 10, 100}))
	ctx := context.Background()

	recorder.ObserveHistogram(ctx, core.MetricDispatchDuration, 42, map[string]string{"event_type": "order.paid", "status": "sent"})
	recorder.ObserveHistogram(ctx, core.MetricDispatchDuration, 7, map[string]string{"event_type": "order.paid", "status": "sent"})

	expected := `
# HELP app_webhooks_dispatch_send_duration_ms Histogram for webhooks.dispatch.send.duration_ms.
# TYPE app_webhooks_dispatch_send_duration_ms histogram
app_webhooks_dispatch_send_duration_ms_bucket{event_type="order.paid",status="sent",le="1"} 0
app_webhooks_dispatch_send_duration_ms_bucket{event_type="order.paid",status="sent",le="10"} 1
app_webhooks_dispatch_send_duration_ms_bucket{event_type="order.paid",status="sent",le="100"} 2
app_webhooks_dispatch_send_duration_ms_bucket{event_type="order.paid",status="sent",le="+Inf"} 2
app_webhooks_dispatch_send_duration_ms_sum{event_type="order.paid",status="sent"} 49
app_webhooks_dispatch_send_duration_ms_count{event_type="order.paid",status="sent"} 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "app_webhooks_dispatch_send_duration_ms"))
}

func TestPrometheusRecorder_ReusesAlreadyRegisteredCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewPrometheusRecorder(registry)
	second := NewPrometheusRecorder(registry)
	ctx := context.Background()
	tags := map[string]string{"event_type": "order.paid"}

	first.IncCounter(ctx, "webhooks.enqueue.total", 1, tags)
	second.IncCounter(ctx, "webhooks.enqueue.total", 1, tags)

	entry, err := second.counter("webhooks.enqueue.total", tags)
	require.NoError(t, err)
	require.Equal(t, 2.0, testutil.ToFloat64(entry.vec.WithLabelValues("order.paid")))
}

func TestPrometheusRecorder_ServiceWiring(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry)

	cfg := core.DefaultConfig()
	cfg.OutgoingSecret = "outgoing"
	cfg.DefaultTargetURL = "https://hooks.example.com/in"
	svc, err := core.NewService(cfg,
		core.WithDispatchStore(core.NewMemoryDispatchStore()),
		core.WithMetricsRecorder(recorder),
	)
	require.NoError(t, err)

	_, err = svc.Enqueue(context.Background(), core.EnqueueRequest{
		EventType: "order.paid",
		Payload:   map[string]any{"orderId": "O1"},
	})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(registry, "webhooks_enqueue_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
