package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/metrics"
)

func TestHooksRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	onItem, onWatermark, onDepths := m.DispatchHooks()
	onItem(domain.OutcomeDelivered, time.Second)
	onItem(domain.OutcomeDelivered, time.Second)
	onItem(domain.OutcomeAbandoned, time.Second)
	onWatermark("youtube/channel/UC1")
	onDepths(map[domain.QueueKey]int{"a": 3})
	onDepths(map[domain.QueueKey]int{"b": 1})

	onEnqueued, onSourceFailed, onPass := m.PollHooks()
	onEnqueued(4)
	onSourceFailed("a")
	onPass(2 * time.Second)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	processed := byName["feeddigest_items_processed_total"]
	if processed == nil {
		t.Fatal("items_processed_total not gathered")
	}
	if got := len(processed.GetMetric()); got != len(domain.Outcomes) {
		t.Errorf("expected %d outcome series, got %d", len(domain.Outcomes), got)
	}
	for _, metric := range processed.GetMetric() {
		if metric.GetLabel()[0].GetValue() == string(domain.OutcomeDelivered) && metric.GetCounter().GetValue() != 2 {
			t.Errorf("expected 2 delivered, got %v", metric.GetCounter().GetValue())
		}
	}

	depth := byName["feeddigest_queue_depth"]
	if depth == nil || len(depth.GetMetric()) != 1 {
		t.Fatalf("expected exactly one queue depth series after reset")
	}
	if v := depth.GetMetric()[0].GetLabel()[0].GetValue(); v != "b" {
		t.Errorf("expected stale series dropped, got label %q", v)
	}

	if got := byName["feeddigest_items_enqueued_total"].GetMetric()[0].GetCounter().GetValue(); got != 4 {
		t.Errorf("expected 4 enqueued, got %v", got)
	}
}
