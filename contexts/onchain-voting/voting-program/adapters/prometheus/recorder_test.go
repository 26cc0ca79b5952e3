package prometheusadapter

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecorderCountsByOperationAndCode(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder, err := NewRecorder(registry)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.ObserveOperation("cast_vote", "ok", 2*time.Millisecond)
	recorder.ObserveOperation("cast_vote", "already_voted", time.Millisecond)
	recorder.ObserveOperation("cast_vote", "ok", time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "votingdapp_program_operations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			code := ""
			for _, label := range metric.GetLabel() {
				if label.GetName() == "code" {
					code = label.GetValue()
				}
			}
			counts[code] = metric.GetCounter().GetValue()
		}
	}
	if counts["ok"] != 2 || counts["already_voted"] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	if _, err := NewRecorder(registry); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
