package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewDisabled(t *testing.T) {
	m := New(nil)

	// Every recording method must be a safe no-op with a nil registerer.
	m.RecordIngestRequest("ok", time.Millisecond)
	m.SetQueueDepth(5)
	m.IncMessagesEnqueued()
	m.IncMessagesDropped("queue_full")
	m.IncBatchesSent()
	m.IncPollCycle("ok")
	m.SetCacheSize(3)
	m.RecordEvaluation("local")
}

func TestNewEnabledRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncMessagesEnqueued()
	m.IncMessagesDropped("queue_full")
	m.IncBatchesSent()
	m.SetQueueDepth(7)
	m.IncPollCycle("ok")
	m.SetCacheSize(42)
	m.RecordEvaluation("local")
	m.RecordEvaluation("remote")
	m.RecordIngestRequest("ok", 10*time.Millisecond)

	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(fams) == 0 {
		t.Fatal("expected at least one registered metric family")
	}

	if got := testutil.ToFloat64(m.MessagesEnqueued); got != 1 {
		t.Errorf("MessagesEnqueued = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 7 {
		t.Errorf("QueueDepth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.CacheSize); got != 42 {
		t.Errorf("CacheSize = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("local")); got != 1 {
		t.Errorf("EvaluationsTotal[local] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessagesDropped.WithLabelValues("queue_full")); got != 1 {
		t.Errorf("MessagesDropped[queue_full] = %v, want 1", got)
	}
}

func TestDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected MustRegister to panic on duplicate registration")
		}
	}()
	New(reg)
}
