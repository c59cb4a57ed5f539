package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_CreatesAllMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.uploadsTotal == nil {
		t.Error("uploadsTotal not initialized")
	}
	if m.uploadBytes == nil {
		t.Error("uploadBytes not initialized")
	}
	if m.linesTotal == nil {
		t.Error("linesTotal not initialized")
	}
	if m.lineDuration == nil {
		t.Error("lineDuration not initialized")
	}
	if m.processingDuration == nil {
		t.Error("processingDuration not initialized")
	}
	if m.retriesTotal == nil {
		t.Error("retriesTotal not initialized")
	}
	if m.deadLetterTotal == nil {
		t.Error("deadLetterTotal not initialized")
	}
	if m.checkpointWrites == nil {
		t.Error("checkpointWrites not initialized")
	}
	if m.queueDepthGauge == nil {
		t.Error("queueDepthGauge not initialized")
	}
	if m.queuePendingGauge == nil {
		t.Error("queuePendingGauge not initialized")
	}
	if m.dlqDepthGauge == nil {
		t.Error("dlqDepthGauge not initialized")
	}
	if m.workersActiveGauge == nil {
		t.Error("workersActiveGauge not initialized")
	}
	if m.lockContentionTotal == nil {
		t.Error("lockContentionTotal not initialized")
	}
	if m.recoveryRequeuedTotal == nil {
		t.Error("recoveryRequeuedTotal not initialized")
	}

	if !m.registered {
		t.Error("metrics should be marked registered")
	}
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m := NewMetrics(nil)

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registered {
		t.Error("metrics should not be marked registered without a registry")
	}

	// Observations must still work unregistered.
	m.ObserveUpload(StatusAccepted, 1024)
	m.ObserveLines(OutcomeProcessed, 10)
	m.ObserveCheckpoint()
}

func TestMetrics_ObserveUpload_IncrementsCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveUpload(StatusAccepted, 2048)
	m.ObserveUpload(StatusDuplicate, 0)
	m.ObserveUpload(StatusAccepted, 4096)

	mfs, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	foundUploads := false
	foundBytes := false
	for _, mf := range mfs {
		switch mf.GetName() {
		case "cnabflow_intake_uploads_total":
			foundUploads = true
		case "cnabflow_intake_upload_bytes":
			foundBytes = true
		}
	}
	if !foundUploads {
		t.Error("cnabflow_intake_uploads_total not found in gathered metrics")
	}
	if !foundBytes {
		t.Error("cnabflow_intake_upload_bytes not found in gathered metrics")
	}
}

func TestMetrics_ObserveLines_AddsByOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveLines(OutcomeProcessed, 100)
	m.ObserveLines(OutcomeFailed, 2)
	m.ObserveLines(OutcomeSkipped, 5)
	m.ObserveLines(OutcomeProcessed, 0) // no-op

	mfs, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() != "cnabflow_pipeline_lines_total" {
			continue
		}
		if len(mf.GetMetric()) != 3 {
			t.Errorf("Expected 3 outcome series, got %d", len(mf.GetMetric()))
		}
		return
	}
	t.Error("cnabflow_pipeline_lines_total not found in gathered metrics")
}

func TestMetrics_QueueGaugesAndWorkers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.SetQueueDepths(12, 3, 1)
	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerFinished()

	mfs, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	values := map[string]float64{}
	for _, mf := range mfs {
		if len(mf.GetMetric()) == 1 && mf.GetMetric()[0].GetGauge() != nil {
			values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}

	if values["cnabflow_queue_depth"] != 12 {
		t.Errorf("Expected queue depth 12, got %v", values["cnabflow_queue_depth"])
	}
	if values["cnabflow_queue_pending"] != 3 {
		t.Errorf("Expected queue pending 3, got %v", values["cnabflow_queue_pending"])
	}
	if values["cnabflow_queue_dlq_depth"] != 1 {
		t.Errorf("Expected dlq depth 1, got %v", values["cnabflow_queue_dlq_depth"])
	}
	if values["cnabflow_workers_active"] != 1 {
		t.Errorf("Expected 1 active worker, got %v", values["cnabflow_workers_active"])
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// None of these may panic on a nil receiver.
	m.ObserveUpload(StatusRejected, 0)
	m.ObserveLines(OutcomeFailed, 1)
	m.ObserveLineDuration(time.Millisecond)
	m.ObserveProcessingDuration(time.Second)
	m.ObserveRetry()
	m.ObserveDeadLetter(ReasonRetriesExhausted)
	m.ObserveCheckpoint()
	m.SetQueueDepths(1, 1, 1)
	m.WorkerStarted()
	m.WorkerFinished()
	m.ObserveLockContention()
	m.ObserveRecoveryRequeue(3)

	if m.registered {
		t.Error("observations must not flip the registered flag")
	}
}
