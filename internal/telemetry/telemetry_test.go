// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, s *Sink) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func TestSinkCollectsCounters(t *testing.T) {
	s := New("test-pipeline", true)
	s.AddProcessedFile()
	s.AddProcessedFile()
	s.AddProcessedBucket(100)
	s.AddProcessedBucket(50)

	families := gather(t, s)

	files := families["kmerbucket_processed_files_total"]
	if got := files.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("processed files = %v, want 2", got)
	}
	buckets := families["kmerbucket_processed_buckets_total"]
	if got := buckets.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("processed buckets = %v, want 2", got)
	}
	bytes := families["kmerbucket_processed_buckets_bytes_total"]
	if got := bytes.GetMetric()[0].GetCounter().GetValue(); got != 150 {
		t.Errorf("processed bucket bytes = %v, want 150", got)
	}
	keep := families["kmerbucket_keep_files"]
	if got := keep.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("keep_files = %v, want 1", got)
	}
}

func TestSinkKeepFilesFalse(t *testing.T) {
	s := New("test-pipeline-2", false)
	families := gather(t, s)
	keep := families["kmerbucket_keep_files"]
	if got := keep.GetMetric()[0].GetGauge().GetValue(); got != 0 {
		t.Errorf("keep_files = %v, want 0", got)
	}
	if s.KeepFiles() {
		t.Error("KeepFiles() should report false")
	}
}

func TestTimePhaseRecordsDuration(t *testing.T) {
	s := New("test-pipeline-3", false)
	stop := s.TimePhase("reader")
	time.Sleep(time.Millisecond)
	stop()

	families := gather(t, s)
	hist := families["kmerbucket_phase_duration_seconds"]
	if hist == nil || len(hist.GetMetric()) == 0 {
		t.Fatal("expected a phase duration histogram sample")
	}
	if got := hist.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}
