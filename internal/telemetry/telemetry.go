// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package telemetry implements the telemetry sink of spec §5's Design
// Notes redesign (component C8): the five process-wide statics
// (KEEP_FILES, PHASES_TIMES_MONITOR, and the processed-files/processed-
// buckets-count/processed-buckets-size atomic counters) are collapsed
// into one Sink struct threaded through a pipeline context, so multiple
// pipelines can run concurrently in one process rather than racing on
// package-level globals.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink carries one pipeline run's counters, exported as Prometheus
// collectors instead of the process-wide statics the distilled spec
// inherited from a single-pipeline-per-process assumption.
type Sink struct {
	keepFiles bool

	processedFiles        int64
	processedBucketsCount int64
	processedBucketsSize  int64

	filesDesc   *prometheus.Desc
	bucketsDesc *prometheus.Desc
	bytesDesc   *prometheus.Desc
	keepDesc    *prometheus.Desc

	phaseTimes *prometheus.HistogramVec
}

// New builds a Sink labelled pipeline for a single run; keepFiles mirrors
// the KEEP_FILES static (whether intermediate bucket files survive a
// successful run, surfaced here as a gauge rather than a global bool).
func New(pipeline string, keepFiles bool) *Sink {
	labels := prometheus.Labels{"pipeline": pipeline}
	return &Sink{
		keepFiles: keepFiles,
		filesDesc: prometheus.NewDesc("kmerbucket_processed_files_total",
			"Sequence files fully consumed by the reader phase.", nil, labels),
		bucketsDesc: prometheus.NewDesc("kmerbucket_processed_buckets_total",
			"Bucket files fully re-read by the balancer phase.", nil, labels),
		bytesDesc: prometheus.NewDesc("kmerbucket_processed_buckets_bytes_total",
			"Bytes of bucket file content re-read by the balancer phase.", nil, labels),
		keepDesc: prometheus.NewDesc("kmerbucket_keep_files",
			"1 if intermediate bucket files are retained after a successful run.", nil, labels),
		phaseTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "kmerbucket_phase_duration_seconds",
			Help:        "Wall-clock duration of each pipeline phase.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"phase"}),
	}
}

// AddProcessedFile increments the processed-files counter by one.
func (s *Sink) AddProcessedFile() {
	atomic.AddInt64(&s.processedFiles, 1)
}

// AddProcessedBucket records one re-read bucket file of the given size.
func (s *Sink) AddProcessedBucket(bytes int64) {
	atomic.AddInt64(&s.processedBucketsCount, 1)
	atomic.AddInt64(&s.processedBucketsSize, bytes)
}

// ObservePhase records how long the named phase (reader, compute,
// balance, ...) took; this is PHASES_TIMES_MONITOR's redesign target.
func (s *Sink) ObservePhase(phase string, d time.Duration) {
	s.phaseTimes.WithLabelValues(phase).Observe(d.Seconds())
}

// TimePhase returns a func to defer that observes elapsed time under phase.
func (s *Sink) TimePhase(phase string) func() {
	start := time.Now()
	return func() { s.ObservePhase(phase, time.Since(start)) }
}

// KeepFiles reports whether intermediate bucket files should survive a
// successful run.
func (s *Sink) KeepFiles() bool {
	return s.keepFiles
}

// Describe implements prometheus.Collector.
func (s *Sink) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.filesDesc
	ch <- s.bucketsDesc
	ch <- s.bytesDesc
	ch <- s.keepDesc
	s.phaseTimes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (s *Sink) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(s.filesDesc, prometheus.CounterValue,
		float64(atomic.LoadInt64(&s.processedFiles)))
	ch <- prometheus.MustNewConstMetric(s.bucketsDesc, prometheus.CounterValue,
		float64(atomic.LoadInt64(&s.processedBucketsCount)))
	ch <- prometheus.MustNewConstMetric(s.bytesDesc, prometheus.CounterValue,
		float64(atomic.LoadInt64(&s.processedBucketsSize)))
	keep := 0.0
	if s.keepFiles {
		keep = 1.0
	}
	ch <- prometheus.MustNewConstMetric(s.keepDesc, prometheus.GaugeValue, keep)
	s.phaseTimes.Collect(ch)
}
