// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package debugserver implements the debug/metrics HTTP server of spec
// §2 component C11, adapted from the teacher's monitor package: the same
// /debug index and /debug/vars, /debug/pprof wiring, plus /metrics
// (Prometheus), so a running bucketing pipeline can be inspected the way
// any other service in this codebase is.
package debugserver

import (
	_ "expvar" // registers /debug/vars's expvar.Handler via the DefaultServeMux side effect
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* via the DefaultServeMux side effect

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is a debug/metrics HTTP server bound to one listen address.
type Server struct {
	addr     string
	mux      *http.ServeMux
	registry *prometheus.Registry
}

// New builds a Server listening on addr. Collectors registered via
// Register appear under /metrics; pprof and expvar are always mounted
// under /debug via the standard library's DefaultServeMux side effects.
func New(addr string) *Server {
	registry := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.HandleFunc("/debug", debugIndex)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	// /debug/vars and /debug/pprof/* are registered on http.DefaultServeMux
	// by the expvar and net/http/pprof package-init side effects above;
	// delegate those two paths to it.
	mux.Handle("/debug/vars", http.DefaultServeMux)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	return &Server{addr: addr, mux: mux, registry: registry}
}

// Register adds a Prometheus collector (typically a *telemetry.Sink) to
// this server's /metrics output.
func (s *Server) Register(c prometheus.Collector) error {
	return s.registry.Register(c)
}

func debugIndex(w http.ResponseWriter, r *http.Request) {
	const indexTmpl = `<html>
	<head>
	<title>/debug</title>
	</head>
	<body>
	<p>/debug</p>
	<div><a href="/debug/vars">vars</a></div>
	<div><a href="/debug/pprof">pprof</a></div>
	<div><a href="/metrics">metrics</a></div>
	</body>
	</html>
	`
	fmt.Fprint(w, indexTmpl)
}

// Run blocks serving HTTP on addr until the listener fails.
func (s *Server) Run() error {
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler returns the server's http.Handler for use in tests or a custom
// listener, without blocking on ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.mux
}
