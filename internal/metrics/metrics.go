package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	CellsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "city_tiler",
		Subsystem: "pipeline",
		Name:      "cells_total",
		Help:      "Top level cells processed, by outcome",
	}, []string{"outcome"})

	CellDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "city_tiler",
		Subsystem: "pipeline",
		Name:      "cell_duration_seconds",
		Help:      "Time spent building the tile subtree of a top level cell",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	CompositorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "city_tiler",
		Subsystem: "compositor",
		Name:      "calls_total",
		Help:      "Node compositions requested, by level of detail",
	}, []string{"level"})

	// Worker pool metrics
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "city_tiler",
		Subsystem: "pool",
		Name:      "jobs_in_flight",
		Help:      "Work units currently held by a worker",
	})

	WorkersAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "city_tiler",
		Subsystem: "pool",
		Name:      "workers_alive",
		Help:      "Workers able to accept work",
	})

	WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "city_tiler",
		Subsystem: "pool",
		Name:      "worker_restarts_total",
		Help:      "Workers restarted after a fatal failure",
	})
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
)

// Serves the default registry on addr under /metrics until the returned server is shut down
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("metrics server on %s stopped: %v", addr, err)
		}
	}()
	glog.Infof("serving metrics on %s/metrics", addr)
	return srv
}
