// Package metrics provides the Prometheus instrumentation threaded
// through the engine and the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counts the operations a storage engine serves. A nil *Engine is
// valid everywhere it's accepted — every Observe method returns early on
// a nil receiver, so instrumentation stays fully optional.
type Engine struct {
	sets        prometheus.Counter
	gets        prometheus.Counter
	removes     prometheus.Counter
	compactions prometheus.Counter
}

// NewEngine registers engine counters against reg.
func NewEngine(reg prometheus.Registerer) *Engine {
	return &Engine{
		sets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_sets_total",
			Help: "kvs_engine_sets_total counts successful Set calls.",
		}),
		gets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_gets_total",
			Help: "kvs_engine_gets_total counts Get calls, hit or miss.",
		}),
		removes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_removes_total",
			Help: "kvs_engine_removes_total counts successful Remove calls.",
		}),
		compactions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_compactions_total",
			Help: "kvs_engine_compactions_total counts compaction runs that actually folded a segment.",
		}),
	}
}

func (e *Engine) ObserveSet() {
	if e == nil {
		return
	}
	e.sets.Inc()
}

func (e *Engine) ObserveGet() {
	if e == nil {
		return
	}
	e.gets.Inc()
}

func (e *Engine) ObserveRemove() {
	if e == nil {
		return
	}
	e.removes.Inc()
}

func (e *Engine) ObserveCompaction() {
	if e == nil {
		return
	}
	e.compactions.Inc()
}

// Server counts requests the server dispatches, by wire request type.
type Server struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewServer registers server counters against reg.
func NewServer(reg prometheus.Registerer) *Server {
	return &Server{
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kvs_server_requests_total",
			Help: "kvs_server_requests_total counts dispatched requests by type.",
		}, []string{"type"}),
		errors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kvs_server_errors_total",
			Help: "kvs_server_errors_total counts responses that carried an Error payload, by request type.",
		}, []string{"type"}),
	}
}

func (s *Server) ObserveRequest(reqType string) {
	if s == nil {
		return
	}
	s.requests.WithLabelValues(reqType).Inc()
}

func (s *Server) ObserveError(reqType string) {
	if s == nil {
		return
	}
	s.errors.WithLabelValues(reqType).Inc()
}
