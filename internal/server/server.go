// Package server runs the TCP front end: it accepts connections, hands
// each one to a worker pool, and drives proto.Envelope exchanges against
// an engine.Engine until the peer disconnects or sends Shutdown.
package server

import (
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gtarraga/kvs/internal/engine"
	"github.com/gtarraga/kvs/internal/engine/kvserr"
	"github.com/gtarraga/kvs/internal/metrics"
	"github.com/gtarraga/kvs/internal/pool"
	"github.com/gtarraga/kvs/internal/proto"
)

// Server owns a listener, an engine, and the pool that runs connection
// handlers.
type Server struct {
	ln      net.Listener
	eng     engine.Engine
	pool    pool.Pool
	logger  *zap.Logger
	metrics *metrics.Server

	httpSrv *http.Server
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger attaches a structured logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics attaches a Prometheus recorder for request counts.
func WithMetrics(m *metrics.Server) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsAddr starts a /metrics HTTP endpoint alongside the TCP
// listener, gathering from reg — the same registry the caller
// registered the engine's and server's counters against, so the
// counters this process actually increments are the ones exposed.
func WithMetricsAddr(addr string, reg prometheus.Gatherer) Option {
	return func(s *Server) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	}
}

// New binds addr and wraps eng for serving. p runs each accepted
// connection's handler loop; the caller chooses which pool variant.
func New(addr string, eng engine.Engine, p pool.Pool, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, eng: eng, pool: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the listener's bound address, useful when addr was
// ":0" and the caller needs the assigned port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve accepts connections until the listener is closed, dispatching
// each to the pool. It blocks until the listener returns an error (which
// Close triggers deliberately).
func (s *Server) Serve() error {
	if s.httpSrv != nil {
		go func() {
			if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Warn("metrics http server stopped", zap.Error(err))
			}
		}()
	}

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		s.pool.Spawn(func() {
			s.handleConn(conn)
		})
	}
}

// Close releases the pool, then closes the listener. Whether it waits for
// in-flight connections depends on the pool's Close: Naive waits for
// them, SharedQueue and WorkStealing do not.
func (s *Server) Close() error {
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	s.pool.Close()
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	r := proto.NewReader(conn)
	w := proto.NewWriter(conn)

	for {
		env, err := r.ReadEnvelope()
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("connection read failed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}

		if !s.dispatch(env, w) {
			return
		}
	}
}

// dispatch handles one envelope, returning false when the connection
// should close (Shutdown received, or a write failed).
func (s *Server) dispatch(env proto.Envelope, w *proto.Writer) bool {
	switch env.Type {
	case proto.TypePing:
		s.metrics.ObserveRequest(proto.TypePing)
		p, err := proto.DecodePing(env)
		if err != nil {
			return s.writeErr(w, proto.TypePing, err)
		}
		return w.WritePong(p.N) == nil

	case proto.TypeShutdown:
		s.metrics.ObserveRequest(proto.TypeShutdown)
		return false

	case proto.TypeSet:
		s.metrics.ObserveRequest(proto.TypeSet)
		p, err := proto.DecodeSet(env)
		if err != nil {
			return s.writeErr(w, proto.TypeSet, err)
		}
		if err := s.eng.Set(p.Key, p.Value); err != nil {
			return s.writeErr(w, proto.TypeSet, err)
		}
		return w.WriteSuccess(nil) == nil

	case proto.TypeGet:
		s.metrics.ObserveRequest(proto.TypeGet)
		p, err := proto.DecodeKey(env)
		if err != nil {
			return s.writeErr(w, proto.TypeGet, err)
		}
		value, ok, err := s.eng.Get(p.Key)
		if err != nil {
			return s.writeErr(w, proto.TypeGet, err)
		}
		if !ok {
			return w.WriteSuccess(nil) == nil
		}
		return w.WriteSuccess(&value) == nil

	case proto.TypeRemove:
		s.metrics.ObserveRequest(proto.TypeRemove)
		p, err := proto.DecodeKey(env)
		if err != nil {
			return s.writeErr(w, proto.TypeRemove, err)
		}
		if err := s.eng.Remove(p.Key); err != nil {
			return s.writeErr(w, proto.TypeRemove, err)
		}
		return w.WriteSuccess(nil) == nil

	default:
		return s.writeErr(w, env.Type, errUnknownType(env.Type))
	}
}

func (s *Server) writeErr(w *proto.Writer, reqType string, err error) bool {
	s.metrics.ObserveError(reqType)
	s.logger.Debug("request failed", zap.String("type", reqType), zap.Error(err))
	kindStr := ""
	if kind, ok := kvserr.KindOf(err); ok {
		kindStr = kind.String()
	}
	return w.WriteErrorKind(err.Error(), kindStr) == nil
}

type errUnknownType string

func (e errUnknownType) Error() string { return "unknown request type: " + string(e) }
