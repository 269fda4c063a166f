package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/feedstream/internal/ingest"
	"github.com/rickgao/feedstream/internal/metrics"
	"github.com/rickgao/feedstream/internal/model"
)

// Kind selects which updates a route receives.
type Kind uint8

const (
	KindPrice Kind = 1 << iota
	KindBlock

	KindAll = KindPrice | KindBlock
)

// Config sizes route buffers.
type Config struct {
	InitialCapacity int // Default: 1024
	MaxCapacity     int // Default: 65536
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		InitialCapacity: 1024,
		MaxCapacity:     65536,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Published int64
	Delivered int64
	Dropped   int64
	Routes    map[string]BufferStats
}

type route struct {
	name  string
	kinds Kind
	buf   *GrowableBuffer[model.Update]
}

// Router delivers each published update to every route whose kind matches.
type Router struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	routes []*route
	closed bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

var _ ingest.Sink = (*Router)(nil)

// New creates a Router.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultConfig().InitialCapacity
	}
	return &Router{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Route registers a consumer and returns the buffer it should read from.
// Routes added after Close receive an already-closed buffer.
func (r *Router) Route(name string, kinds Kind) *GrowableBuffer[model.Update] {
	buf := NewGrowableBuffer[model.Update](r.cfg.InitialCapacity, r.cfg.MaxCapacity)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		buf.Close()
		return buf
	}
	r.routes = append(r.routes, &route{name: name, kinds: kinds, buf: buf})

	r.logger.Info("route added", "route", name, "kinds", kinds.String())
	return buf
}

// Publish implements ingest.Sink. It returns the joined errors of every route
// that could not accept u.
func (r *Router) Publish(u model.Update) error {
	kind := kindOf(u)
	if kind == 0 {
		return fmt.Errorf("%w: update for %q carries no payload", model.ErrInvalidArgument, u.Key)
	}

	r.published.Add(1)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, rt := range r.routes {
		if rt.kinds&kind == 0 {
			continue
		}
		if err := rt.buf.Send(u); err != nil {
			r.dropped.Add(1)
			r.metrics.SinkError(rt.name)
			errs = append(errs, fmt.Errorf("route %s: %w", rt.name, err))
			continue
		}
		r.delivered.Add(1)
	}

	return errors.Join(errs...)
}

// Close closes every route buffer. Consumers drain what is left, then see
// Receive return false.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, rt := range r.routes {
		rt.buf.Close()
	}
	r.logger.Info("router closed", "published", r.published.Load(), "dropped", r.dropped.Load())
}

// Stats returns current router statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Published: r.published.Load(),
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
		Routes:    make(map[string]BufferStats, len(r.routes)),
	}
	for _, rt := range r.routes {
		s.Routes[rt.name] = rt.buf.Stats()
	}
	return s
}

func kindOf(u model.Update) Kind {
	switch {
	case u.Price != nil:
		return KindPrice
	case u.Block != nil:
		return KindBlock
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case KindPrice:
		return "price"
	case KindBlock:
		return "block"
	case KindAll:
		return "all"
	}
	return "none"
}
