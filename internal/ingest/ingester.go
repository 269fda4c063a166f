package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/feedstream/internal/cache"
	"github.com/rickgao/feedstream/internal/codec"
	"github.com/rickgao/feedstream/internal/connection"
	"github.com/rickgao/feedstream/internal/metrics"
	"github.com/rickgao/feedstream/internal/model"
	"github.com/rickgao/feedstream/internal/subscription"
)

// ErrAlreadyStarted is returned by Start on a running ingester.
var ErrAlreadyStarted = errors.New("ingester already started")

// Config configures an Ingester.
type Config struct {
	InitialKeys   []model.FeedKey  // Registered before the first connection
	ReconnectBase time.Duration    // First reconnect delay (default 1s)
	ReconnectMax  time.Duration    // Reconnect delay cap (default 60s)
	Sinks         []Sink           // Receive every accepted update
	Metrics       *metrics.Metrics // Optional
}

// Ingester maintains a live cache of one stream's latest values.
type Ingester[V model.Versioned] struct {
	cfg     Config
	name    string
	proto   Protocol[V]
	dial    connection.DialFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	subs  *subscription.Manager
	cache *cache.Cache[V]

	state atomic.Int32

	// keysMu orders Unregister against apply so a removed key is not re-cached.
	keysMu sync.Mutex

	// Control messages sent on ctrlClient, oldest first. Acks carry no id and
	// arrive in send order.
	ctrlMu     sync.Mutex
	ctrlClient connection.Client
	ctrlSent   []controlKind

	mu      sync.Mutex
	client  connection.Client // Current session's client, nil between sessions
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

type controlKind int

const (
	controlSubscribe controlKind = iota
	controlUnsubscribe
)

// session is the loop-owned state of one connection.
type session struct {
	id       uuid.UUID
	client   connection.Client
	logger   *slog.Logger
	inflight int  // Subscribe messages sent but not yet acknowledged
	streamed bool // Reached StateStreaming
}

// New creates an Ingester. dial is called once per session.
func New[V model.Versioned](cfg Config, proto Protocol[V], dial connection.DialFunc, logger *slog.Logger) *Ingester[V] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 60 * time.Second
	}

	in := &Ingester[V]{
		cfg:     cfg,
		name:    proto.Name(),
		proto:   proto,
		dial:    dial,
		logger:  logger.With("ingester", proto.Name()),
		metrics: cfg.Metrics,
		subs:    subscription.NewManager(),
		cache:   cache.New[V](),
		done:    make(chan struct{}),
	}
	in.Register(cfg.InitialKeys...)
	return in
}

// NewPriceIngester creates an ingester for the Hermes price stream.
func NewPriceIngester(cfg Config, dial connection.DialFunc, logger *slog.Logger) *Ingester[model.PriceFeed] {
	return New[model.PriceFeed](cfg, PriceProtocol{}, dial, logger)
}

// NewBlockIngester creates an ingester for a Solana block stream. The block
// stream key is always registered.
func NewBlockIngester(cfg Config, sub codec.BlockSubscribeConfig, dial connection.DialFunc, logger *slog.Logger) *Ingester[model.Block] {
	cfg.InitialKeys = []model.FeedKey{model.BlockStreamKey}
	return New[model.Block](cfg, NewBlockProtocol(sub), dial, logger)
}

// Name returns the protocol name.
func (in *Ingester[V]) Name() string {
	return in.name
}

// Start launches the ingestion loop in its own goroutine.
func (in *Ingester[V]) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.started {
		return ErrAlreadyStarted
	}
	in.started = true

	ctx, in.cancel = context.WithCancel(ctx)
	go in.run(ctx)

	in.logger.Info("ingester started", "keys", len(in.subs.All()))
	return nil
}

// Stop requests shutdown, closes the current connection so a blocked receive
// returns, and waits for the loop to exit or ctx to expire.
func (in *Ingester[V]) Stop(ctx context.Context) error {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return nil
	}
	cancel := in.cancel
	client := in.client
	in.mu.Unlock()

	cancel()
	if client != nil {
		client.Close()
	}

	select {
	case <-in.done:
		in.logger.Info("ingester stopped")
		return nil
	case <-ctx.Done():
		in.logger.Warn("shutdown timeout, loop still running")
		return ctx.Err()
	}
}

// Done is closed when the loop has exited.
func (in *Ingester[V]) Done() <-chan struct{} {
	return in.done
}

// Register adds keys of interest. Safe to call while streaming; new keys are
// subscribed incrementally on the live connection.
func (in *Ingester[V]) Register(keys ...model.FeedKey) int {
	normalized := make([]model.FeedKey, 0, len(keys))
	for _, k := range keys {
		normalized = append(normalized, in.proto.Normalize(k))
	}
	return in.subs.Register(normalized...)
}

// Unregister removes keys from the subscription state and the cache. Keys
// already subscribed on the live connection get an unsubscribe message when
// the protocol has one.
func (in *Ingester[V]) Unregister(keys ...model.FeedKey) error {
	normalized := make([]model.FeedKey, 0, len(keys))
	for _, k := range keys {
		normalized = append(normalized, in.proto.Normalize(k))
	}

	in.keysMu.Lock()
	wasActive := in.subs.Unregister(normalized...)
	for _, k := range normalized {
		in.cache.Delete(k)
	}
	in.keysMu.Unlock()
	in.metrics.SetCachedKeys(in.name, in.cache.Len())

	if len(wasActive) == 0 || in.State() != StateStreaming {
		return nil
	}

	msg, err := in.proto.Unsubscribe(wasActive)
	if err != nil {
		return fmt.Errorf("encode unsubscribe: %w", err)
	}
	if msg == nil {
		return nil
	}

	in.mu.Lock()
	client := in.client
	in.mu.Unlock()
	if client == nil {
		return nil
	}

	if err := in.sendControl(client, controlUnsubscribe, msg); err != nil {
		return err
	}
	in.metrics.ControlSent(in.name, "unsubscribe", len(wasActive))
	in.logger.Info("sent unsubscribe", "keys", len(wasActive))
	return nil
}

// Latest returns the cached value for key.
func (in *Ingester[V]) Latest(key model.FeedKey) (V, bool) {
	return in.cache.Get(in.proto.Normalize(key))
}

// Snapshot returns a copy of the whole cache.
func (in *Ingester[V]) Snapshot() map[model.FeedKey]V {
	return in.cache.Snapshot()
}

// State returns the loop's current state.
func (in *Ingester[V]) State() State {
	return State(in.state.Load())
}

// Active returns keys subscribed on the current connection.
func (in *Ingester[V]) Active() []model.FeedKey {
	return in.subs.Active()
}

// Pending returns keys waiting to be subscribed.
func (in *Ingester[V]) Pending() []model.FeedKey {
	return in.subs.Pending()
}

// Keys returns every registered key.
func (in *Ingester[V]) Keys() []model.FeedKey {
	return in.subs.All()
}

func (in *Ingester[V]) setState(s State) {
	in.state.Store(int32(s))
	in.metrics.SetState(in.name, int(s))
}

// run reconnects until ctx is cancelled.
func (in *Ingester[V]) run(ctx context.Context) {
	defer close(in.done)
	defer in.setState(StateDisconnected)

	backoff := Backoff{Base: in.cfg.ReconnectBase, Max: in.cfg.ReconnectMax}

	for {
		if ctx.Err() != nil {
			return
		}

		in.subs.ResetToPending()
		streamed, err := in.runSession(ctx)
		in.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		if streamed {
			backoff.Reset()
		}

		wait := backoff.Next()
		in.metrics.Reconnect(in.name)
		in.logger.Warn("stream session ended, reconnecting",
			"error", err,
			"backoff", wait,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runSession connects, subscribes and consumes frames until the connection
// ends. It reports whether the session reached StateStreaming.
func (in *Ingester[V]) runSession(ctx context.Context) (bool, error) {
	in.setState(StateConnecting)

	client, err := in.dial(ctx)
	if err != nil {
		return false, err
	}

	sess := &session{id: uuid.New(), client: client}
	sess.logger = in.logger.With("session", sess.id)

	in.resetControl(client)
	in.mu.Lock()
	in.client = client
	in.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	frames := make(chan connection.Frame)
	pumpDone := make(chan struct{})
	go pump(sctx, client, frames, pumpDone)

	defer func() {
		cancel()
		in.mu.Lock()
		in.client = nil
		in.mu.Unlock()
		in.resetControl(nil)
		client.Close()
		<-pumpDone
	}()

	sess.logger.Info("connected")

	in.setState(StateSubscribing)
	if err := in.flushPending(sess); err != nil {
		return false, err
	}
	if sess.inflight == 0 {
		in.enterStreaming(sess)
	}

	for {
		select {
		case <-ctx.Done():
			return sess.streamed, ctx.Err()

		case <-in.subs.Notify():
			if err := in.flushPending(sess); err != nil {
				return sess.streamed, err
			}

		case f, ok := <-frames:
			if !ok {
				return sess.streamed, fmt.Errorf("%w: frame pump stopped", model.ErrTransport)
			}

			switch f.Kind {
			case connection.FrameClosed:
				if f.Err != nil {
					return sess.streamed, fmt.Errorf("stream closed (code %d %q): %w", f.CloseCode, f.CloseReason, f.Err)
				}
				return sess.streamed, fmt.Errorf("%w: stream closed locally", model.ErrTransport)
			case connection.FrameBinary:
				sess.logger.Debug("ignoring binary frame", "bytes", len(f.Data))
				continue
			}

			if err := in.handleText(sess, f); err != nil {
				return sess.streamed, err
			}

			if in.subs.HasPending() {
				if err := in.flushPending(sess); err != nil {
					return sess.streamed, err
				}
			}
		}
	}
}

// pump forwards frames from client until a Closed frame or ctx is done.
func pump(ctx context.Context, client connection.Client, out chan<- connection.Frame, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	for {
		f := client.Receive(ctx)
		select {
		case out <- f:
		case <-ctx.Done():
			return
		}
		if f.Kind == connection.FrameClosed {
			return
		}
	}
}

// flushPending sends one subscribe message for every pending key.
func (in *Ingester[V]) flushPending(sess *session) error {
	keys := in.subs.DrainPending()
	if len(keys) == 0 {
		return nil
	}

	msg, err := in.proto.Subscribe(keys)
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	if err := in.sendControl(sess.client, controlSubscribe, msg); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	sess.inflight++
	in.metrics.ControlSent(in.name, "subscribe", len(keys))
	sess.logger.Info("sent subscribe", "keys", len(keys))
	return nil
}

// resetControl starts an empty control log for client.
func (in *Ingester[V]) resetControl(client connection.Client) {
	in.ctrlMu.Lock()
	in.ctrlClient = client
	in.ctrlSent = nil
	in.ctrlMu.Unlock()
}

// sendControl sends msg and records its kind. The lock spans the write so the
// log matches wire order. Sends on a client from an ended session are not logged.
func (in *Ingester[V]) sendControl(client connection.Client, kind controlKind, msg []byte) error {
	in.ctrlMu.Lock()
	defer in.ctrlMu.Unlock()

	if err := client.Send(msg); err != nil {
		return err
	}
	if client == in.ctrlClient {
		in.ctrlSent = append(in.ctrlSent, kind)
	}
	return nil
}

// nextAck pops the oldest unacknowledged control message. An ack with nothing
// outstanding is treated as a subscribe ack.
func (in *Ingester[V]) nextAck() controlKind {
	in.ctrlMu.Lock()
	defer in.ctrlMu.Unlock()

	if len(in.ctrlSent) == 0 {
		return controlSubscribe
	}
	kind := in.ctrlSent[0]
	in.ctrlSent = in.ctrlSent[1:]
	return kind
}

func (in *Ingester[V]) enterStreaming(sess *session) {
	sess.streamed = true
	in.setState(StateStreaming)
	sess.logger.Info("streaming", "active", len(in.subs.Active()))
}

// handleText decodes and applies one text frame. Only a rejected subscribe
// returns an error; malformed messages and rejected unsubscribes are logged
// and dropped.
func (in *Ingester[V]) handleText(sess *session, f connection.Frame) error {
	in.metrics.MessageReceived(in.name)

	ev, err := in.proto.Decode(f.Data)
	if err != nil {
		in.metrics.DecodeError(in.name)
		sess.logger.Warn("dropping undecodable message", "error", err, "bytes", len(f.Data))
		return nil
	}

	switch e := ev.(type) {
	case codec.SubscribeAck:
		if in.nextAck() == controlUnsubscribe {
			if !e.OK {
				sess.logger.Warn("unsubscribe rejected", "reason", e.Reason)
			}
			return nil
		}
		if !e.OK {
			return fmt.Errorf("%w: %s", model.ErrSubscriptionRejected, e.Reason)
		}
		if sess.inflight > 0 {
			sess.inflight--
		}
		if in.State() == StateSubscribing && sess.inflight == 0 {
			in.enterStreaming(sess)
		}
		return nil

	case codec.BlockUpdate:
		if e.HasError() {
			sess.logger.Warn("block notification carried an error", "slot", e.Slot, "err", e.Err)
			return nil
		}

	case codec.Unrecognized:
		sess.logger.Debug("ignoring message", "type", e.Type)
		return nil
	}

	key, v, ok := in.proto.Extract(ev)
	if !ok {
		return nil
	}
	in.apply(sess, key, v, f.ReceivedAt)
	return nil
}

// apply writes v to the cache unless it is stale, then publishes to sinks.
func (in *Ingester[V]) apply(sess *session, key model.FeedKey, v V, receivedAt time.Time) {
	in.keysMu.Lock()
	if !in.subs.Contains(key) {
		in.keysMu.Unlock()
		sess.logger.Debug("ignoring update for unregistered key", "key", key)
		return
	}
	fresh := in.cache.Put(key, v)
	in.keysMu.Unlock()

	if !fresh {
		in.metrics.StaleRejected(in.name)
		sess.logger.Debug("ignoring stale update", "key", key, "version", v.Version())
		return
	}
	in.metrics.UpdateApplied(in.name, in.cache.Len())

	if len(in.cfg.Sinks) == 0 {
		return
	}

	u := newUpdate(key, v, sess.id, receivedAt)
	for _, s := range in.cfg.Sinks {
		if err := s.Publish(u); err != nil {
			in.metrics.SinkError(in.name)
			sess.logger.Debug("sink rejected update", "key", key, "error", err)
		}
	}
}

func newUpdate[V model.Versioned](key model.FeedKey, v V, sessionID uuid.UUID, receivedAt time.Time) model.Update {
	u := model.Update{
		Key:        key,
		Source:     model.SourceStream,
		SessionID:  sessionID,
		ReceivedAt: receivedAt,
	}
	switch val := any(v).(type) {
	case model.PriceFeed:
		u.Price = &val
	case model.Block:
		u.Block = &val
	}
	return u
}
