package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/feedstream/internal/codec"
	"github.com/rickgao/feedstream/internal/connection"
	"github.com/rickgao/feedstream/internal/model"
)

// fakeClient is an in-memory connection.Client driven by the test.
type fakeClient struct {
	frames chan connection.Frame
	sent   chan []byte

	closeOnce sync.Once
	done      chan struct{}
	closed    atomic.Bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		frames: make(chan connection.Frame, 64),
		sent:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error { return nil }

func (c *fakeClient) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	if c.closed.Load() {
		return connection.ErrNotConnected
	}
	c.sent <- append([]byte(nil), data...)
	return nil
}

func (c *fakeClient) Receive(ctx context.Context) connection.Frame {
	select {
	case f := <-c.frames:
		return f
	case <-c.done:
		return connection.Frame{Kind: connection.FrameClosed}
	case <-ctx.Done():
		return connection.Frame{Kind: connection.FrameClosed, Err: ctx.Err()}
	}
}

func (c *fakeClient) IsConnected() bool { return !c.closed.Load() }

func (c *fakeClient) text(s string) {
	c.frames <- connection.Frame{Kind: connection.FrameText, Data: []byte(s), ReceivedAt: time.Now()}
}

func (c *fakeClient) peerClose() {
	c.frames <- connection.Frame{
		Kind:        connection.FrameClosed,
		CloseCode:   1001,
		CloseReason: "going away",
		Err:         fmt.Errorf("%w: peer closed", model.ErrTransport),
	}
}

// nextSent waits for the next control message the ingester sends.
func (c *fakeClient) nextSent(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-c.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sent message")
		return nil
	}
}

// subscribedIDs decodes a Hermes subscribe message and returns its ids.
func subscribedIDs(t *testing.T, msg []byte) []string {
	t.Helper()
	var req struct {
		IDs     []string `json:"ids"`
		Type    string   `json:"type"`
		Verbose bool     `json:"verbose"`
		Binary  bool     `json:"binary"`
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Fatalf("unmarshal control message: %v", err)
	}
	if req.Type != "subscribe" || !req.Verbose || !req.Binary {
		t.Fatalf("unexpected control message: %s", msg)
	}
	return req.IDs
}

// scriptedDial hands out clients in order, then blocks until ctx is done.
func scriptedDial(clients ...connection.Client) (connection.DialFunc, *atomic.Int32) {
	var n atomic.Int32
	return func(ctx context.Context) (connection.Client, error) {
		i := int(n.Add(1)) - 1
		if i < len(clients) {
			return clients[i], nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}, &n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitState[V model.Versioned](t *testing.T, in *Ingester[V], want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return in.State() == want })
}

func priceUpdate(id string, price int64, conf uint64, expo int32, publishTime int64) string {
	return fmt.Sprintf(`{"type":"price_update","price_feed":{"id":%q,`+
		`"price":{"price":"%d","conf":"%d","expo":%d,"publish_time":%d},`+
		`"ema_price":{"price":"%d","conf":"%d","expo":%d,"publish_time":%d}}}`,
		id, price, conf, expo, publishTime, price, conf, expo, publishTime)
}

const ackOK = `{"type":"response","status":"success"}`

func testConfig(keys ...model.FeedKey) Config {
	return Config{
		InitialKeys:   keys,
		ReconnectBase: time.Millisecond,
		ReconnectMax:  5 * time.Millisecond,
	}
}

func stop[V model.Versioned](t *testing.T, in *Ingester[V]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := in.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestIngester_Scenario(t *testing.T) {
	first, second := newFakeClient(), newFakeClient()

	var in *Ingester[model.PriceFeed]
	pendingAtRedial := make(chan []model.FeedKey, 1)
	dials := 0
	dial := func(ctx context.Context) (connection.Client, error) {
		dials++
		switch dials {
		case 1:
			return first, nil
		case 2:
			pendingAtRedial <- in.Pending()
			return second, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	cfg := testConfig("X")
	cfg.ReconnectBase = 200 * time.Millisecond
	cfg.ReconnectMax = 400 * time.Millisecond
	in = NewPriceIngester(cfg, dial, nil)

	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stop(t, in)

	// Connecting -> Subscribing: one subscribe for the drained pending set.
	if ids := subscribedIDs(t, first.nextSent(t)); !reflect.DeepEqual(ids, []string{"x"}) {
		t.Errorf("subscribe ids = %v, want [x]", ids)
	}
	waitState(t, in, StateSubscribing)
	if active := in.Active(); !reflect.DeepEqual(active, []model.FeedKey{"x"}) {
		t.Errorf("Active() = %v, want [x]", active)
	}

	// Subscribing -> Streaming.
	first.text(ackOK)
	waitState(t, in, StateStreaming)

	first.text(priceUpdate("X", 123456789, 5, -8, 1000))
	waitFor(t, "X cached", func() bool { _, ok := in.Latest("X"); return ok })

	want := model.Observation{Conf: 5, Expo: -8, Price: 123456789, PublishTime: 1000}
	got, _ := in.Latest("X")
	if got.Price != want {
		t.Errorf("Latest(X).Price = %+v, want %+v", got.Price, want)
	}

	// Stale update: ignored. A later frame for the same key proves it was processed.
	first.text(priceUpdate("X", 1, 5, -8, 900))
	first.text(priceUpdate("X", 123456789, 7, -8, 1000))
	waitFor(t, "equal-version overwrite", func() bool {
		v, _ := in.Latest("X")
		return v.Price.Conf == 7
	})
	got, _ = in.Latest("X")
	if got.Price.PublishTime != 1000 || got.Price.Price != 123456789 {
		t.Errorf("stale update overwrote cache: %+v", got.Price)
	}

	// Closed -> Disconnected, X back to pending on the next connect attempt.
	first.peerClose()
	waitState(t, in, StateDisconnected)

	select {
	case pending := <-pendingAtRedial:
		if !reflect.DeepEqual(pending, []model.FeedKey{"x"}) {
			t.Errorf("pending at reconnect = %v, want [x]", pending)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect")
	}

	// Full resubscribe on the new connection; the cache survives the outage.
	if ids := subscribedIDs(t, second.nextSent(t)); !reflect.DeepEqual(ids, []string{"x"}) {
		t.Errorf("resubscribe ids = %v, want [x]", ids)
	}
	if v, ok := in.Latest("X"); !ok || v.Price.PublishTime != 1000 {
		t.Errorf("cache lost across reconnect: %+v ok=%v", v, ok)
	}
}

func TestIngester_MalformedFrameDoesNotStop(t *testing.T) {
	fc := newFakeClient()
	dial, _ := scriptedDial(fc)
	in := NewPriceIngester(testConfig("a"), dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	fc.nextSent(t)
	fc.text(ackOK)
	waitState(t, in, StateStreaming)

	fc.text(`{not json`)
	fc.text(`{"type":"price_update"}`)
	fc.text(`{"type":"price_update","price_feed":{"id":"a","price":{"price":"abc","conf":"1","expo":0,"publish_time":1},"ema_price":{"price":"1","conf":"1","expo":0,"publish_time":1}}}`)
	fc.text(`{"type":"heartbeat"}`)
	fc.text(priceUpdate("a", 42, 1, 0, 10))

	waitFor(t, "valid update after malformed frames", func() bool {
		v, ok := in.Latest("a")
		return ok && v.Price.Price == 42
	})
	if in.State() != StateStreaming {
		t.Errorf("State() = %v, want streaming", in.State())
	}
}

func TestIngester_RegisterTwiceNoDuplicates(t *testing.T) {
	fc := newFakeClient()
	dial, _ := scriptedDial(fc)
	in := NewPriceIngester(testConfig("a"), dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	fc.nextSent(t)
	fc.text(ackOK)
	waitState(t, in, StateStreaming)

	if n := in.Register("0xB", "b"); n != 1 {
		t.Errorf("Register() added %d, want 1", n)
	}
	in.Register("B")

	if ids := subscribedIDs(t, fc.nextSent(t)); !reflect.DeepEqual(ids, []string{"b"}) {
		t.Errorf("incremental subscribe ids = %v, want [b]", ids)
	}

	// Active keys are not resent.
	in.Register("a", "b", "c")
	if ids := subscribedIDs(t, fc.nextSent(t)); !reflect.DeepEqual(ids, []string{"c"}) {
		t.Errorf("incremental subscribe ids = %v, want [c]", ids)
	}
}

func TestIngester_RejectedSubscribeReconnects(t *testing.T) {
	first, second := newFakeClient(), newFakeClient()
	dial, dials := scriptedDial(first, second)
	in := NewPriceIngester(testConfig("a"), dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	first.nextSent(t)
	first.text(`{"type":"response","status":"error","error":"unknown price feed"}`)

	if ids := subscribedIDs(t, second.nextSent(t)); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Errorf("retry subscribe ids = %v, want [a]", ids)
	}
	if dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", dials.Load())
	}
	if !first.closed.Load() {
		t.Error("rejected session's client should be closed")
	}

	second.text(ackOK)
	waitState(t, in, StateStreaming)
}

func TestIngester_DialFailureRetries(t *testing.T) {
	fc := newFakeClient()
	var attempts atomic.Int32
	dial := func(ctx context.Context) (connection.Client, error) {
		if attempts.Add(1) < 3 {
			return nil, fmt.Errorf("%w: refused", model.ErrTransport)
		}
		return fc, nil
	}

	in := NewPriceIngester(testConfig("a"), dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	fc.nextSent(t)
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestIngester_Unregister(t *testing.T) {
	fc := newFakeClient()
	dial, _ := scriptedDial(fc)
	in := NewPriceIngester(testConfig("a", "b"), dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	fc.nextSent(t)
	fc.text(ackOK)
	waitState(t, in, StateStreaming)

	fc.text(priceUpdate("a", 1, 1, 0, 1))
	waitFor(t, "a cached", func() bool { _, ok := in.Latest("a"); return ok })

	if err := in.Unregister("0xA"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}

	var req struct {
		IDs  []string `json:"ids"`
		Type string   `json:"type"`
	}
	if err := json.Unmarshal(fc.nextSent(t), &req); err != nil {
		t.Fatal(err)
	}
	if req.Type != "unsubscribe" || !reflect.DeepEqual(req.IDs, []string{"a"}) {
		t.Errorf("unsubscribe = %+v", req)
	}
	if _, ok := in.Latest("a"); ok {
		t.Error("unregistered key should be evicted")
	}

	// In-flight updates for the removed key are dropped.
	fc.text(priceUpdate("a", 2, 1, 0, 2))
	fc.text(priceUpdate("b", 3, 1, 0, 3))
	waitFor(t, "b cached", func() bool { _, ok := in.Latest("b"); return ok })
	if _, ok := in.Latest("a"); ok {
		t.Error("update for unregistered key was cached")
	}
	if keys := in.Keys(); !reflect.DeepEqual(keys, []model.FeedKey{"b"}) {
		t.Errorf("Keys() = %v, want [b]", keys)
	}
}

func TestIngester_UnsubscribeAckNotCountedAsSubscribe(t *testing.T) {
	fc := newFakeClient()
	dial, dials := scriptedDial(fc)
	in := NewPriceIngester(testConfig("a", "b"), dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	fc.nextSent(t)
	fc.text(ackOK)
	waitState(t, in, StateStreaming)

	if err := in.Unregister("a"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	fc.nextSent(t) // unsubscribe [a]

	in.Register("c")
	if ids := subscribedIDs(t, fc.nextSent(t)); !reflect.DeepEqual(ids, []string{"c"}) {
		t.Fatalf("incremental subscribe ids = %v, want [c]", ids)
	}

	// First response answers the unsubscribe: an error there keeps the session.
	fc.text(`{"type":"response","status":"error","error":"not subscribed"}`)
	fc.text(priceUpdate("b", 7, 1, 0, 7))
	waitFor(t, "b cached", func() bool { _, ok := in.Latest("b"); return ok })

	if in.State() != StateStreaming || dials.Load() != 1 {
		t.Fatalf("state = %v dials = %d, want streaming on the first connection", in.State(), dials.Load())
	}

	// Second response answers the subscribe: an error there ends the session.
	fc.text(`{"type":"response","status":"error","error":"unknown price feed"}`)
	waitFor(t, "reconnect after rejected subscribe", func() bool { return dials.Load() == 2 })
}

func TestIngester_UnregisterDuringApply(t *testing.T) {
	in := NewPriceIngester(testConfig("a"), nil, nil)
	sess := &session{id: uuid.New(), logger: in.logger}

	stopApply := make(chan struct{})
	applied := make(chan struct{})
	go func() {
		defer close(applied)
		for ts := int64(1); ; ts++ {
			select {
			case <-stopApply:
				return
			default:
			}
			feed := model.PriceFeed{ID: "a", Price: model.Observation{Price: ts, PublishTime: ts}}
			in.apply(sess, "a", feed, time.Now())
		}
	}()

	waitFor(t, "a cached", func() bool { _, ok := in.Latest("a"); return ok })
	if err := in.Unregister("a"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	close(stopApply)
	<-applied

	if v, ok := in.Latest("a"); ok {
		t.Errorf("Latest(a) = %+v after Unregister, want evicted", v.Price)
	}
	if n := len(in.Snapshot()); n != 0 {
		t.Errorf("Snapshot() has %d entries, want 0", n)
	}
}

func TestIngester_Sinks(t *testing.T) {
	fc := newFakeClient()
	dial, _ := scriptedDial(fc)

	updates := make(chan model.Update, 4)
	cfg := testConfig("a")
	cfg.Sinks = []Sink{
		SinkFunc(func(u model.Update) error {
			updates <- u
			return nil
		}),
		SinkFunc(func(model.Update) error { return errors.New("full") }),
	}

	in := NewPriceIngester(cfg, dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	fc.nextSent(t)
	fc.text(ackOK)
	fc.text(priceUpdate("a", 5, 1, -1, 100))
	fc.text(priceUpdate("a", 4, 1, -1, 99))

	select {
	case u := <-updates:
		if u.Key != "a" || u.Source != model.SourceStream || u.Price == nil || u.Block != nil {
			t.Errorf("update = %+v", u)
		}
		if u.SessionID == uuid.Nil {
			t.Error("update should carry the session id")
		}
		if u.Price.Price.Price != 5 {
			t.Errorf("price = %d, want 5", u.Price.Price.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink received nothing")
	}

	// The stale update never reaches sinks.
	select {
	case u := <-updates:
		t.Errorf("unexpected update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

const blockNote = `{"jsonrpc":"2.0","method":"blockNotification","params":{"result":{"context":{"slot":%d},` +
	`"value":{"slot":%d,"err":null,"block":{"blockhash":"h%d","previousBlockhash":"p","parentSlot":%d,` +
	`"blockTime":1639926816,"blockHeight":100,"transactions":[{}]}}},"subscription":7}}`

func TestIngester_BlockStream(t *testing.T) {
	fc := newFakeClient()
	dial, _ := scriptedDial(fc)
	in := NewBlockIngester(testConfig(), codec.DefaultBlockSubscribeConfig(), dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	var req struct {
		Method string `json:"method"`
		ID     int64  `json:"id"`
		Params []any  `json:"params"`
	}
	if err := json.Unmarshal(fc.nextSent(t), &req); err != nil {
		t.Fatal(err)
	}
	if req.Method != "blockSubscribe" || req.ID != 1 || len(req.Params) != 2 || req.Params[0] != "all" {
		t.Errorf("subscribe = %+v", req)
	}

	fc.text(`{"jsonrpc":"2.0","result":7,"id":1}`)
	waitState(t, in, StateStreaming)

	fc.text(fmt.Sprintf(blockNote, 200, 200, 200, 199))
	fc.text(`{"jsonrpc":"2.0","method":"blockNotification","params":{"result":{"context":{"slot":201},"value":{"slot":201,"err":{"BlockStoreError":"BlockNotAvailable"},"block":null}},"subscription":7}}`)
	fc.text(fmt.Sprintf(blockNote, 150, 150, 150, 149))
	fc.text(fmt.Sprintf(blockNote, 202, 202, 202, 201))

	waitFor(t, "slot 202", func() bool {
		b, _ := in.Latest(model.BlockStreamKey)
		return b.Slot == 202
	})
	b, _ := in.Latest("anything")
	if b.Blockhash != "h202" || b.ParentSlot != 201 || b.TransactionCount != 1 {
		t.Errorf("block = %+v", b)
	}
	if n := len(in.Snapshot()); n != 1 {
		t.Errorf("len(Snapshot()) = %d, want 1", n)
	}
}

func TestIngester_StartTwice(t *testing.T) {
	dial, _ := scriptedDial()
	in := NewPriceIngester(testConfig(), dial, nil)

	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stop(t, in)

	if err := in.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestIngester_StopIsTerminal(t *testing.T) {
	fc := newFakeClient()
	dial, dials := scriptedDial(fc, newFakeClient())
	in := NewPriceIngester(testConfig("a"), dial, nil)
	in.Start(context.Background())

	fc.nextSent(t)
	fc.text(ackOK)
	waitState(t, in, StateStreaming)

	stop(t, in)

	select {
	case <-in.Done():
	default:
		t.Fatal("Done() should be closed after Stop")
	}
	if in.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", in.State())
	}
	if !fc.closed.Load() {
		t.Error("client should be closed on Stop")
	}

	time.Sleep(20 * time.Millisecond)
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after Stop)", dials.Load())
	}
}

func TestIngester_StopBeforeStart(t *testing.T) {
	dial, _ := scriptedDial()
	in := NewPriceIngester(testConfig(), dial, nil)
	if err := in.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestIngester_NoKeysStreamsImmediately(t *testing.T) {
	fc := newFakeClient()
	dial, _ := scriptedDial(fc)
	in := NewPriceIngester(testConfig(), dial, nil)
	in.Start(context.Background())
	defer stop(t, in)

	waitState(t, in, StateStreaming)

	in.Register("a")
	if ids := subscribedIDs(t, fc.nextSent(t)); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Errorf("subscribe ids = %v, want [a]", ids)
	}
}
