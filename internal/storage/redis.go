package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/feedstream/internal/metrics"
	"github.com/rickgao/feedstream/internal/model"
	"github.com/rickgao/feedstream/internal/router"
)

const (
	DefaultKeyPrefix = "feedstream:latest:"
	DefaultTTL       = 10 * time.Minute

	connectTimeout = 5 * time.Second
	writeTimeout   = 2 * time.Second
)

// putScript stores ARGV[2] under KEYS[1] unless the stored version is newer.
// ARGV[1] is the version, ARGV[3] the TTL in milliseconds (0 keeps no expiry).
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Options configures a RedisStorage.
type Options struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration // 0 disables expiry
	KeyPrefix string
	Metrics   *metrics.Metrics
}

// StoredObservation is the JSON document kept per key.
type StoredObservation struct {
	Key        string       `json:"key"`
	Version    int64        `json:"version"`
	Source     string       `json:"source"`
	SessionID  string       `json:"session_id,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
	Price      *StoredPrice `json:"price,omitempty"`
	EMAPrice   *StoredPrice `json:"ema_price,omitempty"`
	Block      *StoredBlock `json:"block,omitempty"`
}

// StoredPrice is one observation. Conf is a string so values above 2^53 survive
// JSON readers that decode numbers as doubles.
type StoredPrice struct {
	Price       int64   `json:"price"`
	Conf        string  `json:"conf"`
	Expo        int32   `json:"expo"`
	PublishTime int64   `json:"publish_time"`
	Value       float64 `json:"value"`
}

// StoredBlock is a block summary.
type StoredBlock struct {
	Slot              uint64 `json:"slot"`
	Blockhash         string `json:"blockhash"`
	PreviousBlockhash string `json:"previous_blockhash"`
	ParentSlot        uint64 `json:"parent_slot"`
	BlockTime         int64  `json:"block_time,omitempty"`
	BlockHeight       uint64 `json:"block_height,omitempty"`
	TransactionCount  int    `json:"transaction_count"`
}

// RedisStorage is the latest-value mirror.
type RedisStorage struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	input  *router.GrowableBuffer[model.Update]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisStorage connects to Redis and verifies the connection with a ping.
func NewRedisStorage(opts Options, logger *slog.Logger) (*RedisStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", model.ErrTransport, opts.Addr, err)
	}

	return &RedisStorage{
		client:  client,
		prefix:  opts.KeyPrefix,
		ttl:     opts.TTL,
		metrics: opts.Metrics,
		logger:  logger.With("sink", "redis"),
	}, nil
}

// Close closes the connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Put stores u if it is not older than the stored value. Reports whether it was written.
func (s *RedisStorage) Put(ctx context.Context, u model.Update) (bool, error) {
	doc, err := toStored(u)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", u.Key, err)
	}

	res, err := putScript.Run(ctx, s.client,
		[]string{s.prefix + u.Key.String()},
		doc.Version, data, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: redis put %s: %w", model.ErrTransport, u.Key, err)
	}
	return res == 1, nil
}

// Get returns the stored observation for key, or nil if there is none.
func (s *RedisStorage) Get(ctx context.Context, key model.FeedKey) (*StoredObservation, error) {
	data, err := s.client.HGet(ctx, s.prefix+key.String(), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: redis get %s: %w", model.ErrTransport, key, err)
	}

	var doc StoredObservation
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: stored value for %s: %w", model.ErrDecode, key, err)
	}
	return &doc, nil
}

// Start mirrors every update read from input until ctx is cancelled or the
// buffer is closed and drained. Writes are not bound to ctx, so an update
// already taken from input is still stored after cancellation.
func (s *RedisStorage) Start(ctx context.Context, input *router.GrowableBuffer[model.Update]) {
	s.input = input
	writeCtx := context.WithoutCancel(ctx)
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			u, ok := input.Receive(ctx)
			if !ok {
				return
			}
			s.mirror(writeCtx, u)
		}
	}()

	s.logger.Info("redis mirror started", "prefix", s.prefix, "ttl", s.ttl)
}

// Stop halts the mirror loop, waits for it to exit, then writes whatever is
// left in the input buffer. Both steps are bounded by ctx.
func (s *RedisStorage) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("redis mirror stop timed out")
		return ctx.Err()
	}

	if s.input != nil {
		rest := s.input.DrainTo(0)
		for i, u := range rest {
			if ctx.Err() != nil {
				s.logger.Warn("redis mirror drain timed out", "remaining", len(rest)-i)
				return ctx.Err()
			}
			s.mirror(ctx, u)
		}
	}

	s.logger.Info("redis mirror stopped")
	return nil
}

func (s *RedisStorage) mirror(ctx context.Context, u model.Update) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	written, err := s.Put(ctx, u)
	if err != nil {
		s.logger.Warn("mirror failed", "key", u.Key, "error", err)
		s.metrics.SinkError("redis")
		return
	}
	if !written {
		s.logger.Debug("stored value is newer, skipped", "key", u.Key)
	}
}

func toStored(u model.Update) (StoredObservation, error) {
	doc := StoredObservation{
		Key:        u.Key.String(),
		Source:     string(u.Source),
		ReceivedAt: u.ReceivedAt.UTC(),
	}
	if u.SessionID != uuid.Nil {
		doc.SessionID = u.SessionID.String()
	}

	switch {
	case u.Price != nil:
		doc.Version = u.Price.Version()
		doc.Price = storedPrice(u.Price.Price)
		doc.EMAPrice = storedPrice(u.Price.EMAPrice)
	case u.Block != nil:
		b := u.Block
		doc.Version = b.Version()
		doc.Block = &StoredBlock{
			Slot:              b.Slot,
			Blockhash:         b.Blockhash,
			PreviousBlockhash: b.PreviousBlockhash,
			ParentSlot:        b.ParentSlot,
			BlockTime:         b.BlockTime,
			BlockHeight:       b.BlockHeight,
			TransactionCount:  b.TransactionCount,
		}
	default:
		return doc, fmt.Errorf("%w: update for %s has no payload", model.ErrInvalidArgument, u.Key)
	}
	return doc, nil
}

func storedPrice(o model.Observation) *StoredPrice {
	return &StoredPrice{
		Price:       o.Price,
		Conf:        strconv.FormatUint(o.Conf, 10),
		Expo:        o.Expo,
		PublishTime: o.PublishTime,
		Value:       o.Float64(),
	}
}
