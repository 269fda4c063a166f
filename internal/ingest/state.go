package ingest

import (
	"math/rand/v2"
	"time"
)

// State is the ingestion loop's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	}
	return "unknown"
}

// Backoff produces capped exponential delays with jitter.
// Each delay is drawn from [d/2, 3d/2) where d doubles per attempt up to Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	current time.Duration
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.Base <= 0 {
		b.Base = time.Second
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}

	if b.current == 0 {
		b.current = b.Base
	} else {
		b.current *= 2
		if b.current > b.Max {
			b.current = b.Max
		}
	}

	// Add jitter: current * (0.5 to 1.5)
	d := b.current/2 + time.Duration(rand.Int64N(int64(b.current)))
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Reset starts the sequence over from Base.
func (b *Backoff) Reset() {
	b.current = 0
}
