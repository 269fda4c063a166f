package ingest

import "github.com/rickgao/feedstream/internal/model"

// Sink receives every update accepted into the cache.
// Publish is called on the ingestion loop and must not block.
type Sink interface {
	Publish(u model.Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(u model.Update) error

func (f SinkFunc) Publish(u model.Update) error { return f(u) }
