package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Sink receives dispatched records of type E.
type Sink[E any] interface {
	Emit(ctx context.Context, event E)
}

// NoOpSink drops everything.
type NoOpSink[E any] struct{}

func (NoOpSink[E]) Emit(context.Context, E) {}

// MultiSink fans one event out to several sinks in order.
type MultiSink[E any] []Sink[E]

func (m MultiSink[E]) Emit(ctx context.Context, event E) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}

// ChannelSink writes events into a buffered channel.
type ChannelSink[E any] struct {
	events chan E
}

func NewChannelSink[E any](buffer int) *ChannelSink[E] {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink[E]{
		events: make(chan E, buffer),
	}
}

func (s *ChannelSink[E]) Emit(ctx context.Context, event E) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink[E]) Events() <-chan E {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink[E any] struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink[E any](w io.Writer) *JSONWriterSink[E] {
	return &JSONWriterSink[E]{
		writer: w,
	}
}

func (s *JSONWriterSink[E]) Emit(_ context.Context, event E) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(append(data, '\n'))
}
