package audit

import (
	"io"

	iaudit "github.com/MrEthical07/authguard/internal/audit"
)

// Sink receives copies of appended entries.
type Sink = iaudit.Sink[Entry]

// Dispatcher relays entries to a Sink asynchronously.
type Dispatcher = iaudit.Dispatcher[Entry]

// DispatcherConfig controls dispatcher buffering.
type DispatcherConfig = iaudit.Config[Entry]

// NewDispatcher returns nil when cfg.Enabled is false.
func NewDispatcher(cfg DispatcherConfig, sink Sink) *Dispatcher {
	return iaudit.NewDispatcher[Entry](cfg, sink)
}

// NewJSONWriterSink writes one JSON entry per line to w.
func NewJSONWriterSink(w io.Writer) Sink {
	return iaudit.NewJSONWriterSink[Entry](w)
}

// NewChannelSink buffers entries on a channel.
func NewChannelSink(buffer int) *iaudit.ChannelSink[Entry] {
	return iaudit.NewChannelSink[Entry](buffer)
}

// MultiSink fans out to several sinks.
func MultiSink(sinks ...Sink) Sink {
	return iaudit.MultiSink[Entry](sinks)
}
