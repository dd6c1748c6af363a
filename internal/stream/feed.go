// Package stream consumes normalized account events from the connectivity
// layer's websocket feed and submits them to the engine. It is transport
// plumbing only: normalization happens upstream, decisions downstream.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flatguard/flatguard/internal/events"
	"github.com/flatguard/flatguard/internal/metrics"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	readDeadline   = 90 * time.Second
)

// Sink accepts events from the feed; the engine implements it.
type Sink interface {
	Submit(ctx context.Context, ev events.Event) error
}

// Feed maintains a websocket subscription to the normalized event stream,
// reconnecting with exponential backoff when the connection drops.
type Feed struct {
	url     string
	sink    Sink
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewFeed creates a feed consumer for the given websocket URL.
func NewFeed(url string, sink Sink, m *metrics.Registry) *Feed {
	return &Feed{
		url:     url,
		sink:    sink,
		metrics: m,
		logger:  log.With().Str("component", "stream").Logger(),
	}
}

// Run consumes until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := f.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		f.metrics.StreamReconnects.Inc()
		f.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.logger.Info().Str("url", f.url).Msg("Feed connected")

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.metrics.StreamEventsTotal.Inc()

		var ev events.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			f.logger.Warn().Err(err).Msg("Malformed feed event dropped")
			continue
		}
		if err := f.sink.Submit(ctx, ev); err != nil {
			return err
		}
	}
}
