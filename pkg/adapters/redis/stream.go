package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/warden/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultStreamMaxLen caps the stream like the in-process event ring.
const DefaultStreamMaxLen = 10000

// StreamSink publishes timeline events to a Redis stream with XADD.
// It implements sink.Sink.
type StreamSink struct {
	client backend.UniversalClient
	stream string
	maxLen int64
}

// StreamOption configures the StreamSink.
type StreamOption func(*StreamSink)

// WithMaxLen overrides DefaultStreamMaxLen. Trimming is approximate.
func WithMaxLen(n int64) StreamOption {
	return func(s *StreamSink) { s.maxLen = n }
}

// NewStreamSink creates a sink writing to stream.
func NewStreamSink(client backend.UniversalClient, stream string, opts ...StreamOption) *StreamSink {
	s := &StreamSink{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish appends one entry. Routing fields are top-level stream fields; the full
// event is carried as JSON in "payload".
func (s *StreamSink) Publish(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	args := &backend.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":       e.ID,
			"seq":      e.Seq,
			"type":     string(e.Type),
			"severity": string(e.Severity),
			"span_id":  e.SpanID,
			"payload":  payload,
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// DecodeEntry restores the event carried by a stream entry.
func DecodeEntry(msg backend.XMessage) (domain.Event, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return domain.Event{}, fmt.Errorf("stream entry %s has no payload", msg.ID)
	}
	var e domain.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return domain.Event{}, fmt.Errorf("decode stream entry %s: %w", msg.ID, err)
	}
	return e, nil
}
