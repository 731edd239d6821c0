package timeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceIndex_PrunedWithEvictedEvents(t *testing.T) {
	s := New(WithEventCapacity(10))

	for i := range 5000 {
		ctx := domain.WithTraceID(context.Background(), fmt.Sprintf("trace-%d", i))
		s.LogEvent(ctx, domain.EventSystem, "http", "req", domain.EventOptions{})
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Len(t, s.traces, 10)
	_, ok := s.traces["trace-4999"]
	assert.True(t, ok)
	_, ok = s.traces["trace-0"]
	assert.False(t, ok)
}

func TestTraceIndex_CapacityDropsOldestTrace(t *testing.T) {
	s := New(WithTraceCapacity(2))
	ctx := context.Background()

	first := s.CreateTrace()
	a := s.LogEvent(ctx, domain.EventSystem, "cli", "a", domain.EventOptions{TraceID: first})
	s.CreateTrace()
	s.CreateTrace()

	s.mu.RLock()
	assert.Len(t, s.traces, 2)
	s.mu.RUnlock()

	_, err := s.GetTrace(first)
	require.ErrorIs(t, err, domain.ErrNotFound)
	events := s.QueryEvents(EventFilter{})
	require.Len(t, events, 1)
	assert.Equal(t, a, events[0].ID)
	assert.Empty(t, events[0].TraceID)
}
