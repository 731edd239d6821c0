package timeline

import (
	"fmt"
	"slices"

	"github.com/aretw0/warden/pkg/domain"
)

// trace indexes the retained events of one trace. Guarded by Store.mu.
type trace struct {
	events []string
	seq    uint64
}

// traceLocked returns the trace for id, creating it and evicting the oldest trace
// when the index is full. Callers hold s.mu.
func (s *Store) traceLocked(id string) *trace {
	if t, ok := s.traces[id]; ok {
		return t
	}
	if len(s.traces) >= s.traceCap {
		oldest, first := "", uint64(0)
		for tid, t := range s.traces {
			if oldest == "" || t.seq < first {
				oldest, first = tid, t.seq
			}
		}
		s.dropTraceLocked(oldest)
	}
	s.traceSeq++
	t := &trace{seq: s.traceSeq}
	s.traces[id] = t
	return t
}

// dropTraceLocked forgets a trace and clears the trace id of its retained events.
func (s *Store) dropTraceLocked(id string) {
	delete(s.traces, id)
	s.events.update(func(e *domain.Event) {
		if e.TraceID == id {
			e.TraceID = ""
		}
	})
}

// untraceLocked removes an event that left the ring from its trace. A trace
// whose last retained event is gone is dropped.
func (s *Store) untraceLocked(e domain.Event) {
	if e.TraceID == "" {
		return
	}
	t, ok := s.traces[e.TraceID]
	if !ok {
		return
	}
	t.events = slices.DeleteFunc(t.events, func(id string) bool { return id == e.ID })
	if len(t.events) == 0 {
		delete(s.traces, e.TraceID)
	}
}

// CreateTrace allocates an empty trace.
func (s *Store) CreateTrace() string {
	id := s.newID()
	s.mu.Lock()
	s.traceLocked(id)
	s.mu.Unlock()
	return id
}

// LinkEvents attaches retained events to a trace, creating one when traceID is empty.
// Linking stamps the trace id on each event, moving it out of any previous trace.
// Unknown events or an unknown trace fail with domain.ErrNotFound and link nothing.
func (s *Store) LinkEvents(eventIDs []string, traceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if traceID != "" {
		if _, ok := s.traces[traceID]; !ok {
			return "", fmt.Errorf("trace %s: %w", traceID, domain.ErrNotFound)
		}
	}

	wanted := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		wanted[id] = true
	}
	for id := range wanted {
		if !s.retainedLocked(id) {
			return "", fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
		}
	}

	if traceID == "" {
		traceID = s.newID()
	}
	t := s.traceLocked(traceID)
	s.events.update(func(e *domain.Event) {
		if !wanted[e.ID] || e.TraceID == traceID {
			return
		}
		if e.TraceID != "" {
			s.untraceLocked(*e)
		}
		e.TraceID = traceID
		t.events = append(t.events, e.ID)
	})
	return traceID, nil
}

func (s *Store) retainedLocked(id string) bool {
	found := false
	s.events.each(func(e domain.Event) bool {
		found = e.ID == id
		return !found
	})
	return found
}

// GetTrace returns the linked events still retained, oldest first.
func (s *Store) GetTrace(traceID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.traces[traceID]; !ok {
		return nil, fmt.Errorf("trace %s: %w", traceID, domain.ErrNotFound)
	}

	out := []domain.Event{}
	s.events.each(func(e domain.Event) bool {
		if e.TraceID == traceID {
			out = append(out, cloneEvent(e))
		}
		return true
	})
	return out, nil
}
