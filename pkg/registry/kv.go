package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/aretw0/warden/pkg/domain"
)

// KV is an in-process key/value store whose mutations run as governed spans.
type KV struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewKV creates an empty store.
func NewKV() *KV {
	return &KV{data: make(map[string]any)}
}

// Snapshot returns a copy of the stored data.
func (kv *KV) Snapshot() map[string]any {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return maps.Clone(kv.data)
}

func (kv *KV) get(key string) (any, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.data[key]
	return v, ok
}

// swap sets or deletes key and returns the previous value.
func (kv *KV) swap(key string, value any, present bool) (any, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	prev, had := kv.data[key]
	if present {
		kv.data[key] = value
	} else {
		delete(kv.data, key)
	}
	return prev, had
}

type keyArgs struct {
	Key string `json:"key"`
}

type putArgs struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

var errMissingKey = errors.New("key is required")

// RegisterKV exposes kv.get, kv.put, kv.delete and kv.purge on r.
func RegisterKV(r *Registry, kv *KV) {
	r.Register("kv.get", Operation{
		Type:        domain.SpanRead,
		Description: "Read a key",
		Bind: func(args map[string]any) (domain.Binding, error) {
			var a keyArgs
			if err := decodeKey(args, &a); err != nil {
				return domain.Binding{}, err
			}
			return domain.Binding{
				Forward: func(context.Context) (any, error) {
					v, ok := kv.get(a.Key)
					if !ok {
						return nil, fmt.Errorf("key %s: %w", a.Key, domain.ErrNotFound)
					}
					return v, nil
				},
			}, nil
		},
	})

	r.Register("kv.put", Operation{
		Type:        domain.SpanWrite,
		Description: "Set a key; rollback restores the previous value",
		Bind: func(args map[string]any) (domain.Binding, error) {
			var a putArgs
			if err := decodeArgs(args, &a); err != nil {
				return domain.Binding{}, err
			}
			if a.Key == "" {
				return domain.Binding{}, fmt.Errorf("%w: %w", domain.ErrInvalidSpan, errMissingKey)
			}
			return kv.mutation(a.Key, a.Value, true), nil
		},
	})

	r.Register("kv.delete", Operation{
		Type:        domain.SpanWrite,
		Description: "Delete a key; rollback restores it",
		Bind: func(args map[string]any) (domain.Binding, error) {
			var a keyArgs
			if err := decodeKey(args, &a); err != nil {
				return domain.Binding{}, err
			}
			return kv.mutation(a.Key, nil, false), nil
		},
	})

	r.Register("kv.purge", Operation{
		Type:        domain.SpanIO,
		Description: "Delete every key; cannot be rolled back",
		Bind: func(args map[string]any) (domain.Binding, error) {
			if err := decodeArgs(args, &struct{}{}); err != nil {
				return domain.Binding{}, err
			}
			return domain.Binding{
				Simulate: func(context.Context) (domain.Diff, error) {
					changes := domain.DiffMaps(kv.Snapshot(), nil)
					return domain.Diff{Changes: changes, Impact: domain.ImpactOf(changes)}, nil
				},
				Forward: func(context.Context) (any, error) {
					kv.mu.Lock()
					n := len(kv.data)
					clear(kv.data)
					kv.mu.Unlock()
					return n, nil
				},
			}, nil
		},
	})
}

func decodeKey(args map[string]any, a *keyArgs) error {
	if err := decodeArgs(args, a); err != nil {
		return err
	}
	if a.Key == "" {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSpan, errMissingKey)
	}
	return nil
}

// mutation binds a set (present) or delete of key. The forward call captures the
// previous value so rollback can restore it exactly.
func (kv *KV) mutation(key string, value any, present bool) domain.Binding {
	var (
		mu      sync.Mutex
		prev    any
		had     bool
		applied bool
	)
	return domain.Binding{
		Simulate: func(context.Context) (domain.Diff, error) {
			before := map[string]any{}
			if v, ok := kv.get(key); ok {
				before[key] = v
			}
			after := map[string]any{}
			if present {
				after[key] = value
			}
			changes := domain.DiffMaps(before, after)
			return domain.Diff{Changes: changes, Impact: domain.ImpactOf(changes)}, nil
		},
		Forward: func(context.Context) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			prev, had = kv.swap(key, value, present)
			applied = true
			return prev, nil
		},
		Rollback: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if !applied {
				return errors.New("nothing to roll back")
			}
			kv.swap(key, prev, had)
			applied = false
			return nil
		},
	}
}
