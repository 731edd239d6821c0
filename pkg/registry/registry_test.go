package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(kv *registry.KV) *registry.Registry {
	r := registry.NewRegistry()
	registry.RegisterKV(r, kv)
	registry.RegisterWeb(r, nil)
	return r
}

func TestRegistry_Lookup(t *testing.T) {
	r := newRegistry(registry.NewKV())
	assert.Equal(t, []string{"kv.delete", "kv.get", "kv.purge", "kv.put", "web.visit"}, r.Names())

	_, _, err := r.Bind("nope", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = r.Bind("kv.put", map[string]any{"value": 1})
	assert.ErrorIs(t, err, domain.ErrInvalidSpan)

	_, _, err = r.Bind("kv.get", map[string]any{"key": "a", "extra": true})
	assert.ErrorIs(t, err, domain.ErrInvalidSpan)
}

func TestKV_PutSimulateExecuteRollback(t *testing.T) {
	kv := registry.NewKV()
	r := newRegistry(kv)
	ctx := context.Background()

	typ, b, err := r.Bind("kv.put", map[string]any{"key": "color", "value": "red"})
	require.NoError(t, err)
	assert.Equal(t, domain.SpanWrite, typ)
	require.NotNil(t, b.Rollback)

	diff, err := b.Simulate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Change{{Kind: domain.ChangeCreate, Target: "color", After: "red"}}, diff.Changes)
	assert.Empty(t, kv.Snapshot(), "simulation has no side effects")

	_, err = b.Forward(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"color": "red"}, kv.Snapshot())

	_, b2, err := r.Bind("kv.put", map[string]any{"key": "color", "value": "blue"})
	require.NoError(t, err)
	diff, err = b2.Simulate(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ImpactMedium, diff.Impact)

	prev, err := b2.Forward(ctx)
	require.NoError(t, err)
	assert.Equal(t, "red", prev)

	require.NoError(t, b2.Rollback(ctx))
	assert.Equal(t, map[string]any{"color": "red"}, kv.Snapshot())
	assert.Error(t, b2.Rollback(ctx))

	require.NoError(t, b.Rollback(ctx))
	assert.Empty(t, kv.Snapshot())
}

func TestKV_DeleteAndPurge(t *testing.T) {
	kv := registry.NewKV()
	r := newRegistry(kv)
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		_, b, err := r.Bind("kv.put", map[string]any{"key": k, "value": 1})
		require.NoError(t, err)
		_, err = b.Forward(ctx)
		require.NoError(t, err)
	}

	_, del, err := r.Bind("kv.delete", map[string]any{"key": "a"})
	require.NoError(t, err)
	diff, err := del.Simulate(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ImpactHigh, diff.Impact)
	_, err = del.Forward(ctx)
	require.NoError(t, err)
	require.NoError(t, del.Rollback(ctx))
	assert.Len(t, kv.Snapshot(), 2)

	typ, purge, err := r.Bind("kv.purge", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SpanIO, typ)
	assert.Nil(t, purge.Rollback)
	diff, err = purge.Simulate(ctx)
	require.NoError(t, err)
	assert.Len(t, diff.Changes, 2)
	n, err := purge.Forward(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, kv.Snapshot())

	_, get, err := r.Bind("kv.get", map[string]any{"key": "a"})
	require.NoError(t, err)
	_, err = get.Forward(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWebVisit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := registry.NewRegistry()
	registry.RegisterWeb(r, srv.Client())
	ctx := context.Background()

	typ, b, err := r.Bind("web.visit", map[string]any{"url": srv.URL + "/home"})
	require.NoError(t, err)
	assert.Equal(t, domain.SpanNavigation, typ)
	res, err := b.Forward(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.(map[string]any)["status"])

	_, b, err = r.Bind("web.visit", map[string]any{"url": srv.URL + "/missing"})
	require.NoError(t, err)
	_, err = b.Forward(ctx)
	assert.Error(t, err)

	_, _, err = r.Bind("web.visit", map[string]any{"url": "ftp://example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidSpan)
}
