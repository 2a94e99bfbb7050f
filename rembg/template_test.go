package rembg

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/carstudio/errs"
)

type countingService struct {
	mu        sync.Mutex
	templates []Template
	lists     atomic.Int32
	creates   atomic.Int32
	delay     time.Duration
	listErr   error
}

func (s *countingService) ListTemplates(ctx context.Context) ([]Template, error) {
	s.lists.Add(1)
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Template(nil), s.templates...), nil
}

func (s *countingService) CreateTemplate(ctx context.Context, name string, background []byte) (Template, error) {
	s.creates.Add(1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return Template{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl := Template{ID: "tpl_" + name, Name: name}
	s.templates = append(s.templates, tpl)
	return tpl, nil
}

func staticBackground(ctx context.Context) ([]byte, error) {
	return []byte("jpeg"), nil
}

func TestTemplateManager_CachedNeedsNoNetwork(t *testing.T) {
	t.Parallel()

	svc := &countingService{}
	m := NewTemplateManager(svc, nil, nil)
	ctx := context.Background()

	id, err := m.Resolve(ctx, "studio_white", staticBackground)
	require.NoError(t, err)
	assert.Equal(t, "tpl_studio_white", id)
	assert.Equal(t, int32(1), svc.lists.Load())
	assert.Equal(t, int32(1), svc.creates.Load())

	id, err = m.Resolve(ctx, "studio_white", func(context.Context) ([]byte, error) {
		t.Fatal("background requested for a cached template")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "tpl_studio_white", id)
	assert.Equal(t, int32(1), svc.lists.Load())
	assert.Equal(t, int32(1), svc.creates.Load())
	assert.Equal(t, 1, m.Len())
}

func TestTemplateManager_ReusesRemoteTemplate(t *testing.T) {
	t.Parallel()

	svc := &countingService{templates: []Template{{ID: "remote_1", Name: "garage_modern"}}}
	m := NewTemplateManager(svc, nil, nil)

	id, err := m.Resolve(context.Background(), "garage_modern", staticBackground)
	require.NoError(t, err)
	assert.Equal(t, "remote_1", id)
	assert.Zero(t, svc.creates.Load())
}

func TestTemplateManager_SharedResolveOutlivesCaller(t *testing.T) {
	t.Parallel()

	svc := &countingService{delay: 100 * time.Millisecond}
	m := NewTemplateManager(svc, nil, nil)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	shortErr := make(chan error, 1)
	go func() {
		_, err := m.Resolve(short, "studio_white", staticBackground)
		shortErr <- err
	}()
	require.Eventually(t, func() bool { return svc.creates.Load() == 1 }, time.Second, time.Millisecond)

	id, err := m.Resolve(context.Background(), "studio_white", staticBackground)
	require.NoError(t, err)
	assert.Equal(t, "tpl_studio_white", id)

	err = <-shortErr
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTimeout))

	assert.Equal(t, int32(1), svc.creates.Load())
	assert.Equal(t, 1, m.Len())
}

func TestTemplateManager_ConcurrentResolveCreatesOnce(t *testing.T) {
	t.Parallel()

	svc := &countingService{delay: 20 * time.Millisecond}
	m := NewTemplateManager(svc, nil, nil)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.Resolve(context.Background(), "showroom", staticBackground)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), svc.creates.Load())
	for _, id := range ids {
		assert.Equal(t, "tpl_showroom", id)
	}
}

func TestTemplateManager_Errors(t *testing.T) {
	t.Parallel()

	svc := &countingService{listErr: errors.New("down")}
	m := NewTemplateManager(svc, nil, nil)

	_, err := m.Resolve(context.Background(), "studio_grey", staticBackground)
	assert.ErrorContains(t, err, "down")
	assert.Zero(t, m.Len())

	_, err = m.Resolve(context.Background(), "", staticBackground)
	assert.Error(t, err)

	ok := &countingService{}
	m = NewTemplateManager(ok, nil, nil)
	_, err = m.Resolve(context.Background(), "studio_grey", func(context.Context) ([]byte, error) {
		return nil, errors.New("render failed")
	})
	assert.ErrorContains(t, err, "render failed")
	assert.Zero(t, ok.creates.Load())
}

func newRedisBindings(t *testing.T) (*RedisBindings, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisBindings(client, ""), mr
}

func TestRedisBindings(t *testing.T) {
	t.Parallel()

	b, mr := newRedisBindings(t)
	ctx := context.Background()

	_, ok, err := b.Lookup(ctx, "studio_white")
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := b.Bind(ctx, "studio_white", "tpl_a")
	require.NoError(t, err)
	assert.Equal(t, "tpl_a", id)

	// a second instance loses the race and adopts the first binding
	id, err = b.Bind(ctx, "studio_white", "tpl_b")
	require.NoError(t, err)
	assert.Equal(t, "tpl_a", id)

	got, err := mr.Get(DefaultBindingPrefix + "studio_white")
	require.NoError(t, err)
	assert.Equal(t, "tpl_a", got)
}

func TestTemplateManager_UsesBindings(t *testing.T) {
	t.Parallel()

	b, mr := newRedisBindings(t)
	require.NoError(t, mr.Set(DefaultBindingPrefix+"studio_black", "tpl_shared"))

	svc := &countingService{}
	m := NewTemplateManager(svc, b, nil)
	ctx := context.Background()

	id, err := m.Resolve(ctx, "studio_black", staticBackground)
	require.NoError(t, err)
	assert.Equal(t, "tpl_shared", id)
	assert.Zero(t, svc.lists.Load())

	id, err = m.Resolve(ctx, "garage_luxury", staticBackground)
	require.NoError(t, err)
	assert.Equal(t, "tpl_garage_luxury", id)

	stored, err := mr.Get(DefaultBindingPrefix + "garage_luxury")
	require.NoError(t, err)
	assert.Equal(t, "tpl_garage_luxury", stored)
}
