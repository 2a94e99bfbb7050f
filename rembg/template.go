package rembg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/chaos-io/carstudio/errs"
)

// TemplateService is the remote side of template management.
type TemplateService interface {
	ListTemplates(ctx context.Context) ([]Template, error)
	CreateTemplate(ctx context.Context, name string, background []byte) (Template, error)
}

// Bindings persists name to template id mappings beyond the process lifetime.
type Bindings interface {
	Lookup(ctx context.Context, name string) (string, bool, error)
	// Bind records id for name unless a binding already exists, and returns
	// the id that is bound afterwards.
	Bind(ctx context.Context, name, id string) (string, error)
}

// BackgroundFunc produces the encoded background a new template is created from.
type BackgroundFunc func(ctx context.Context) ([]byte, error)

// TemplateManager maps background names to remote template ids. A resolved
// binding is cached for the process lifetime and never invalidated.
// Concurrent resolutions of the same name share one remote lookup.
type TemplateManager struct {
	svc      TemplateService
	bindings Bindings
	logger   *slog.Logger

	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group
}

// DefaultResolveTimeout bounds one shared resolution, independent of the
// callers waiting on it.
const DefaultResolveTimeout = 90 * time.Second

// NewTemplateManager returns a manager; bindings may be nil.
func NewTemplateManager(svc TemplateService, bindings Bindings, logger *slog.Logger) *TemplateManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateManager{
		svc:      svc,
		bindings: bindings,
		logger:   logger,
		timeout:  DefaultResolveTimeout,
		cache:    make(map[string]string),
	}
}

func (m *TemplateManager) cached(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.cache[name]
	return id, ok
}

func (m *TemplateManager) remember(name, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[name] = id
}

func (m *TemplateManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// Resolve returns the template id bound to name, creating the remote template
// from background on first use.
func (m *TemplateManager) Resolve(ctx context.Context, name string, background BackgroundFunc) (string, error) {
	if name == "" {
		return "", fmt.Errorf("template name is empty")
	}
	if id, ok := m.cached(name); ok {
		return id, nil
	}

	// The shared lookup outlives any single caller, each caller only stops
	// waiting when its own context ends.
	ch := m.group.DoChan(name, func() (interface{}, error) {
		if id, ok := m.cached(name); ok {
			return id, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		id, err := m.resolve(rctx, name, background)
		if err != nil {
			return "", err
		}
		m.remember(name, id)
		return id, nil
	})

	select {
	case <-ctx.Done():
		return "", errs.FromContext(ctx, "resolve template")
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			m.logger.Debug("template resolution shared", "name", name)
		}
		return res.Val.(string), nil
	}
}

func (m *TemplateManager) resolve(ctx context.Context, name string, background BackgroundFunc) (string, error) {
	if m.bindings != nil {
		id, ok, err := m.bindings.Lookup(ctx, name)
		if err != nil {
			m.logger.Warn("template binding lookup failed", "name", name, "error", err)
		} else if ok {
			return id, nil
		}
	}

	templates, err := m.svc.ListTemplates(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range templates {
		if t.Name == name {
			return m.bind(ctx, name, t.ID), nil
		}
	}

	data, err := background(ctx)
	if err != nil {
		return "", fmt.Errorf("render template background %s: %w", name, err)
	}
	tpl, err := m.svc.CreateTemplate(ctx, name, data)
	if err != nil {
		return "", err
	}
	return m.bind(ctx, name, tpl.ID), nil
}

// bind persists the binding. When another process won the race its id is
// adopted so every replica converges on the same template.
func (m *TemplateManager) bind(ctx context.Context, name, id string) string {
	if m.bindings == nil {
		return id
	}
	bound, err := m.bindings.Bind(ctx, name, id)
	if err != nil {
		m.logger.Warn("persist template binding failed", "name", name, "error", err)
		return id
	}
	if bound != id {
		m.logger.Info("adopted template bound by another instance", "name", name, "id", bound, "discarded", id)
	}
	return bound
}

const DefaultBindingPrefix = "carstudio:template:"

// RedisBindings stores template bindings in Redis, shared by every instance.
type RedisBindings struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBindings(client redis.UniversalClient, prefix string) *RedisBindings {
	if prefix == "" {
		prefix = DefaultBindingPrefix
	}
	return &RedisBindings{client: client, prefix: prefix}
}

func (b *RedisBindings) key(name string) string {
	return b.prefix + name
}

func (b *RedisBindings) Lookup(ctx context.Context, name string) (string, bool, error) {
	id, err := b.client.Get(ctx, b.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return id, true, nil
}

func (b *RedisBindings) Bind(ctx context.Context, name, id string) (string, error) {
	ok, err := b.client.SetNX(ctx, b.key(name), id, 0).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return id, nil
	}
	existing, found, err := b.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return id, nil
	}
	return existing, nil
}
