// Package backdrop is the catalog of backgrounds a vehicle can be placed on
// and renders them into canvases.
package backdrop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chaos-io/carstudio/artifact"
	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/util"
	nhttp "github.com/chaos-io/carstudio/util/http"
)

const (
	DefaultWidth  = 1920
	DefaultHeight = 1080

	// CustomQuality is the JPEG quality uploaded backgrounds are stored with.
	CustomQuality = 95

	loadCustomTimeout = 10 * time.Second
	renderTimeout     = 60 * time.Second
)

var validID = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

type Store struct {
	width, height int
	dir           string
	maxBytes      int64

	artifacts artifact.Store
	client    nhttp.IClient
	logger    *slog.Logger

	mu    sync.RWMutex
	specs map[string]Spec
	order []string
	cache map[string]image.Image
	group singleflight.Group
}

type Option func(*Store)

// WithDir sets the directory static backgrounds are read from.
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithArtifacts enables custom uploads and artifact backed backgrounds.
func WithArtifacts(a artifact.Store) Option {
	return func(s *Store) { s.artifacts = a }
}

func WithHTTPClient(c nhttp.IClient) Option {
	return func(s *Store) { s.client = c }
}

func WithMaxBytes(n int64) Option {
	return func(s *Store) { s.maxBytes = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore loads the built-in catalog, every image found in the backgrounds
// directory that the catalog does not already reference, and the custom
// backgrounds uploaded to the artifact store earlier.
func NewStore(width, height int, opts ...Option) (*Store, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", width, height)
	}

	s := &Store{
		width:    width,
		height:   height,
		maxBytes: util.DefaultMaxBackground,
		specs:    make(map[string]Spec),
		cache:    make(map[string]image.Image),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nhttp.NewHTTPClient()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	for _, spec := range Catalog() {
		if err := s.add(spec); err != nil {
			return nil, err
		}
	}
	if err := s.scanDir(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadCustomTimeout)
	defer cancel()
	if err := s.loadCustom(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) add(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, ok := s.specs[spec.ID]; !ok {
		s.order = append(s.order, spec.ID)
	}
	s.specs[spec.ID] = spec
	delete(s.cache, spec.ID)
	return nil
}

func (s *Store) scanDir() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read backgrounds dir: %w", err)
	}

	known := make(map[string]bool)
	for _, spec := range s.specs {
		if spec.Recipe.Image != nil && spec.Recipe.Image.File != "" {
			known[spec.Recipe.Image.File] = true
		}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || known[e.Name()] {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".webp":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		id := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
		if !validID.MatchString(id) {
			s.logger.Warn("skip background with unusable name", "file", name)
			continue
		}
		if _, ok := s.specs[id]; ok {
			continue
		}
		if err = s.add(Spec{
			ID:       id,
			Name:     id,
			Category: CategoryCustom,
			Recipe:   Recipe{Image: &ImageSource{File: name}},
		}); err != nil {
			return err
		}
	}
	return nil
}

func customSpec(id, key, previewURL string) Spec {
	return Spec{
		ID:         id,
		Name:       id,
		PreviewURL: previewURL,
		Category:   CategoryCustom,
		Recipe:     Recipe{Image: &ImageSource{Key: key}},
	}
}

func (s *Store) loadCustom(ctx context.Context) error {
	lister, ok := s.artifacts.(artifact.Lister)
	if !ok {
		return nil
	}
	keys, err := lister.List(ctx, artifact.BackgroundPrefix)
	if err != nil {
		return fmt.Errorf("list custom backgrounds: %w", err)
	}

	for _, key := range keys {
		name := path.Base(key)
		id := strings.TrimSuffix(name, path.Ext(name))
		if path.Ext(name) != ".jpg" || !validID.MatchString(id) {
			s.logger.Warn("skip stored background with unusable name", "key", key)
			continue
		}
		if existing, ok := s.specs[id]; ok && existing.Category != CategoryCustom {
			continue
		}
		if err = s.add(customSpec(id, key, s.artifacts.URL(key))); err != nil {
			return err
		}
	}
	return nil
}

// Register adds or replaces a background definition.
func (s *Store) Register(spec Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(spec)
}

func (s *Store) Size() (int, int) {
	return s.width, s.height
}

func (s *Store) Get(id string) (Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.specs[id]
	if !ok {
		return Spec{}, errs.Newf(errs.KindNotFound, "background", "unknown background %q", id)
	}
	return spec, nil
}

func (s *Store) List() []Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Spec, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.specs[id])
	}
	return out
}

func (s *Store) ByCategory(c Category) []Spec {
	var out []Spec
	for _, spec := range s.List() {
		if spec.Category == c {
			out = append(out, spec)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.specs)
}

// Render returns the canvas for id. Canvases are cached and shared, callers
// must not modify them.
func (s *Store) Render(ctx context.Context, id string) (image.Image, error) {
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	img, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return img, nil
	}

	// Waiters share one render that is not tied to whichever caller started it.
	ch := s.group.DoChan(id, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
		defer cancel()
		img, err := s.render(rctx, spec)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if current, ok := s.specs[id]; ok && current.Recipe == spec.Recipe {
			s.cache[id] = img
		}
		s.mu.Unlock()
		return img, nil
	})

	select {
	case <-ctx.Done():
		return nil, errs.FromContext(ctx, "render background")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}

func (s *Store) render(ctx context.Context, spec Spec) (image.Image, error) {
	switch {
	case spec.Recipe.Solid != nil:
		return renderSolid(s.width, s.height, *spec.Recipe.Solid), nil
	case spec.Recipe.Gradient != nil:
		return renderGradient(s.width, s.height, *spec.Recipe.Gradient), nil
	default:
		data, err := s.load(ctx, spec.ID, *spec.Recipe.Image)
		if err != nil {
			return nil, err
		}
		img, _, err := util.DecodeImage(data, s.maxBytes)
		if err != nil {
			return nil, fmt.Errorf("background %s: %w", spec.ID, err)
		}
		return img, nil
	}
}

func (s *Store) load(ctx context.Context, id string, src ImageSource) ([]byte, error) {
	if src.File != "" && s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, src.File))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read background %s: %w", id, err)
		}
	}

	if src.Key != "" && s.artifacts != nil {
		data, _, err := s.artifacts.Get(ctx, src.Key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, artifact.ErrNotFound) {
			return nil, errs.Wrap(errs.KindUpstream, "background", "load "+id, err)
		}
	}

	if src.URL != "" {
		s.logger.Debug("download background", "id", id, "url", src.URL)
		return util.DownloadImage(ctx, s.client, src.URL, s.maxBytes)
	}

	return nil, errs.Newf(errs.KindNotFound, "background", "background %q has no reachable image", id)
}

// AddCustom registers an uploaded image as a custom background. The upload is
// re-encoded as JPEG and persisted in the artifact store. Built-in entries
// cannot be replaced.
func (s *Store) AddCustom(ctx context.Context, id string, data []byte) (Spec, error) {
	if s.artifacts == nil {
		return Spec{}, errs.New(errs.KindUnavailableProvider, "add background", "no artifact store configured")
	}
	id = strings.ToLower(strings.TrimSpace(id))
	if !validID.MatchString(id) {
		return Spec{}, errs.Newf(errs.KindInvalidImage, "add background", "invalid background name %q", id)
	}

	if existing, err := s.Get(id); err == nil && existing.Category != CategoryCustom {
		return Spec{}, errs.Newf(errs.KindInvalidImage, "add background", "background %q is built in", id)
	}

	img, _, err := util.DecodeImage(data, s.maxBytes)
	if err != nil {
		return Spec{}, err
	}
	encoded, err := util.EncodeJPEG(img, CustomQuality)
	if err != nil {
		return Spec{}, fmt.Errorf("encode background: %w", err)
	}

	key := artifact.JoinKey(artifact.BackgroundPrefix, id+".jpg")
	if err = s.artifacts.Put(ctx, key, encoded, "image/jpeg"); err != nil {
		return Spec{}, errs.Wrap(errs.KindUpstream, "add background", "store background", err)
	}

	spec := customSpec(id, key, s.artifacts.URL(key))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.add(spec); err != nil {
		return Spec{}, err
	}
	s.logger.Info("registered custom background", "id", id, "key", key)
	return spec, nil
}
