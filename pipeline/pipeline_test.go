package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/carstudio/artifact"
	"github.com/chaos-io/carstudio/backdrop"
	"github.com/chaos-io/carstudio/compose"
	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/rembg"
	"github.com/chaos-io/carstudio/util"
	"github.com/chaos-io/carstudio/util/pool"
)

var red = color.NRGBA{R: 255, A: 255}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// car is a 20x10 opaque block inside a 40x20 transparent frame.
func car() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	draw.Draw(img, image.Rect(10, 5, 30, 15), &image.Uniform{C: red}, image.Point{}, draw.Src)
	return img
}

func photo(t *testing.T) []byte {
	t.Helper()
	data, err := util.EncodeJPEG(solid(40, 20, color.NRGBA{G: 200, A: 255}), 90)
	require.NoError(t, err)
	return data
}

func statesOf(stages []Stage) []State {
	var states []State
	for _, s := range stages {
		states = append(states, s.State)
	}
	return states
}

type fakeRemover struct {
	name     string
	strategy rembg.Strategy
	err      error
	block    bool
	calls    atomic.Int32
}

func (f *fakeRemover) Name() string { return f.name }
func (f *fakeRemover) Strategy() rembg.Strategy { return f.strategy }
func (f *fakeRemover) Available() error { return nil }

func (f *fakeRemover) Remove(ctx context.Context, src *rembg.Source) (*image.NRGBA, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, errs.FromContext(ctx, "remove")
	}
	if f.err != nil {
		return nil, f.err
	}
	return car(), nil
}

// fakeRemote is both the template compositor and the template service.
type fakeRemote struct {
	err     error
	calls   atomic.Int32
	creates atomic.Int32
}

func (f *fakeRemote) Name() string { return rembg.AutoBGName }
func (f *fakeRemote) Available() error { return nil }

func (f *fakeRemote) Composite(ctx context.Context, src *rembg.Source, templateID string) (image.Image, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return solid(64, 36, color.NRGBA{B: 255, A: 255}), nil
}

func (f *fakeRemote) ListTemplates(ctx context.Context) ([]rembg.Template, error) {
	return []rembg.Template{{ID: "tpl_existing", Name: "studio_grey"}}, nil
}

func (f *fakeRemote) CreateTemplate(ctx context.Context, name string, background []byte) (rembg.Template, error) {
	f.creates.Add(1)
	if _, _, err := image.Decode(bytes.NewReader(background)); err != nil {
		return rembg.Template{}, err
	}
	return rembg.Template{ID: "tpl_" + name, Name: name}, nil
}

func newOrchestrator(t *testing.T, opts Options) (*Orchestrator, *artifact.LocalStore) {
	t.Helper()

	store, err := artifact.NewLocalStore(t.TempDir(), "http://cdn.test")
	require.NoError(t, err)
	backgrounds, err := backdrop.NewStore(64, 36)
	require.NoError(t, err)

	opts.Artifacts = store
	opts.Backgrounds = backgrounds
	if opts.Pool == nil {
		opts.Pool = pool.New(2)
	}
	o, err := New(opts)
	require.NoError(t, err)
	return o, store
}

func requireArtifact(t *testing.T, store *artifact.LocalStore, a *Artifact) image.Image {
	t.Helper()
	require.NotNil(t, a)
	assert.Equal(t, "http://cdn.test/image/files/"+a.Key, a.URL)
	data, _, err := store.Get(context.Background(), a.Key)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	assert.Error(t, err)

	backgrounds, err := backdrop.NewStore(64, 36)
	require.NoError(t, err)
	store, err := artifact.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = New(Options{Backgrounds: backgrounds, Artifacts: store, UseTemplates: true})
	assert.Error(t, err)

	o, err := New(Options{Backgrounds: backgrounds, Artifacts: store})
	require.NoError(t, err)
	assert.Equal(t, DefaultDeadline, o.deadline)
	assert.Equal(t, int64(util.DefaultMaxUpload), o.maxUpload)
}

func TestProcess_Local(t *testing.T) {
	t.Parallel()

	primary := &fakeRemover{name: "local", strategy: rembg.StrategyLocal}
	o, store := newOrchestrator(t, Options{Primary: primary})

	res, err := o.Process(context.Background(), Request{Input: Input{Data: photo(t)}})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "local", res.Provider)
	assert.False(t, res.Fallback)
	assert.Equal(t, DefaultBackground, res.Background)
	assert.Empty(t, res.Template)

	assert.Equal(t, "uploads/"+res.ID+".jpg", res.Original.Key)
	transparent := requireArtifact(t, store, res.Transparent)
	assert.True(t, util.HasTransparency(transparent))
	final := requireArtifact(t, store, res.Final)
	assert.Equal(t, image.Rect(0, 0, 64, 36), final.Bounds())
	assert.Equal(t, "processed/"+res.ID+"_final.jpg", res.Final.Key)

	assert.Equal(t, []State{StateRemoving, StateCompositing}, statesOf(res.Stages))
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestProcess_RemovalFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		primaryErr   error
		fallbackErr  error
		wantKind     errs.Kind
		wantProvider string
		wantCalls    int32
	}{
		{
			name:         "upstream falls back",
			primaryErr:   errs.New(errs.KindUpstream, "remove", "502"),
			wantProvider: "removebg",
			wantCalls:    1,
		},
		{
			name:         "timeout falls back",
			primaryErr:   errs.New(errs.KindTimeout, "remove", "slow"),
			wantProvider: "removebg",
			wantCalls:    1,
		},
		{
			name:         "quota is surfaced",
			primaryErr:   errs.New(errs.KindQuotaExceeded, "remove", "402"),
			wantKind:     errs.KindQuotaExceeded,
			wantProvider: "local",
		},
		{
			name:         "invalid image is surfaced",
			primaryErr:   errs.New(errs.KindInvalidImage, "remove", "400"),
			wantKind:     errs.KindInvalidImage,
			wantProvider: "local",
		},
		{
			name:         "fallback failure is fatal",
			primaryErr:   errs.New(errs.KindUpstream, "remove", "502"),
			fallbackErr:  errs.New(errs.KindUpstream, "remove", "503"),
			wantKind:     errs.KindUpstream,
			wantProvider: "removebg",
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := &fakeRemover{name: "local", strategy: rembg.StrategyLocal, err: tt.primaryErr}
			fallback := &fakeRemover{name: "removebg", strategy: rembg.StrategySyncRemote, err: tt.fallbackErr}
			o, _ := newOrchestrator(t, Options{Primary: primary, Fallback: fallback})

			res, err := o.Process(context.Background(), Request{Input: Input{Data: photo(t)}})
			assert.Equal(t, tt.wantCalls, fallback.calls.Load())
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errs.KindOf(err))
				assert.Equal(t, tt.wantProvider, errs.ProviderOf(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Fallback)
			assert.Equal(t, tt.wantProvider, res.Provider)
		})
	}
}

func TestProcess_NoRemover(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, Options{})
	_, err := o.Process(context.Background(), Request{Input: Input{Data: photo(t)}})
	assert.True(t, errs.Is(err, errs.KindUnavailableProvider))
}

func TestProcess_DeadlineReportsTimeout(t *testing.T) {
	t.Parallel()

	primary := &fakeRemover{name: "autobg", block: true}
	fallback := &fakeRemover{name: "local"}
	o, _ := newOrchestrator(t, Options{Primary: primary, Fallback: fallback, Deadline: 50 * time.Millisecond})

	start := time.Now()
	_, err := o.Process(context.Background(), Request{Input: Input{Data: photo(t)}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTimeout))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, fallback.calls.Load())
}

func TestProcess_CallerCancellation(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, Options{Primary: &fakeRemover{name: "local"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Process(ctx, Request{Input: Input{Data: photo(t)}})
	assert.True(t, errs.Is(err, errs.KindTimeout))
}

func TestProcess_Inputs(t *testing.T) {
	t.Parallel()

	o, store := newOrchestrator(t, Options{Primary: &fakeRemover{name: "local"}})
	ctx := context.Background()

	_, err := o.Process(ctx, Request{})
	assert.True(t, errs.Is(err, errs.KindInvalidImage))

	_, err = o.Process(ctx, Request{Input: Input{Data: photo(t), Key: "uploads/x.jpg"}})
	assert.True(t, errs.Is(err, errs.KindInvalidImage))

	_, err = o.Process(ctx, Request{Input: Input{Key: "uploads/missing.jpg"}})
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = o.Process(ctx, Request{Input: Input{Data: []byte("not an image")}})
	assert.True(t, errs.Is(err, errs.KindInvalidImage))

	_, err = o.Process(ctx, Request{Input: Input{Data: photo(t)}, Background: "nowhere"})
	assert.True(t, errs.Is(err, errs.KindNotFound))

	require.NoError(t, store.Put(ctx, "uploads/stored.jpg", photo(t), "image/jpeg"))
	res, err := o.Process(ctx, Request{Input: Input{Key: "uploads/stored.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, "uploads/stored.jpg", res.Original.Key)
}

func TestProcess_InputURL(t *testing.T) {
	t.Parallel()

	data := photo(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	o, store := newOrchestrator(t, Options{Primary: &fakeRemover{name: "local"}})
	res, err := o.Process(context.Background(), Request{
		Input:         Input{URL: server.URL + "/car.jpg"},
		BackgroundURL: server.URL + "/bg.jpg",
	})
	require.NoError(t, err)

	final := requireArtifact(t, store, res.Final)
	assert.Equal(t, image.Rect(0, 0, 40, 20), final.Bounds())
}

func TestProcess_ExplicitParams(t *testing.T) {
	t.Parallel()

	o, store := newOrchestrator(t, Options{Primary: &fakeRemover{name: "local"}})
	p := compose.DefaultParams()
	p.Scale = 0.5
	p.Position = compose.PositionLeft

	res, err := o.Process(context.Background(), Request{
		Input:      Input{Data: photo(t)},
		Background: "studio_black",
		Params:     &p,
	})
	require.NoError(t, err)
	assert.Equal(t, "studio_black", res.Background)

	final := requireArtifact(t, store, res.Final)
	// 32x16 subject bottom anchored 3px from the left edge
	r, _, _, _ := final.At(10, 30).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	r, _, _, _ = final.At(50, 30).RGBA()
	assert.Less(t, r>>8, uint32(100))
}

func TestProcess_Templates(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	primary := &fakeRemover{name: "local"}
	o, store := newOrchestrator(t, Options{
		Primary:      primary,
		Remote:       remote,
		Templates:    rembg.NewTemplateManager(remote, nil, nil),
		UseTemplates: true,
	})
	ctx := context.Background()

	res, err := o.Process(ctx, Request{Input: Input{Data: photo(t)}})
	require.NoError(t, err)
	assert.Equal(t, rembg.AutoBGName, res.Provider)
	assert.Equal(t, "tpl_studio_white", res.Template)
	assert.Nil(t, res.Transparent)
	assert.Equal(t, []State{StateRemoving, StateTemplateResolving, StateCompositing}, statesOf(res.Stages))
	requireArtifact(t, store, res.Final)
	assert.Zero(t, primary.calls.Load())

	res, err = o.Process(ctx, Request{Input: Input{Data: photo(t)}, Background: "studio_grey"})
	require.NoError(t, err)
	assert.Equal(t, "tpl_existing", res.Template)

	_, err = o.Process(ctx, Request{Input: Input{Data: photo(t)}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), remote.creates.Load())
	assert.Equal(t, int32(3), remote.calls.Load())
	assert.Equal(t, 2, o.Health().Bound)
}

func TestProcess_TemplateFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		remoteErr error
		fallback  bool
		wantKind  errs.Kind
	}{
		{name: "upstream falls back", remoteErr: errs.New(errs.KindUpstream, "batch", "failed"), fallback: true},
		{name: "timeout falls back", remoteErr: errs.New(errs.KindTimeout, "wait", "slow"), fallback: true},
		{name: "disabled", remoteErr: errs.New(errs.KindUpstream, "batch", "failed"), wantKind: errs.KindUpstream},
		{name: "quota is surfaced", remoteErr: errs.New(errs.KindQuotaExceeded, "submit", "402"), fallback: true, wantKind: errs.KindQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			remote := &fakeRemote{err: tt.remoteErr}
			primary := &fakeRemover{name: "local"}
			o, _ := newOrchestrator(t, Options{
				Primary:          primary,
				Remote:           remote,
				Templates:        rembg.NewTemplateManager(remote, nil, nil),
				UseTemplates:     true,
				TemplateFallback: tt.fallback,
			})

			res, err := o.Process(context.Background(), Request{Input: Input{Data: photo(t)}})
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errs.KindOf(err))
				assert.Zero(t, primary.calls.Load())
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Fallback)
			assert.Equal(t, "local", res.Provider)
			assert.Empty(t, res.Template)
			assert.NotNil(t, res.Transparent)
			assert.Equal(t, int32(1), primary.calls.Load())
		})
	}
}

func TestRemoveBackground(t *testing.T) {
	t.Parallel()

	o, store := newOrchestrator(t, Options{Primary: &fakeRemover{name: "local"}})
	res, err := o.RemoveBackground(context.Background(), Input{Data: photo(t)})
	require.NoError(t, err)

	assert.Nil(t, res.Final)
	img := requireArtifact(t, store, res.Transparent)
	assert.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds())
	assert.Equal(t, "processed/"+res.ID+"_transparent.png", res.Transparent.Key)
}

func TestApplyBackground(t *testing.T) {
	t.Parallel()

	cutout, err := util.EncodePNG(car())
	require.NoError(t, err)

	tests := []struct {
		name      string
		data      []byte
		wantCalls int32
	}{
		{name: "transparent input is composited directly", data: cutout},
		{name: "opaque input is cut out first", data: photo(t), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := &fakeRemover{name: "local"}
			o, store := newOrchestrator(t, Options{Primary: primary})

			res, err := o.ApplyBackground(context.Background(), Request{
				Input:      Input{Data: tt.data},
				Background: "studio_grey",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, primary.calls.Load())
			assert.NotNil(t, res.Transparent)
			final := requireArtifact(t, store, res.Final)
			assert.Equal(t, image.Rect(0, 0, 64, 36), final.Bounds())
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, Options{
		Primary:  &fakeRemover{name: "removebg", strategy: rembg.StrategySyncRemote},
		Fallback: &fakeRemover{name: "local", strategy: rembg.StrategyLocal},
		Pool:     pool.New(3),
	})

	h := o.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "removebg", h.Primary)
	assert.Equal(t, "local", h.Fallback)
	assert.Len(t, h.Providers, 2)
	assert.Equal(t, 3, h.Workers)
	assert.Equal(t, len(backdrop.Catalog()), h.Backgrounds)

	bare, _ := newOrchestrator(t, Options{})
	h = bare.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "none", h.Primary)
}

func TestTemplates(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, Options{})
	_, err := o.Templates(context.Background())
	assert.True(t, errs.Is(err, errs.KindUnavailableProvider))

	remote := &fakeRemote{}
	o, _ = newOrchestrator(t, Options{Remote: remote})
	templates, err := o.Templates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []rembg.Template{{ID: "tpl_existing", Name: "studio_grey"}}, templates)
}
