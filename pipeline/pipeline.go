// Package pipeline sequences background removal, template resolution and
// compositing for one photograph and stores the resulting artifacts.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/chaos-io/carstudio/artifact"
	"github.com/chaos-io/carstudio/backdrop"
	"github.com/chaos-io/carstudio/compose"
	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/rembg"
	"github.com/chaos-io/carstudio/util"
	nhttp "github.com/chaos-io/carstudio/util/http"
	"github.com/chaos-io/carstudio/util/pool"
)

const (
	DefaultDeadline   = 150 * time.Second
	DefaultBackground = "studio_white"

	downloadTimeout = 30 * time.Second
	templateQuality = 95
)

// TemplateCompositor renders a photograph onto a remote template.
type TemplateCompositor interface {
	Name() string
	Composite(ctx context.Context, src *rembg.Source, templateID string) (image.Image, error)
	Available() error
	ListTemplates(ctx context.Context) ([]rembg.Template, error)
}

type Options struct {
	Primary  rembg.Remover
	Fallback rembg.Remover

	// Remote and Templates enable end to end processing on remote templates.
	Remote           TemplateCompositor
	Templates        *rembg.TemplateManager
	UseTemplates     bool
	TemplateFallback bool

	Backgrounds *backdrop.Store
	Artifacts   artifact.Store
	Pool        *pool.Pool
	Client      nhttp.IClient

	MaxUpload int64
	Deadline  time.Duration
	Logger    *slog.Logger
}

// Orchestrator is built once at startup and shared by every request.
type Orchestrator struct {
	primary  rembg.Remover
	fallback rembg.Remover

	remote           TemplateCompositor
	templates        *rembg.TemplateManager
	useTemplates     bool
	templateFallback bool

	backgrounds *backdrop.Store
	artifacts   artifact.Store
	pool        *pool.Pool
	client      nhttp.IClient

	maxUpload int64
	deadline  time.Duration
	logger    *slog.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Backgrounds == nil {
		return nil, fmt.Errorf("background store is required")
	}
	if opts.Artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if opts.UseTemplates && (opts.Remote == nil || opts.Templates == nil) {
		return nil, fmt.Errorf("template processing needs a remote compositor and a template manager")
	}
	if opts.Pool == nil {
		opts.Pool = pool.New(0)
	}
	if opts.Client == nil {
		opts.Client = nhttp.NewHTTPClient()
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = util.DefaultMaxUpload
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Orchestrator{
		primary:          opts.Primary,
		fallback:         opts.Fallback,
		remote:           opts.Remote,
		templates:        opts.Templates,
		useTemplates:     opts.UseTemplates,
		templateFallback: opts.TemplateFallback,
		backgrounds:      opts.Backgrounds,
		artifacts:        opts.Artifacts,
		pool:             opts.Pool,
		client:           opts.Client,
		maxUpload:        opts.MaxUpload,
		deadline:         opts.Deadline,
		logger:           opts.Logger,
	}, nil
}

// Input is exactly one of raw bytes, an http(s) URL or an artifact key.
type Input struct {
	Data []byte
	URL  string
	Key  string
}

type Request struct {
	Input Input
	// Background is a catalog id; empty selects DefaultBackground.
	Background string
	// BackgroundURL replaces the catalog background with a downloaded image
	// and forces local compositing.
	BackgroundURL string
	// Params nil applies the defaults suggested by the background.
	Params *compose.Params
}

type Artifact struct {
	Key string `json:"key,omitempty"`
	URL string `json:"url"`
}

type Result struct {
	ID          string        `json:"id"`
	State       State         `json:"status"`
	Provider    string        `json:"provider"`
	Fallback    bool          `json:"fallback"`
	Background  string        `json:"background,omitempty"`
	Template    string        `json:"template,omitempty"`
	Original    *Artifact     `json:"original,omitempty"`
	Transparent *Artifact     `json:"transparent,omitempty"`
	Final       *Artifact     `json:"final,omitempty"`
	Stages      []Stage       `json:"stages"`
	Elapsed     time.Duration `json:"elapsed"`
}

func (o *Orchestrator) newResult(r *run) *Result {
	return &Result{ID: r.id}
}

func (o *Orchestrator) finish(r *run, res *Result) *Result {
	r.complete()
	res.State = r.state
	res.Stages = r.stages
	res.Elapsed = r.elapsed()
	return res
}

// failure makes sure an expired or cancelled request reports a timeout.
func (o *Orchestrator) failure(ctx context.Context, r *run, err error) error {
	if ctxErr := errs.FromContext(ctx, "process"); ctxErr != nil && !errs.Is(err, errs.KindTimeout) {
		err = ctxErr
	}
	r.fail(err)
	return err
}

// Process runs the full pipeline: remove the background, then composite the
// subject onto the requested background, locally or on a remote template.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	defer util.Trace("process")()

	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	r := newRun(o.logger)
	res := o.newResult(r)

	spec, err := o.background(req)
	if err != nil {
		return nil, o.failure(ctx, r, err)
	}
	res.Background = spec.ID

	src, err := o.load(ctx, r, req.Input, res)
	if err != nil {
		return nil, o.failure(ctx, r, err)
	}

	if o.useTemplates && req.BackgroundURL == "" && o.remote.Available() == nil {
		done, err := o.processRemote(ctx, r, src, spec, res)
		if err != nil {
			return nil, o.failure(ctx, r, err)
		}
		if done {
			return o.finish(r, res), nil
		}
	}

	subject, err := o.removeAndStore(ctx, r, src, res)
	if err != nil {
		return nil, o.failure(ctx, r, err)
	}
	if err = o.compositeAndStore(ctx, r, subject, spec, req, res); err != nil {
		return nil, o.failure(ctx, r, err)
	}
	return o.finish(r, res), nil
}

// processRemote renders src on the remote template bound to spec. It reports
// false without error when the local path should take over. The remote job
// removes and composites in one call, so the run passes through every state.
func (o *Orchestrator) processRemote(ctx context.Context, r *run, src *rembg.Source, spec backdrop.Spec, res *Result) (bool, error) {
	r.enter(StateRemoving)
	r.enter(StateTemplateResolving)
	templateID, err := o.templates.Resolve(ctx, spec.ID, o.templateBackground(spec.ID))
	if err == nil {
		res.Template = templateID
		r.enter(StateCompositing)
		var img image.Image
		img, err = o.remote.Composite(ctx, src, templateID)
		if err == nil {
			err = o.storeFinal(ctx, r, img, res)
		}
	}
	if err == nil {
		res.Provider = rembg.AutoBGName
		return true, nil
	}

	if !o.templateFallback || !canFallBack(ctx, err) {
		return false, err
	}
	r.logger.Warn("template composite failed, compositing locally", "template", templateID, "error", err)
	res.Fallback = true
	res.Template = ""
	return false, nil
}

func (o *Orchestrator) templateBackground(id string) rembg.BackgroundFunc {
	return func(ctx context.Context) ([]byte, error) {
		img, err := o.backgrounds.Render(ctx, id)
		if err != nil {
			return nil, err
		}
		return pool.Run(ctx, o.pool, func() ([]byte, error) {
			return util.EncodeJPEG(img, templateQuality)
		})
	}
}

func (o *Orchestrator) background(req Request) (backdrop.Spec, error) {
	id := req.Background
	if id == "" {
		id = DefaultBackground
	}
	return o.backgrounds.Get(id)
}

// ParamsFor returns the default compositing parameters adjusted to what spec
// suggests.
func ParamsFor(spec backdrop.Spec) compose.Params {
	p := compose.DefaultParams()
	p.Shadow.Enabled = spec.Defaults.Shadow
	if spec.Defaults.ShadowOpacity > 0 {
		p.Shadow.Opacity = spec.Defaults.ShadowOpacity
	}
	return p
}

func (o *Orchestrator) compositeAndStore(ctx context.Context, r *run, subject *image.NRGBA, spec backdrop.Spec, req Request, res *Result) error {
	r.enter(StateCompositing)

	bg, err := o.canvas(ctx, spec, req.BackgroundURL)
	if err != nil {
		return err
	}
	p := ParamsFor(spec)
	if req.Params != nil {
		p = *req.Params
	}

	canvas, err := pool.Run(ctx, o.pool, func() (*image.RGBA, error) {
		return compose.Composite(subject, bg, p)
	})
	if err != nil {
		return err
	}
	return o.storeFinal(ctx, r, canvas, res)
}

func (o *Orchestrator) canvas(ctx context.Context, spec backdrop.Spec, url string) (image.Image, error) {
	if url == "" {
		return o.backgrounds.Render(ctx, spec.ID)
	}

	dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	data, err := util.DownloadImage(dctx, o.client, url, util.DefaultMaxBackground)
	if err != nil {
		return nil, err
	}
	return pool.Run(ctx, o.pool, func() (image.Image, error) {
		img, _, err := util.DecodeImage(data, util.DefaultMaxBackground)
		return img, err
	})
}

func (o *Orchestrator) storeFinal(ctx context.Context, r *run, img image.Image, res *Result) error {
	data, err := pool.Run(ctx, o.pool, func() ([]byte, error) {
		return util.EncodeJPEG(img, util.JPEGQuality)
	})
	if err != nil {
		return err
	}
	res.Final, err = o.put(ctx, "processed", r.id+"_final.jpg", data, "image/jpeg")
	return err
}
