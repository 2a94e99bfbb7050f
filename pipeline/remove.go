package pipeline

import (
	"context"
	"image"

	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/rembg"
	"github.com/chaos-io/carstudio/util"
	"github.com/chaos-io/carstudio/util/pool"
)

// canFallBack reports whether err allows a second attempt on another path.
// A cancelled or expired request never does.
func canFallBack(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch errs.KindOf(err) {
	case errs.KindUpstream, errs.KindTimeout:
		return true
	default:
		return false
	}
}

// remove runs the primary remover and, on a retriable failure, the fallback
// exactly once.
func (o *Orchestrator) remove(ctx context.Context, r *run, src *rembg.Source, res *Result) (*image.NRGBA, error) {
	if o.primary == nil {
		return nil, errs.New(errs.KindUnavailableProvider, "remove", "no background remover configured")
	}

	subject, err := o.primary.Remove(ctx, src)
	if err == nil {
		res.Provider = o.primary.Name()
		return subject, nil
	}
	err = errs.WithProvider(o.primary.Name(), err)

	if o.fallback == nil || !canFallBack(ctx, err) {
		return nil, err
	}
	r.logger.Warn("background removal failed, trying fallback",
		"provider", o.primary.Name(), "fallback", o.fallback.Name(), "error", err)

	subject, err = o.fallback.Remove(ctx, src)
	if err != nil {
		return nil, errs.WithProvider(o.fallback.Name(), err)
	}
	res.Provider = o.fallback.Name()
	res.Fallback = true
	return subject, nil
}

func (o *Orchestrator) removeAndStore(ctx context.Context, r *run, src *rembg.Source, res *Result) (*image.NRGBA, error) {
	r.enter(StateRemoving)
	subject, err := o.remove(ctx, r, src, res)
	if err != nil {
		return nil, err
	}

	data, err := pool.Run(ctx, o.pool, func() ([]byte, error) {
		return util.EncodePNG(subject)
	})
	if err != nil {
		return nil, err
	}
	res.Transparent, err = o.put(ctx, "processed", r.id+"_transparent.png", data, "image/png")
	if err != nil {
		return nil, err
	}
	return subject, nil
}

// RemoveBackground removes the background of the input and stores only the
// transparent PNG.
func (o *Orchestrator) RemoveBackground(ctx context.Context, in Input) (*Result, error) {
	defer util.Trace("remove background")()

	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	r := newRun(o.logger)
	res := o.newResult(r)

	src, err := o.load(ctx, r, in, res)
	if err != nil {
		return nil, o.failure(ctx, r, err)
	}
	if _, err = o.removeAndStore(ctx, r, src, res); err != nil {
		return nil, o.failure(ctx, r, err)
	}
	return o.finish(r, res), nil
}

// ApplyBackground composites an already cut out image onto a background. An
// input without transparent pixels has its background removed first.
func (o *Orchestrator) ApplyBackground(ctx context.Context, req Request) (*Result, error) {
	defer util.Trace("apply background")()

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

	var subject *image.NRGBA
	if util.HasTransparency(src.Image) {
		subject = util.ToNRGBA(src.Image)
		res.Transparent = res.Original
	} else {
		subject, err = o.removeAndStore(ctx, r, src, res)
		if err != nil {
			return nil, o.failure(ctx, r, err)
		}
	}

	if err = o.compositeAndStore(ctx, r, subject, spec, req, res); err != nil {
		return nil, o.failure(ctx, r, err)
	}
	return o.finish(r, res), nil
}
