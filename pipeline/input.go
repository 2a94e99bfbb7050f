package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaos-io/carstudio/artifact"
	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/rembg"
	"github.com/chaos-io/carstudio/util"
	"github.com/chaos-io/carstudio/util/pool"
)

func (in Input) count() int {
	n := 0
	if len(in.Data) > 0 {
		n++
	}
	if in.URL != "" {
		n++
	}
	if in.Key != "" {
		n++
	}
	return n
}

// fetch returns the encoded bytes behind in and whether they already live in
// the artifact store.
func (o *Orchestrator) fetch(ctx context.Context, in Input, limit int64) ([]byte, bool, error) {
	switch n := in.count(); {
	case n == 0:
		return nil, false, errs.New(errs.KindInvalidImage, "input", "no image supplied")
	case n > 1:
		return nil, false, errs.New(errs.KindInvalidImage, "input", "supply exactly one of data, url or key")
	}

	switch {
	case in.URL != "":
		dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()
		data, err := util.DownloadImage(dctx, o.client, in.URL, limit)
		return data, false, err
	case in.Key != "":
		data, _, err := o.artifacts.Get(ctx, in.Key)
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, false, errs.Newf(errs.KindNotFound, "input", "no artifact %q", in.Key)
		}
		if err != nil {
			return nil, false, fmt.Errorf("read artifact %s: %w", in.Key, err)
		}
		return data, true, nil
	default:
		return in.Data, false, nil
	}
}

// load decodes the input inside the worker pool and stores a copy of the
// original unless it came from the artifact store.
func (o *Orchestrator) load(ctx context.Context, r *run, in Input, res *Result) (*rembg.Source, error) {
	data, stored, err := o.fetch(ctx, in, o.maxUpload)
	if err != nil {
		return nil, err
	}

	src, err := pool.Run(ctx, o.pool, func() (*rembg.Source, error) {
		return rembg.NewSource(data, o.maxUpload)
	})
	if err != nil {
		return nil, err
	}

	if stored {
		res.Original = &Artifact{Key: in.Key, URL: o.artifacts.URL(in.Key)}
		return src, nil
	}
	res.Original, err = o.put(ctx, "uploads", r.id+"."+src.Ext(), src.Data, src.ContentType())
	return src, err
}

func (o *Orchestrator) put(ctx context.Context, prefix, name string, data []byte, contentType string) (*Artifact, error) {
	key := artifact.JoinKey(prefix, name)
	if err := o.artifacts.Put(ctx, key, data, contentType); err != nil {
		if ctxErr := errs.FromContext(ctx, "store"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	return &Artifact{Key: key, URL: o.artifacts.URL(key)}, nil
}
