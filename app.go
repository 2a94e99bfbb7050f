package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chaos-io/carstudio/artifact"
	"github.com/chaos-io/carstudio/backdrop"
	"github.com/chaos-io/carstudio/config"
	"github.com/chaos-io/carstudio/pipeline"
	"github.com/chaos-io/carstudio/rembg"
	nhttp "github.com/chaos-io/carstudio/util/http"
	"github.com/chaos-io/carstudio/util/pool"
)

const redisPingTimeout = 3 * time.Second

// app holds the long-lived components built from one configuration.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	artifacts   artifact.Store
	sweeper     *artifact.Sweeper
	backgrounds *backdrop.Store
	pipeline    *pipeline.Orchestrator
	redis       *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	workers := pool.New(cfg.Workers)
	client := nhttp.NewHTTPClient()

	var err error
	a.artifacts, a.sweeper, err = newArtifacts(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	a.backgrounds, err = backdrop.NewStore(cfg.Canvas.Width, cfg.Canvas.Height,
		backdrop.WithDir(cfg.Backgrounds.Dir),
		backdrop.WithArtifacts(a.artifacts),
		backdrop.WithHTTPClient(client),
		backdrop.WithMaxBytes(cfg.Limits.MaxBackground),
		backdrop.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("load backgrounds: %w", err)
	}

	local := rembg.NewLocal(rembg.LocalOptions{
		Command: cfg.Local.Command,
		Args:    cfg.Local.Args,
		Timeout: cfg.Local.Timeout,
	}, workers, logger)
	removeBG := rembg.NewRemoveBG(rembg.RemoveBGOptions{
		APIKey:   cfg.RemoveBG.APIKey,
		Endpoint: cfg.RemoveBG.Endpoint,
		Timeout:  cfg.RemoveBG.Timeout,
	}, client, logger)
	autoBG := rembg.NewAutoBG(rembg.AutoBGOptions{
		APIKey:       cfg.AutoBG.APIKey,
		Endpoint:     cfg.AutoBG.Endpoint,
		PollInterval: cfg.AutoBG.PollInterval,
		Deadline:     cfg.AutoBG.Deadline,
	}, client, logger)

	av := config.Availability{
		Local:    local.Available() == nil,
		RemoveBG: removeBG.Available() == nil,
		AutoBG:   autoBG.Available() == nil,
	}
	primary, fallback, err := cfg.Remover.Resolve(av)
	if err != nil {
		return nil, err
	}
	removers := map[rembg.Strategy]rembg.Remover{
		rembg.StrategyLocal:       local,
		rembg.StrategySyncRemote:  removeBG,
		rembg.StrategyAsyncRemote: autoBG,
	}
	logger.Info("background removers resolved", "primary", primary, "fallback", fallback,
		"local", av.Local, "removebg", av.RemoveBG, "autobg", av.AutoBG)

	opts := pipeline.Options{
		Primary:          removers[primary],
		Fallback:         removers[fallback],
		Backgrounds:      a.backgrounds,
		Artifacts:        a.artifacts,
		Pool:             workers,
		Client:           client,
		MaxUpload:        cfg.Limits.MaxUpload,
		Deadline:         cfg.Pipeline.Deadline,
		TemplateFallback: cfg.Pipeline.TemplateFallback,
		Logger:           logger,
	}
	if av.AutoBG {
		opts.Remote = autoBG
	}
	if av.AutoBG && cfg.AutoBG.UseTemplates {
		var bindings rembg.Bindings
		if cfg.Templates.RedisAddr != "" {
			bindings = a.connectRedis(ctx, cfg.Templates)
		}
		opts.Templates = rembg.NewTemplateManager(autoBG, bindings, logger)
		opts.UseTemplates = true
	}

	a.pipeline, err = pipeline.New(opts)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// connectRedis returns shared template bindings, or nil when Redis cannot be
// reached so templates are only cached in memory.
func (a *app) connectRedis(ctx context.Context, cfg config.Templates) rembg.Bindings {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("template bindings unavailable, caching in memory only", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	a.redis = client
	return rembg.NewRedisBindings(client, cfg.Prefix)
}

func newArtifacts(ctx context.Context, cfg config.Storage, logger *slog.Logger) (artifact.Store, *artifact.Sweeper, error) {
	var (
		store  artifact.Store
		pruner artifact.Pruner
	)

	switch cfg.Backend {
	case "minio":
		s, err := artifact.NewMinioStore(ctx, artifact.MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Secure:    cfg.Minio.Secure,
			PublicURL: cfg.PublicURL,
		})
		if err != nil {
			return nil, nil, err
		}
		store, pruner = s, s
	default:
		s, err := artifact.NewLocalStore(cfg.Path, cfg.PublicURL)
		if err != nil {
			return nil, nil, err
		}
		store, pruner = s, s
	}

	return store, artifact.NewSweeper(pruner, cfg.Retention, cfg.SweepSchedule, logger), nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
