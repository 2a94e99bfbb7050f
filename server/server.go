// Package server exposes the compositing pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/chaos-io/carstudio/artifact"
	"github.com/chaos-io/carstudio/backdrop"
	"github.com/chaos-io/carstudio/pipeline"
	"github.com/chaos-io/carstudio/util"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Pipeline      *pipeline.Orchestrator
	Backgrounds   *backdrop.Store
	Artifacts     artifact.Store
	MaxUpload     int64
	MaxBackground int64
	Debug         bool
	Logger        *slog.Logger
}

type Server struct {
	engine        *gin.Engine
	pipeline      *pipeline.Orchestrator
	backgrounds   *backdrop.Store
	artifacts     artifact.Store
	maxUpload     int64
	maxBackground int64
	logger        *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil || opts.Backgrounds == nil || opts.Artifacts == nil {
		return nil, fmt.Errorf("server needs a pipeline, a background store and an artifact store")
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = util.DefaultMaxUpload
	}
	if opts.MaxBackground <= 0 {
		opts.MaxBackground = util.DefaultMaxBackground
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		pipeline:      opts.Pipeline,
		backgrounds:   opts.Backgrounds,
		artifacts:     opts.Artifacts,
		maxUpload:     opts.MaxUpload,
		maxBackground: opts.MaxBackground,
		logger:        opts.Logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	engine.MaxMultipartMemory = opts.MaxBackground

	s.register(engine.Group("/image"))
	s.engine = engine
	return s, nil
}

func (s *Server) register(r *gin.RouterGroup) {
	r.GET("/health", s.handleHealth)

	r.GET("/backgrounds", s.handleListBackgrounds)
	r.GET("/backgrounds/:category", s.handleBackgroundsByCategory)
	r.POST("/backgrounds", s.handleAddBackground)

	r.POST("/remove-bg", s.handleRemove)
	r.POST("/remove-bg/upload", s.handleRemoveUpload)
	r.POST("/apply-background", s.handleApply)
	r.POST("/apply-background/upload", s.handleApplyUpload)
	r.POST("/process", s.handleProcess)
	r.POST("/process/upload", s.handleProcessUpload)

	r.POST("/info", s.handleInfo)
	r.POST("/resize", s.handleResize)
	r.GET("/templates", s.handleTemplates)
	r.GET("/files/*key", s.handleFile)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
