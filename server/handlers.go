package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/carstudio/artifact"
	"github.com/chaos-io/carstudio/compose"
	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/pipeline"
	"github.com/chaos-io/carstudio/util"
)

func (s *Server) handleHealth(c *gin.Context) {
	respondSuccess(c, s.pipeline.Health())
}

// curl -X POST http://localhost:8000/image/remove-bg \
// -H "Content-Type: application/json" \
// -d '{"image_url": "https://example.com/car.jpg"}'
func (s *Server) handleRemove(c *gin.Context) {
	var form imageForm
	if err := bindForm(c, &form); err != nil {
		respondError(c, err)
		return
	}
	s.remove(c, form.input())
}

// curl -X POST http://localhost:8000/image/remove-bg/upload -F "file=@car.jpg"
func (s *Server) handleRemoveUpload(c *gin.Context) {
	data, err := readUpload(c, uploadField, s.maxUpload)
	if err != nil {
		respondError(c, err)
		return
	}
	s.remove(c, pipeline.Input{Data: data})
}

func (s *Server) remove(c *gin.Context, in pipeline.Input) {
	res, err := s.pipeline.RemoveBackground(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, res)
}

// curl -X POST http://localhost:8000/image/process \
// -H "Content-Type: application/json" \
// -d '{"image_url": "https://example.com/car.jpg", "background": "studio_grey", "shadow": true}'
func (s *Server) handleProcess(c *gin.Context) {
	var form compositeForm
	if err := bindForm(c, &form); err != nil {
		respondError(c, err)
		return
	}
	s.process(c, s.request(form, form.input()))
}

// curl -X POST http://localhost:8000/image/process/upload \
// -F "file=@car.jpg" -F "background=showroom_indoor" -F "reflection=true"
func (s *Server) handleProcessUpload(c *gin.Context) {
	var form compositeForm
	if err := bindForm(c, &form); err != nil {
		respondError(c, err)
		return
	}
	data, err := readUpload(c, uploadField, s.maxUpload)
	if err != nil {
		respondError(c, err)
		return
	}
	s.process(c, s.request(form, pipeline.Input{Data: data}))
}

func (s *Server) process(c *gin.Context, req pipeline.Request) {
	res, err := s.pipeline.Process(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, res)
}

// curl -X POST http://localhost:8000/image/apply-background \
// -H "Content-Type: application/json" \
// -d '{"key": "processed/2aZ..._transparent.png", "background": "garage_modern"}'
func (s *Server) handleApply(c *gin.Context) {
	var form compositeForm
	if err := bindForm(c, &form); err != nil {
		respondError(c, err)
		return
	}
	s.apply(c, s.request(form, form.input()))
}

func (s *Server) handleApplyUpload(c *gin.Context) {
	var form compositeForm
	if err := bindForm(c, &form); err != nil {
		respondError(c, err)
		return
	}
	data, err := readUpload(c, uploadField, s.maxUpload)
	if err != nil {
		respondError(c, err)
		return
	}
	s.apply(c, s.request(form, pipeline.Input{Data: data}))
}

func (s *Server) apply(c *gin.Context, req pipeline.Request) {
	res, err := s.pipeline.ApplyBackground(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, res)
}

// curl -X POST http://localhost:8000/image/info -F "file=@car.jpg"
func (s *Server) handleInfo(c *gin.Context) {
	data, err := readUpload(c, uploadField, s.maxUpload)
	if err != nil {
		respondError(c, err)
		return
	}
	info, err := util.Inspect(data)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, info)
}

type resizeForm struct {
	Width      int  `form:"width" binding:"required,min=1"`
	Height     int  `form:"height" binding:"required,min=1"`
	KeepAspect bool `form:"keep_aspect"`
}

// curl -X POST http://localhost:8000/image/resize \
// -F "file=@car.jpg" -F "width=800" -F "height=600" -F "keep_aspect=true" -o small.png
func (s *Server) handleResize(c *gin.Context) {
	var form resizeForm
	if err := bindForm(c, &form); err != nil {
		respondError(c, err)
		return
	}
	data, err := readUpload(c, uploadField, s.maxUpload)
	if err != nil {
		respondError(c, err)
		return
	}

	img, _, err := util.DecodeImage(data, s.maxUpload)
	if err != nil {
		respondError(c, err)
		return
	}
	resized, err := compose.Resize(img, form.Width, form.Height, form.KeepAspect)
	if err != nil {
		respondError(c, err)
		return
	}
	out, err := util.EncodePNG(resized)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", out)
}

func (s *Server) handleTemplates(c *gin.Context) {
	templates, err := s.pipeline.Templates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, templates)
}

// handleFile serves artifacts back under the URL scheme the stores publish.
func (s *Server) handleFile(c *gin.Context) {
	key, err := artifact.CleanKey(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidImage, "file", "invalid key", err))
		return
	}

	data, contentType, err := s.artifacts.Get(c.Request.Context(), key)
	if errors.Is(err, artifact.ErrNotFound) {
		respondError(c, errs.Newf(errs.KindNotFound, "file", "no artifact %q", key))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, contentType, data)
}
