package server

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/carstudio/backdrop"
	"github.com/chaos-io/carstudio/compose"
	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/pipeline"
)

const uploadField = "file"

// imageForm references an image that is not uploaded in the request body.
type imageForm struct {
	ImageURL string `json:"image_url" form:"image_url"`
	Key      string `json:"key" form:"key"`
}

func (f imageForm) input() pipeline.Input {
	return pipeline.Input{URL: f.ImageURL, Key: f.Key}
}

// compositeForm carries the background choice and optional overrides of its
// suggested compositing parameters.
type compositeForm struct {
	imageForm

	Background     string   `json:"background" form:"background"`
	BackgroundURL  string   `json:"background_url" form:"background_url"`
	Scale          *float64 `json:"scale" form:"scale"`
	Position       string   `json:"position" form:"position"`
	VerticalOffset *float64 `json:"vertical_offset" form:"vertical_offset"`

	Shadow        *bool    `json:"shadow" form:"shadow"`
	ShadowOpacity *float64 `json:"shadow_opacity" form:"shadow_opacity"`
	ShadowBlur    *float64 `json:"shadow_blur" form:"shadow_blur"`
	ShadowOffset  *int     `json:"shadow_offset" form:"shadow_offset"`

	Reflection        *bool    `json:"reflection" form:"reflection"`
	ReflectionOpacity *float64 `json:"reflection_opacity" form:"reflection_opacity"`
	ReflectionHeight  *float64 `json:"reflection_height" form:"reflection_height"`
}

func (f compositeForm) overridden() bool {
	return f.Scale != nil || f.Position != "" || f.VerticalOffset != nil ||
		f.Shadow != nil || f.ShadowOpacity != nil || f.ShadowBlur != nil || f.ShadowOffset != nil ||
		f.Reflection != nil || f.ReflectionOpacity != nil || f.ReflectionHeight != nil
}

// params returns nil when nothing was overridden so the pipeline applies the
// background's own suggestions.
func (f compositeForm) params(backgrounds *backdrop.Store) *compose.Params {
	if !f.overridden() {
		return nil
	}

	p := compose.DefaultParams()
	id := f.Background
	if id == "" {
		id = pipeline.DefaultBackground
	}
	if spec, err := backgrounds.Get(id); err == nil {
		p = pipeline.ParamsFor(spec)
	}

	if f.Scale != nil {
		p.Scale = *f.Scale
	}
	if f.Position != "" {
		p.Position = compose.ParsePosition(f.Position)
	}
	if f.VerticalOffset != nil {
		p.VerticalOffset = *f.VerticalOffset
	}
	if f.Shadow != nil {
		p.Shadow.Enabled = *f.Shadow
	}
	if f.ShadowOpacity != nil {
		p.Shadow.Opacity = *f.ShadowOpacity
	}
	if f.ShadowBlur != nil {
		p.Shadow.Blur = *f.ShadowBlur
	}
	if f.ShadowOffset != nil {
		p.Shadow.Offset = *f.ShadowOffset
	}
	if f.Reflection != nil {
		p.Reflection.Enabled = *f.Reflection
	}
	if f.ReflectionOpacity != nil {
		p.Reflection.Opacity = *f.ReflectionOpacity
	}
	if f.ReflectionHeight != nil {
		p.Reflection.HeightRatio = *f.ReflectionHeight
	}
	return &p
}

func (s *Server) request(f compositeForm, in pipeline.Input) pipeline.Request {
	return pipeline.Request{
		Input:         in,
		Background:    f.Background,
		BackgroundURL: f.BackgroundURL,
		Params:        f.params(s.backgrounds),
	}
}

func bindForm(c *gin.Context, obj any) error {
	if err := c.ShouldBind(obj); err != nil {
		return errs.Wrap(errs.KindInvalidImage, "bind", "malformed request", err)
	}
	return nil
}

// readUpload reads the multipart file in field, refusing more than limit bytes.
func readUpload(c *gin.Context, field string, limit int64) ([]byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidImage, "upload", fmt.Sprintf("missing %q file", field), err)
	}
	if header.Size > limit {
		return nil, errs.Wrap(errs.KindInvalidImage, "upload", fmt.Sprintf("upload exceeds %d bytes", limit), errTooLarge)
	}
	return readLimited(header, limit)
}

func readLimited(header *multipart.FileHeader, limit int64) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errs.Wrap(errs.KindInvalidImage, "upload", fmt.Sprintf("upload exceeds %d bytes", limit), errTooLarge)
	}
	return data, nil
}
