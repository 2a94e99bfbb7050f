package server

import (
	"github.com/gin-gonic/gin"

	"github.com/chaos-io/carstudio/backdrop"
	"github.com/chaos-io/carstudio/errs"
)

type backgroundView struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	PreviewURL    string  `json:"preview_url,omitempty"`
	Category      string  `json:"category"`
	Kind          string  `json:"kind"`
	Shadow        bool    `json:"shadow"`
	ShadowOpacity float64 `json:"shadow_opacity,omitempty"`
}

func viewOf(spec backdrop.Spec) backgroundView {
	return backgroundView{
		ID:            spec.ID,
		Name:          spec.Name,
		Description:   spec.Description,
		PreviewURL:    spec.PreviewURL,
		Category:      string(spec.Category),
		Kind:          spec.Recipe.Kind(),
		Shadow:        spec.Defaults.Shadow,
		ShadowOpacity: spec.Defaults.ShadowOpacity,
	}
}

func viewsOf(specs []backdrop.Spec) []backgroundView {
	views := make([]backgroundView, 0, len(specs))
	for _, spec := range specs {
		views = append(views, viewOf(spec))
	}
	return views
}

func (s *Server) handleListBackgrounds(c *gin.Context) {
	respondSuccess(c, viewsOf(s.backgrounds.List()))
}

func (s *Server) handleBackgroundsByCategory(c *gin.Context) {
	category, err := backdrop.ParseCategory(c.Param("category"))
	if err != nil {
		respondError(c, errs.Wrap(errs.KindNotFound, "backgrounds", "unknown category", err))
		return
	}
	respondSuccess(c, viewsOf(s.backgrounds.ByCategory(category)))
}

// curl -X POST http://localhost:8000/image/backgrounds -F "name=my_showroom" -F "file=@showroom.png"
func (s *Server) handleAddBackground(c *gin.Context) {
	name := c.PostForm("name")
	data, err := readUpload(c, uploadField, s.maxBackground)
	if err != nil {
		respondError(c, err)
		return
	}

	spec, err := s.backgrounds.AddCustom(c.Request.Context(), name, data)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, viewOf(spec))
}
