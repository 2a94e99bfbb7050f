package pipeline

import (
	"context"

	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/rembg"
)

type ProviderHealth struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type Health struct {
	Status      string           `json:"status"`
	Primary     string           `json:"primary"`
	Fallback    string           `json:"fallback"`
	Templates   bool             `json:"use_templates"`
	Providers   []ProviderHealth `json:"providers"`
	Backgrounds int              `json:"backgrounds"`
	Bound       int              `json:"templates"`
	Workers     int              `json:"workers"`
}

func providerHealth(role string, r interface {
	Name() string
	Available() error
}) ProviderHealth {
	h := ProviderHealth{Name: r.Name(), Role: role, Available: true}
	if err := r.Available(); err != nil {
		h.Available = false
		h.Reason = err.Error()
	}
	return h
}

// Health reports configured strategies and whether their providers can
// currently serve requests. Status is degraded when the primary cannot.
func (o *Orchestrator) Health() Health {
	h := Health{
		Status:      "ok",
		Primary:     rembg.StrategyNone.String(),
		Fallback:    rembg.StrategyNone.String(),
		Templates:   o.useTemplates,
		Backgrounds: o.backgrounds.Len(),
		Workers:     o.pool.Size(),
	}

	if o.primary != nil {
		h.Primary = o.primary.Strategy().String()
		p := providerHealth("primary", o.primary)
		if !p.Available {
			h.Status = "degraded"
		}
		h.Providers = append(h.Providers, p)
	} else {
		h.Status = "degraded"
	}
	if o.fallback != nil {
		h.Fallback = o.fallback.Strategy().String()
		h.Providers = append(h.Providers, providerHealth("fallback", o.fallback))
	}
	if o.remote != nil {
		h.Providers = append(h.Providers, providerHealth("templates", o.remote))
	}
	if o.templates != nil {
		h.Bound = o.templates.Len()
	}
	return h
}

// Templates lists the templates known to the remote compositor.
func (o *Orchestrator) Templates(ctx context.Context) ([]rembg.Template, error) {
	if o.remote == nil {
		return nil, errs.New(errs.KindUnavailableProvider, "templates", "no template provider configured")
	}
	if err := o.remote.Available(); err != nil {
		return nil, errs.Wrap(errs.KindUnavailableProvider, "templates", "template provider unavailable", err)
	}
	return o.remote.ListTemplates(ctx)
}
