package config

import (
	"fmt"
	"strings"

	"github.com/chaos-io/carstudio/rembg"
)

const choiceAuto = "auto"

// Availability reports which strategies are usable on this host.
type Availability struct {
	Local    bool
	RemoveBG bool
	AutoBG   bool
}

func (a Availability) has(s rembg.Strategy) bool {
	switch s {
	case rembg.StrategyLocal:
		return a.Local
	case rembg.StrategySyncRemote:
		return a.RemoveBG
	case rembg.StrategyAsyncRemote:
		return a.AutoBG
	default:
		return false
	}
}

func parseChoice(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == choiceAuto {
		return name, nil
	}
	if _, err := rembg.ParseStrategy(name); err != nil {
		return "", err
	}
	return name, nil
}

// Resolve turns the configured names into strategies once at startup. Auto
// picks the sync API when it has credentials, then the async API, then the
// local model. An auto fallback is the first other usable strategy, local
// first. Explicit choices are kept even when unavailable so that requests
// report the misconfiguration.
func (r Remover) Resolve(av Availability) (primary, fallback rembg.Strategy, err error) {
	order := []rembg.Strategy{rembg.StrategySyncRemote, rembg.StrategyAsyncRemote, rembg.StrategyLocal}

	primary, err = pick(r.Primary, av, order, rembg.StrategyNone)
	if err != nil {
		return rembg.StrategyNone, rembg.StrategyNone, fmt.Errorf("remover.primary: %w", err)
	}

	fallbackOrder := []rembg.Strategy{rembg.StrategyLocal, rembg.StrategySyncRemote, rembg.StrategyAsyncRemote}
	fallback, err = pick(r.Fallback, av, fallbackOrder, primary)
	if err != nil {
		return rembg.StrategyNone, rembg.StrategyNone, fmt.Errorf("remover.fallback: %w", err)
	}
	if fallback == primary {
		fallback = rembg.StrategyNone
	}
	return primary, fallback, nil
}

func pick(name string, av Availability, order []rembg.Strategy, exclude rembg.Strategy) (rembg.Strategy, error) {
	choice, err := parseChoice(name)
	if err != nil {
		return rembg.StrategyNone, err
	}
	if choice != choiceAuto {
		return rembg.ParseStrategy(choice)
	}
	for _, s := range order {
		if s != exclude && av.has(s) {
			return s, nil
		}
	}
	return rembg.StrategyNone, nil
}
