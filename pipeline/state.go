package pipeline

import (
	"log/slog"
	"time"

	"github.com/segmentio/ksuid"
)

type State string

const (
	StateSubmitted         State = "submitted"
	StateRemoving          State = "removing"
	StateTemplateResolving State = "template_resolving"
	StateCompositing       State = "compositing"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Stage is the time spent in one working state.
type Stage struct {
	State    State         `json:"state"`
	Duration time.Duration `json:"duration"`
}

// run follows one request through its states. It is owned by the goroutine
// handling the request.
type run struct {
	id      string
	state   State
	started time.Time
	entered time.Time
	stages  []Stage
	logger  *slog.Logger
}

func newRun(logger *slog.Logger) *run {
	now := time.Now()
	r := &run{
		id:      ksuid.New().String(),
		state:   StateSubmitted,
		started: now,
		entered: now,
	}
	r.logger = logger.With("id", r.id)
	return r
}

func (r *run) enter(next State) {
	now := time.Now()
	if r.state != StateSubmitted {
		r.stages = append(r.stages, Stage{State: r.state, Duration: now.Sub(r.entered)})
	}
	r.logger.Debug("pipeline state", "from", r.state, "to", next)
	r.state = next
	r.entered = now
}

func (r *run) complete() {
	r.enter(StateCompleted)
	r.logger.Info("pipeline completed", "elapsed", r.elapsed(), "stages", r.stages)
}

func (r *run) fail(err error) {
	r.enter(StateFailed)
	r.logger.Warn("pipeline failed", "elapsed", r.elapsed(), "stages", r.stages, "error", err)
}

func (r *run) elapsed() time.Duration {
	return time.Since(r.started)
}
