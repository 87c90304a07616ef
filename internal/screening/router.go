package screening

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Stage string

const (
	StageStart     Stage = "start"
	StageIntake    Stage = "intake"
	StageScreening Stage = "screening"
	StageResult    Stage = "result"
)

// Path is the page a browser front end shows for the stage.
func (s Stage) Path() string {
	switch s {
	case StageIntake:
		return "/demographics"
	case StageScreening:
		return "/screening"
	case StageResult:
		return "/result"
	default:
		return "/"
	}
}

// Transition is a controller's decision to move on. After is the pause the
// front end keeps the current stage on screen before navigating.
type Transition struct {
	From  Stage         `json:"from"`
	To    Stage         `json:"to"`
	After time.Duration `json:"after"`
}

var forward = map[Stage]Stage{
	StageIntake:    StageScreening,
	StageScreening: StageResult,
}

// Router tracks the active stage of one scope. Stages only move forward;
// Start is the one way back to the beginning.
type Router struct {
	deps Deps
	sess *SessionContext

	mu    sync.Mutex
	stage Stage
}

func NewRouter(deps Deps, sess *SessionContext) *Router {
	return &Router{deps: deps.withDefaults(), sess: sess, stage: StageStart}
}

func (r *Router) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Start creates a new session, superseding any previous one, and enters
// Intake.
func (r *Router) Start(ctx context.Context) (Stage, error) {
	sess, err := r.deps.Scorer.CreateSession(ctx)
	if err != nil {
		r.deps.Log.Warn("start session failed", "scope", r.sess.Scope(), "error", err)
		return StageStart, err
	}
	if err := r.sess.Begin(ctx, sess); err != nil {
		return StageStart, fmt.Errorf("persist session: %w", err)
	}

	r.mu.Lock()
	r.stage = StageIntake
	r.mu.Unlock()
	r.deps.Log.Info("session started", "scope", r.sess.Scope(), "session_id", sess.ID)
	return StageIntake, nil
}

// Apply moves along a forward edge. The transition must start from the
// active stage.
func (r *Router) Apply(t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.From != r.stage || forward[t.From] != t.To {
		return fmt.Errorf("%w: %s -> %s (at %s)", ErrInvalidTransition, t.From, t.To, r.stage)
	}
	r.stage = t.To
	return nil
}

// Enter handles direct navigation to a stage, as after a reload. Every stage
// but Start needs an active session.
func (r *Router) Enter(ctx context.Context, stage Stage) error {
	switch stage {
	case StageStart, StageIntake, StageScreening, StageResult:
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, stage)
	}
	if stage != StageStart {
		if _, err := requireSession(ctx, r.sess); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
	return nil
}
