package screening

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
)

type Choice string

const (
	Yes Choice = "yes"
	No  Choice = "no"
)

// ParseChoice accepts yes/no in any case, plus y/n.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return Yes, nil
	case "no", "n":
		return No, nil
	}
	return "", ErrInvalidChoice
}

// Screening is the yes/no stage. The answered index is display only.
type Screening struct {
	deps Deps
	sess *SessionContext

	mu       sync.Mutex
	question string
	index    int
	loading  bool
	finished bool
}

type ScreeningView struct {
	Question string  `json:"question"`
	Index    int     `json:"index"`
	Number   int     `json:"number"`
	Progress float64 `json:"progress"`
	Loading  bool    `json:"loading"`
}

// MountScreening loads the question persisted by the previous turn.
func MountScreening(ctx context.Context, deps Deps, sess *SessionContext) (*Screening, error) {
	deps = deps.withDefaults()
	if _, err := requireSession(ctx, sess); err != nil {
		return nil, err
	}
	q, err := sess.PendingQuestion(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q) == "" {
		return nil, ErrNoQuestion
	}
	return &Screening{deps: deps, sess: sess, question: q}, nil
}

// Answer submits choice for the current question. While a submission is
// loading every further call gets ErrBusy, and once the final answer is in
// every call gets ErrInvalidTransition. On failure the question stays in
// place so the user can press again.
func (s *Screening) Answer(ctx context.Context, choice Choice) (*Transition, error) {
	if choice != Yes && choice != No {
		return nil, ErrInvalidChoice
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.finished {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: screening already finished", ErrInvalidTransition)
	}
	if s.question == "" {
		s.mu.Unlock()
		return nil, ErrNoQuestion
	}
	id, err := requireSession(ctx, s.sess)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	pacing := s.deps.Script.Pacing
	s.deps.Pacer.Pause(ctx, pacing.AnswerBefore)
	res, err := s.deps.Scorer.SubmitAnswer(ctx, id, string(choice))
	s.deps.Pacer.Pause(ctx, pacing.AnswerAfter)
	if err != nil {
		s.deps.Log.Warn("screening answer failed", "scope", s.sess.Scope(), "error", err)
		return nil, err
	}
	if err := s.sess.ensureCurrent(ctx, id); err != nil {
		s.deps.Log.Info("stale screening answer dropped", "scope", s.sess.Scope(), "error", err)
		return nil, err
	}

	if res.Final || res.Stage == string(StageResult) {
		s.mu.Lock()
		s.index++
		s.finished = true
		s.mu.Unlock()
		s.deps.Log.Info("screening complete", "scope", s.sess.Scope(), "questions", s.Index())
		return &Transition{From: StageScreening, To: StageResult, After: pacing.ToResult}, nil
	}

	next := strings.TrimSpace(res.NextQuestion)
	if next == "" {
		return nil, nil
	}
	if err := s.sess.SetPendingQuestion(ctx, next); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.index++
	s.question = next
	s.mu.Unlock()
	return nil, nil
}

func (s *Screening) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Screening) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Screening) View() ScreeningView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScreeningView{
		Question: s.question,
		Index:    s.index,
		Number:   s.index + 1,
		Progress: progress(s.index, s.deps.Script),
		Loading:  s.loading,
	}
}

func progress(index int, script *Script) float64 {
	p := float64(index) * 100 / float64(script.Progress.ExpectedQuestions)
	return math.Min(p, script.Progress.CapPercent)
}
