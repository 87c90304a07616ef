package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Intake is the demographic stage: a free-text chat where every answer is
// echoed immediately and the service's next question is revealed after a
// composing window.
type Intake struct {
	deps       Deps
	sess       *SessionContext
	classifier Classifier

	mu         sync.Mutex
	transcript Transcript
	composing  bool
	// done is set once a turn has moved the visit on to Screening.
	done bool
}

// Turn is an answer that has been echoed but not yet sent.
type Turn struct {
	SessionID string
	Message   Message
}

type IntakeView struct {
	Messages  []Message `json:"messages"`
	Composing bool      `json:"composing"`
	Question  string    `json:"question"`
	Kind      Kind      `json:"kind"`
	Widget    string    `json:"widget"`
}

// MountIntake builds a fresh transcript seeded with the stored pending
// question, or the welcome line when nothing is pending.
func MountIntake(ctx context.Context, deps Deps, sess *SessionContext) (*Intake, error) {
	deps = deps.withDefaults()
	if _, err := requireSession(ctx, sess); err != nil {
		return nil, err
	}
	pending, err := sess.PendingQuestion(ctx)
	if err != nil {
		return nil, err
	}

	in := &Intake{
		deps:       deps,
		sess:       sess,
		classifier: deps.Script.Classifier(),
		transcript: newTranscript(deps.Now),
	}
	seed := deps.Script.Welcome
	if strings.TrimSpace(pending) != "" {
		seed = pending
	}
	in.transcript.append(RoleBot, seed, StatusDelivered)
	return in, nil
}

// Begin echoes the answer as a pending user message and closes the input
// until Complete runs.
func (in *Intake) Begin(ctx context.Context, answer string) (Turn, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Turn{}, ErrEmptyAnswer
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.composing {
		return Turn{}, ErrBusy
	}
	if in.done {
		return Turn{}, fmt.Errorf("%w: intake already finished", ErrInvalidTransition)
	}
	id, err := requireSession(ctx, in.sess)
	if err != nil {
		return Turn{}, err
	}

	msg := in.transcript.append(RoleUser, answer, StatusPending)
	in.composing = true
	return Turn{SessionID: id, Message: msg}, nil
}

// Complete sends the turn and reconciles the transcript. On failure the
// echoed message is marked failed, the apology is appended and the error
// is returned; the session is left alone so the user can type again.
// A turn whose session was replaced meanwhile writes nothing and returns
// ErrSessionReplaced.
func (in *Intake) Complete(ctx context.Context, turn Turn) (*Transition, error) {
	defer func() {
		in.mu.Lock()
		in.composing = false
		in.mu.Unlock()
	}()

	start := in.deps.Now()
	res, err := in.deps.Scorer.SubmitAnswer(ctx, turn.SessionID, turn.Message.Text)
	if wait := in.deps.Script.Pacing.Composing - in.deps.Now().Sub(start); wait > 0 {
		in.deps.Pacer.Pause(ctx, wait)
	}
	if err != nil {
		in.fail(turn, err)
		return nil, err
	}
	if err := in.sess.ensureCurrent(ctx, turn.SessionID); err != nil {
		if errors.Is(err, ErrSessionReplaced) {
			in.settle(turn, StatusDelivered)
			in.deps.Log.Info("stale intake turn dropped", "scope", in.sess.Scope())
			return nil, err
		}
		in.fail(turn, err)
		return nil, err
	}

	next := strings.TrimSpace(res.NextQuestion)
	if next == "" {
		in.settle(turn, StatusDelivered)
		return nil, nil
	}
	if err := in.sess.SetPendingQuestion(ctx, next); err != nil {
		in.fail(turn, err)
		return nil, err
	}

	in.mu.Lock()
	in.transcript.settle(turn.Message.ID, StatusDelivered)
	in.transcript.append(RoleBot, next, StatusDelivered)
	in.mu.Unlock()

	if !in.startsScreening(res.Stage, next) {
		return nil, nil
	}
	in.mu.Lock()
	in.done = true
	in.mu.Unlock()
	in.deps.Log.Info("intake complete", "scope", in.sess.Scope())
	return &Transition{From: StageIntake, To: StageScreening, After: in.deps.Script.Pacing.ToScreening}, nil
}

// Submit is Begin followed by Complete.
func (in *Intake) Submit(ctx context.Context, answer string) (*Transition, error) {
	turn, err := in.Begin(ctx, answer)
	if err != nil {
		return nil, err
	}
	return in.Complete(ctx, turn)
}

// startsScreening trusts the service's stage tag; without one it falls back
// to spotting the screening marker in the question text.
func (in *Intake) startsScreening(stage, question string) bool {
	switch stage {
	case string(StageScreening):
		return true
	case "":
		return strings.Contains(question, in.deps.Script.ScreeningMarker)
	default:
		return false
	}
}

func (in *Intake) settle(turn Turn, status Status) {
	in.mu.Lock()
	in.transcript.settle(turn.Message.ID, status)
	in.mu.Unlock()
}

func (in *Intake) fail(turn Turn, err error) {
	in.deps.Log.Warn("intake turn failed", "scope", in.sess.Scope(), "error", err)
	in.mu.Lock()
	in.transcript.settle(turn.Message.ID, StatusFailed)
	in.transcript.append(RoleBot, in.deps.Script.Apology, StatusDelivered)
	in.mu.Unlock()
}

func (in *Intake) View() IntakeView {
	in.mu.Lock()
	defer in.mu.Unlock()

	v := IntakeView{
		Messages:  in.transcript.Messages(),
		Composing: in.composing,
		Kind:      Binary,
	}
	if last, ok := in.transcript.LastBot(); ok {
		v.Question = last.Text
		v.Kind = in.classifier.Classify(last.Text)
	}
	v.Widget = v.Kind.Widget()
	return v
}

func (in *Intake) Composing() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.composing
}
