package screening

import (
	"context"
	"errors"
	"time"

	"neuromate-client/internal/logger"
	"neuromate-client/internal/scoring"
	"neuromate-client/internal/store"
)

// Keys written to the session store.
const (
	KeySessionID       = "session_id"
	KeyPendingQuestion = "pendingNextQuestion"
)

var (
	ErrEmptyAnswer       = errors.New("screening: empty answer")
	ErrBusy              = errors.New("screening: a submission is already in flight")
	ErrNoSession         = errors.New("screening: no active session")
	ErrNoQuestion        = errors.New("screening: no question loaded")
	ErrInvalidChoice     = errors.New("screening: choice must be yes or no")
	ErrInvalidTransition = errors.New("screening: invalid stage transition")
	ErrSessionReplaced   = errors.New("screening: session was replaced while the answer was in flight")
)

// Scorer is the remote scoring service as the stages see it.
// *scoring.Client implements it.
type Scorer interface {
	CreateSession(ctx context.Context) (*scoring.Session, error)
	SubmitAnswer(ctx context.Context, sessionID, answer string) (*scoring.AnswerResult, error)
	FetchFinalResult(ctx context.Context, sessionID string) (*scoring.FinalResult, error)
	FetchReport(ctx context.Context, sessionID string) (*scoring.Report, error)
}

// SessionContext is the session store bound to one scope. Every stage gets
// it explicitly instead of reaching for shared storage.
type SessionContext struct {
	store store.Store
	scope string
}

func NewSessionContext(s store.Store, scope string) *SessionContext {
	return &SessionContext{store: s, scope: scope}
}

func (c *SessionContext) Scope() string { return c.scope }

// SessionID returns "" when no session has been started in this scope.
func (c *SessionContext) SessionID(ctx context.Context) (string, error) {
	v, _, err := c.store.Load(ctx, c.scope, KeySessionID)
	return v, err
}

func (c *SessionContext) PendingQuestion(ctx context.Context) (string, error) {
	v, _, err := c.store.Load(ctx, c.scope, KeyPendingQuestion)
	return v, err
}

func (c *SessionContext) SetPendingQuestion(ctx context.Context, question string) error {
	return c.store.Save(ctx, c.scope, KeyPendingQuestion, question)
}

// ensureCurrent reports ErrSessionReplaced when the scope has moved on to
// another session since id was read.
func (c *SessionContext) ensureCurrent(ctx context.Context, id string) error {
	cur, err := c.SessionID(ctx)
	if err != nil {
		return err
	}
	if cur != id {
		return ErrSessionReplaced
	}
	return nil
}

// Begin replaces whatever session the scope held.
func (c *SessionContext) Begin(ctx context.Context, sess *scoring.Session) error {
	if err := c.store.Save(ctx, c.scope, KeySessionID, sess.ID); err != nil {
		return err
	}
	return c.SetPendingQuestion(ctx, sess.FirstQuestion)
}

// Deps are the collaborators shared by every stage.
type Deps struct {
	Scorer Scorer
	Script *Script
	Pacer  Pacer
	Log    *logger.Logger
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Script == nil {
		d.Script = DefaultScript()
	}
	if d.Pacer == nil {
		d.Pacer = SleepPacer{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func requireSession(ctx context.Context, sess *SessionContext) (string, error) {
	id, err := sess.SessionID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}
