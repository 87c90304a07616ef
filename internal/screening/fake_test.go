package screening_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"neuromate-client/internal/scoring"
	"neuromate-client/internal/screening"
	"neuromate-client/internal/store"
)

var errDown = errors.New("service down")

type submitCall struct {
	SessionID string
	Answer    string
}

// fakeScorer answers from canned replies. A nil reply with a nil error
// means the service returned nothing useful.
type fakeScorer struct {
	mu      sync.Mutex
	session *scoring.Session
	replies []*scoring.AnswerResult
	errs    []error
	final   *scoring.FinalResult
	report  *scoring.Report
	fail    error

	calls      []submitCall
	finalCalls int

	// onSubmit runs before a reply is picked, outside the lock.
	onSubmit func()
}

func (f *fakeScorer) CreateSession(context.Context) (*scoring.Session, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	cp := *f.session
	return &cp, nil
}

func (f *fakeScorer) SubmitAnswer(_ context.Context, id, answer string) (*scoring.AnswerResult, error) {
	if f.onSubmit != nil {
		f.onSubmit()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitCall{SessionID: id, Answer: answer})

	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err != nil {
		return nil, err
	}
	if len(f.replies) == 0 {
		return &scoring.AnswerResult{}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r == nil {
		return &scoring.AnswerResult{}, nil
	}
	return r, nil
}

func (f *fakeScorer) FetchFinalResult(_ context.Context, id string) (*scoring.FinalResult, error) {
	f.mu.Lock()
	f.finalCalls++
	f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return f.final, nil
}

func (f *fakeScorer) FetchReport(_ context.Context, id string) (*scoring.Report, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	cp := *f.report
	cp.SessionID = id
	return &cp, nil
}

func (f *fakeScorer) submitted() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.calls...)
}

func testDeps(f *fakeScorer) screening.Deps {
	return screening.Deps{
		Scorer: f,
		Script: screening.DefaultScript().WithoutPacing(),
		Pacer:  screening.NoPacer{},
	}
}

// startedSession returns a session context that already holds session "abc"
// and the given pending question.
func startedSession(t *testing.T, pending string) (*screening.SessionContext, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	sess := screening.NewSessionContext(st, "browser-1")
	err := sess.Begin(context.Background(), &scoring.Session{ID: "abc", FirstQuestion: pending})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return sess, st
}

func pendingQuestion(t *testing.T, st store.Store) string {
	t.Helper()
	v, _, err := st.Load(context.Background(), "browser-1", screening.KeyPendingQuestion)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return v
}

// recordingPacer notes every pause instead of sleeping.
type recordingPacer struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (p *recordingPacer) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, d)
}

func (p *recordingPacer) recorded() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.pauses...)
}

// pacedDeps keeps the default pacing and reads time from *now.
func pacedDeps(f *fakeScorer, p *recordingPacer, now *time.Time) screening.Deps {
	return screening.Deps{
		Scorer: f,
		Script: screening.DefaultScript(),
		Pacer:  p,
		Now:    func() time.Time { return *now },
	}
}
