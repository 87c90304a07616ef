package screening

import (
	"context"
	"sort"
	"sync"

	"neuromate-client/internal/scoring"
)

type CategoryBar struct {
	Category string `json:"category"`
	Level    string `json:"level"`
	Percent  int    `json:"percent"`
}

type ResultView struct {
	SessionID   string        `json:"session_id"`
	Label       string        `json:"label"`
	TotalYes    int           `json:"total_yes"`
	Guidance    string        `json:"guidance"`
	Suggestions []string      `json:"suggestions"`
	Bars        []CategoryBar `json:"bars"`
}

// Result is the terminal stage. The final result is fetched at most once
// per mount; a failed fetch is remembered too.
type Result struct {
	deps      Deps
	sessionID string

	once sync.Once
	view *ResultView
	err  error
}

func MountResult(ctx context.Context, deps Deps, sess *SessionContext) (*Result, error) {
	deps = deps.withDefaults()
	id, err := requireSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &Result{deps: deps, sessionID: id}, nil
}

func (r *Result) SessionID() string { return r.sessionID }

func (r *Result) Load(ctx context.Context) (*ResultView, error) {
	r.once.Do(func() {
		fr, err := r.deps.Scorer.FetchFinalResult(ctx, r.sessionID)
		if err != nil {
			r.deps.Log.Warn("fetch final result failed", "session_id", r.sessionID, "error", err)
			r.err = err
			return
		}
		v := BuildResultView(r.deps.Script, fr)
		v.SessionID = r.sessionID
		r.view = &v
	})
	return r.view, r.err
}

// Download fetches the report. Every call goes to the service.
func (r *Result) Download(ctx context.Context) (*scoring.Report, error) {
	rep, err := r.deps.Scorer.FetchReport(ctx, r.sessionID)
	if err != nil {
		r.deps.Log.Warn("fetch report failed", "session_id", r.sessionID, "error", err)
		return nil, err
	}
	return rep, nil
}

// BuildResultView derives suggestions and category bars from a final result.
func BuildResultView(script *Script, fr *scoring.FinalResult) ResultView {
	v := ResultView{
		Label:       fr.Label,
		TotalYes:    fr.TotalYes,
		Guidance:    fr.Guidance,
		Suggestions: script.SuggestionsFor(fr.Label),
		Bars:        make([]CategoryBar, 0, len(fr.PerCategoryLabels)),
	}
	for cat, level := range fr.PerCategoryLabels {
		v.Bars = append(v.Bars, CategoryBar{Category: cat, Level: level, Percent: script.PercentFor(level)})
	}
	sort.Slice(v.Bars, func(i, j int) bool { return v.Bars[i].Category < v.Bars[j].Category })
	return v
}
