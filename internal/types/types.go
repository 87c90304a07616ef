package types

import "neuromate-client/internal/screening"

type ErrorResponse struct {
	Error string `json:"error"`
}

// NavigateResponse tells the browser which page to show next. AfterMs is the
// pause before navigating.
type NavigateResponse struct {
	Stage    screening.Stage `json:"stage"`
	Navigate string          `json:"navigate"`
	AfterMs  int64           `json:"afterMs"`
}

type StartResponse struct {
	NavigateResponse
	Question string `json:"question"`
	Kind     string `json:"kind"`
}

type IntakeAnswerRequest struct {
	Answer string `json:"answer"`
}

type IntakeResponse struct {
	screening.IntakeView
	Next *NavigateResponse `json:"next,omitempty"`
	// Error is set when the turn failed; the apology is already in Messages.
	Error string `json:"error,omitempty"`
}

type ScreeningAnswerRequest struct {
	Choice string `json:"choice"`
}

type ScreeningResponse struct {
	screening.ScreeningView
	Next *NavigateResponse `json:"next,omitempty"`
}

type ResultResponse struct {
	screening.ResultView
	ReportURL string `json:"reportUrl"`
}

func Navigate(t *screening.Transition) *NavigateResponse {
	if t == nil {
		return nil
	}
	return &NavigateResponse{Stage: t.To, Navigate: t.To.Path(), AfterMs: t.After.Milliseconds()}
}
