package scoring

import (
	"mime"
	"strings"
)

// Session is what the service hands back when a screening run starts.
type Session struct {
	ID            string `json:"sessionId"`
	FirstQuestion string `json:"firstQuestion"`
}

// AnswerResult is the service's reaction to one submitted answer. Both
// fields may be empty, which callers treat as a quiet no-op.
type AnswerResult struct {
	NextQuestion string `json:"nextQuestion,omitempty"`
	Final        bool   `json:"final"`
	// Stage is the optional explicit stage tag ("intake", "screening",
	// "result"). Older services never send it.
	Stage string `json:"stage,omitempty"`
}

type FinalResult struct {
	Label             string            `json:"label"`
	TotalYes          int               `json:"totalYes"`
	PerCategoryLabels map[string]string `json:"perCategoryLabels"`
	Guidance          string            `json:"guidance"`
}

// Report is the rendered report artifact for a session.
type Report struct {
	SessionID   string
	ContentType string
	Body        []byte
}

// Filename is ASD_Report_<sessionId>.<ext>, with the extension taken from
// the content type and pdf when it is unknown.
func (r Report) Filename() string {
	return "ASD_Report_" + r.SessionID + "." + extensionFor(r.ContentType)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "text/html":
		return "html"
	case "application/json":
		return "json"
	case "text/plain":
		return "txt"
	default:
		return "pdf"
	}
}

// ---- wire payloads ----

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type answerRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

type startSessionResponse struct {
	SessionID    string `json:"session_id"`
	NextQuestion string `json:"next_question"`
}

type answerResponse struct {
	NextQuestion string `json:"next_question"`
	Final        bool   `json:"final"`
	Stage        string `json:"stage"`
}

type finalResultResponse struct {
	FinalLabel string `json:"final_label"`
	// ASDResult is the key the reference service actually emits.
	ASDResult         string            `json:"ASD_result"`
	TotalYes          int               `json:"total_yes"`
	PerCategoryLabels map[string]string `json:"per_category_labels"`
	Guidance          string            `json:"guidance"`
}

func (r finalResultResponse) label() string {
	if l := strings.TrimSpace(r.FinalLabel); l != "" {
		return l
	}
	return strings.TrimSpace(r.ASDResult)
}
