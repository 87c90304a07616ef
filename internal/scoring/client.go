package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"neuromate-client/internal/logger"
)

// ErrNoResult is wrapped by every failure of the client: transport errors,
// non-2xx statuses, undecodable bodies and responses missing required fields.
// Callers treat all of them the same way.
var ErrNoResult = errors.New("scoring: no result")

const (
	pathStartSession = "/start_session"
	pathAnswer       = "/answer"
	pathFinal        = "/predict_final"
	pathReport       = "/generate-report-session"

	maxReportBytes = 32 << 20
)

type Options struct {
	BaseURL string
	// Token, when set, is sent as a bearer token on every request.
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the transport entirely; Token is ignored then.
	HTTPClient *http.Client
}

// Client talks to the remote scoring service. It never retries: a failed
// call is reported once and the user decides whether to repeat the action.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

func NewClient(opts Options, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
		if opts.Token != "" {
			ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
			hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
			hc.Timeout = timeout
		}
	}
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		log:        log,
	}
}

// ---- Helpers ----

func (c *Client) do(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	resp, err := c.do(ctx, path, payload)
	if err != nil {
		c.log.Warn("scoring request failed", "path", path, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrNoResult, path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(path, resp); err != nil {
		c.log.Warn("scoring request rejected", "path", path, "status", resp.StatusCode)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Warn("scoring response undecodable", "path", path, "error", err)
		return fmt.Errorf("%w: %s: decode: %w", ErrNoResult, path, err)
	}
	return nil
}

func checkStatus(path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("%w: %s returned %d: %s", ErrNoResult, path, resp.StatusCode, strings.TrimSpace(string(b)))
}

// ---- Operations ----

func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	var resp startSessionResponse
	if err := c.postJSON(ctx, pathStartSession, nil, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.SessionID) == "" {
		return nil, fmt.Errorf("%w: %s: missing session_id", ErrNoResult, pathStartSession)
	}
	c.log.Info("screening session created", "session_id", resp.SessionID)
	return &Session{ID: resp.SessionID, FirstQuestion: resp.NextQuestion}, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, sessionID, answer string) (*AnswerResult, error) {
	var resp answerResponse
	if err := c.postJSON(ctx, pathAnswer, answerRequest{SessionID: sessionID, Answer: answer}, &resp); err != nil {
		return nil, err
	}
	return &AnswerResult{
		NextQuestion: strings.TrimSpace(resp.NextQuestion),
		Final:        resp.Final,
		Stage:        strings.ToLower(strings.TrimSpace(resp.Stage)),
	}, nil
}

func (c *Client) FetchFinalResult(ctx context.Context, sessionID string) (*FinalResult, error) {
	var resp finalResultResponse
	if err := c.postJSON(ctx, pathFinal, sessionRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	label := resp.label()
	if label == "" {
		return nil, fmt.Errorf("%w: %s: missing final_label", ErrNoResult, pathFinal)
	}
	levels := make(map[string]string, len(resp.PerCategoryLabels))
	for k, v := range resp.PerCategoryLabels {
		levels[k] = v
	}
	return &FinalResult{
		Label:             label,
		TotalYes:          resp.TotalYes,
		PerCategoryLabels: levels,
		Guidance:          resp.Guidance,
	}, nil
}

// FetchReport returns the report artifact. The body is buffered so a
// truncated stream surfaces here rather than halfway through a download.
// Reports over maxReportBytes are refused rather than cut short.
func (c *Client) FetchReport(ctx context.Context, sessionID string) (*Report, error) {
	resp, err := c.do(ctx, pathReport, sessionRequest{SessionID: sessionID})
	if err != nil {
		c.log.Warn("report request failed", "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrNoResult, pathReport, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(pathReport, resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read: %w", ErrNoResult, pathReport, err)
	}
	if len(body) > maxReportBytes {
		c.log.Warn("report exceeds size limit", "session_id", sessionID, "limit", maxReportBytes)
		return nil, fmt.Errorf("%w: %s: report too large (over %d bytes)", ErrNoResult, pathReport, maxReportBytes)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", ErrNoResult, pathReport)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &Report{SessionID: sessionID, ContentType: contentType, Body: body}, nil
}
