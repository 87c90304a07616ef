package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"neuromate-client/internal/config"
	"neuromate-client/internal/scoring"
	"neuromate-client/internal/screening"
	"neuromate-client/internal/store"
)

// scoringService is a scripted stand-in for the remote scoring service.
type scoringService struct {
	mu      sync.Mutex
	answers []string
	replies []string
	down    bool
}

func (f *scoringService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch r.URL.Path {
	case "/start_session":
		_, _ = io.WriteString(w, `{"session_id":"abc","next_question":"What is your name?"}`)
	case "/answer":
		f.answers = append(f.answers, body["session_id"]+":"+body["answer"])
		reply := `{}`
		if len(f.replies) > 0 {
			reply, f.replies = f.replies[0], f.replies[1:]
		}
		_, _ = io.WriteString(w, reply)
	case "/predict_final":
		_, _ = io.WriteString(w, `{"final_label":"At Risk","total_yes":1,"per_category_labels":{"communication":"moderate"},"guidance":"Talk to a specialist."}`)
	case "/generate-report-session":
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.4 report for "+body["session_id"])
	default:
		http.NotFound(w, r)
	}
}

func newTestServer(t *testing.T, svc *scoringService) *httptest.Server {
	t.Helper()
	ts, _ := newTestServerWith(t, svc)
	return ts
}

// newTestServerWith also returns the Server so tests can inspect its visits.
// opts run before the server starts listening.
func newTestServerWith(t *testing.T, svc *scoringService, opts ...func(*Server)) (*httptest.Server, *Server) {
	t.Helper()
	upstream := httptest.NewServer(svc)
	t.Cleanup(upstream.Close)

	deps := screening.Deps{
		Scorer: scoring.NewClient(scoring.Options{BaseURL: upstream.URL}, nil),
		Script: screening.DefaultScript().WithoutPacing(),
		Pacer:  screening.NoPacer{},
	}
	s := NewServer(config.Config{AllowedOrigin: "*"}, store.NewMemoryStore(), deps, nil)
	for _, opt := range opts {
		opt(s)
	}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, s
}

func (s *Server) visitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visits)
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func call(t *testing.T, ts *httptest.Server, method, path, scope string, body any, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if scope != "" {
		req.Header.Set(ScopeHeader, scope)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

type navigate struct {
	Stage    string `json:"stage"`
	Navigate string `json:"navigate"`
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &scoringService{})
	var out map[string]string
	resp := call(t, ts, http.MethodGet, "/api/health", "", nil, &out)
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, out)
	}
}

func TestStartSetsCookie(t *testing.T) {
	ts := newTestServer(t, &scoringService{})
	var out struct {
		navigate
		Question string `json:"question"`
		Kind     string `json:"kind"`
	}
	resp := call(t, ts, http.MethodPost, "/api/session", "", nil, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == CookieName && c.Value != "" && c.HttpOnly && c.MaxAge == 0 {
			found = true
		}
	}
	if !found || resp.Header.Get(ScopeHeader) == "" {
		t.Fatal("expected a browser-session cookie and scope header")
	}
	if out.Navigate != "/demographics" || out.Question != "What is your name?" || out.Kind != "demographic" {
		t.Fatalf("unexpected start response %+v", out)
	}
}

func TestStartFailure(t *testing.T) {
	ts := newTestServer(t, &scoringService{down: true})
	var out map[string]string
	resp := call(t, ts, http.MethodPost, "/api/session", "s1", nil, &out)
	if resp.StatusCode != http.StatusBadGateway || !strings.HasPrefix(out["error"], "Unable to start session") {
		t.Fatalf("got %d %v", resp.StatusCode, out)
	}
}

func TestStagesWithoutSession(t *testing.T) {
	ts := newTestServer(t, &scoringService{})
	for _, path := range []string{"/api/intake", "/api/screening", "/api/result", "/api/result/report"} {
		resp := call(t, ts, http.MethodGet, path, "fresh", nil, nil)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("GET %s = %d, want 409", path, resp.StatusCode)
		}
	}
}

func TestFullRun(t *testing.T) {
	svc := &scoringService{replies: []string{
		`{"next_question":"Do you maintain eye contact?"}`,
		`{"next_question":"Do you line up toys?"}`,
		`{"final":true}`,
	}}
	ts := newTestServer(t, svc)
	const scope = "browser-1"

	call(t, ts, http.MethodPost, "/api/session", scope, nil, nil)

	var intake struct {
		Messages []screening.Message `json:"messages"`
		Widget   string              `json:"widget"`
	}
	call(t, ts, http.MethodGet, "/api/intake", scope, nil, &intake)
	if len(intake.Messages) != 1 || intake.Widget != "text" {
		t.Fatalf("unexpected intake mount %+v", intake)
	}

	var answered struct {
		Messages []screening.Message `json:"messages"`
		Next     *navigate           `json:"next"`
	}
	resp := call(t, ts, http.MethodPost, "/api/intake/answer", scope, map[string]string{"answer": "Alex"}, &answered)
	if resp.StatusCode != http.StatusOK || answered.Next == nil || answered.Next.Navigate != "/screening" {
		t.Fatalf("expected navigation to screening, got %d %+v", resp.StatusCode, answered.Next)
	}
	if n := len(answered.Messages); n != 3 || answered.Messages[1].Text != "Alex" {
		t.Fatalf("unexpected transcript %+v", answered.Messages)
	}

	var sc struct {
		Question string    `json:"question"`
		Index    int       `json:"index"`
		Next     *navigate `json:"next"`
	}
	call(t, ts, http.MethodGet, "/api/screening", scope, nil, &sc)
	if sc.Question != "Do you maintain eye contact?" || sc.Index != 0 {
		t.Fatalf("unexpected screening mount %+v", sc)
	}

	resp = call(t, ts, http.MethodPost, "/api/screening/answer", scope, map[string]string{"choice": "maybe"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad choice = %d", resp.StatusCode)
	}

	call(t, ts, http.MethodPost, "/api/screening/answer", scope, map[string]string{"choice": "yes"}, &sc)
	if sc.Question != "Do you line up toys?" || sc.Index != 1 || sc.Next != nil {
		t.Fatalf("unexpected screening step %+v", sc)
	}
	sc.Next = nil
	call(t, ts, http.MethodPost, "/api/screening/answer", scope, map[string]string{"choice": "no"}, &sc)
	if sc.Next == nil || sc.Next.Navigate != "/result" || sc.Question != "Do you line up toys?" {
		t.Fatalf("expected navigation to result, got %+v", sc)
	}

	var result struct {
		Label       string                  `json:"label"`
		Suggestions []string                `json:"suggestions"`
		Bars        []screening.CategoryBar `json:"bars"`
	}
	call(t, ts, http.MethodGet, "/api/result", scope, nil, &result)
	if result.Label != "At Risk" || len(result.Suggestions) != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Bars) != 1 || result.Bars[0].Percent != 65 {
		t.Fatalf("unexpected bars %+v", result.Bars)
	}

	resp = call(t, ts, http.MethodGet, "/api/result/report", scope, nil, nil)
	body, _ := io.ReadAll(resp.Body)
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="ASD_Report_abc.pdf"` {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if string(body) != "%PDF-1.4 report for abc" {
		t.Fatalf("report body = %q", body)
	}

	want := []string{"abc:Alex", "abc:yes", "abc:no"}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if strings.Join(svc.answers, ",") != strings.Join(want, ",") {
		t.Fatalf("answers = %v", svc.answers)
	}
}

func TestIntakeFailureIsInTranscript(t *testing.T) {
	svc := &scoringService{}
	ts := newTestServer(t, svc)
	call(t, ts, http.MethodPost, "/api/session", "s1", nil, nil)

	svc.mu.Lock()
	svc.down = true
	svc.mu.Unlock()

	var out struct {
		Messages []screening.Message `json:"messages"`
		Error    string              `json:"error"`
	}
	resp := call(t, ts, http.MethodPost, "/api/intake/answer", "s1", map[string]string{"answer": "Alex"}, &out)
	if resp.StatusCode != http.StatusOK || out.Error == "" {
		t.Fatalf("got %d %+v", resp.StatusCode, out)
	}
	last := out.Messages[len(out.Messages)-1]
	if last.Text != "Something went wrong. Please try again." {
		t.Fatalf("expected apology, got %q", last.Text)
	}
}

func TestIntakeBlankAnswer(t *testing.T) {
	ts := newTestServer(t, &scoringService{})
	call(t, ts, http.MethodPost, "/api/session", "s1", nil, nil)
	resp := call(t, ts, http.MethodPost, "/api/intake/answer", "s1", map[string]string{"answer": "  "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank answer = %d", resp.StatusCode)
	}
}

func TestScreeningFailureIsBadGateway(t *testing.T) {
	svc := &scoringService{replies: []string{`{"next_question":"Do you maintain eye contact?","stage":"screening"}`}}
	ts := newTestServer(t, svc)
	call(t, ts, http.MethodPost, "/api/session", "s1", nil, nil)
	call(t, ts, http.MethodPost, "/api/intake/answer", "s1", map[string]string{"answer": "Alex"}, nil)

	svc.mu.Lock()
	svc.down = true
	svc.mu.Unlock()
	resp := call(t, ts, http.MethodPost, "/api/screening/answer", "s1", map[string]string{"choice": "yes"}, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var sc struct {
		Question string `json:"question"`
		Loading  bool   `json:"loading"`
	}
	svc.mu.Lock()
	svc.down = false
	svc.mu.Unlock()
	call(t, ts, http.MethodGet, "/api/screening", "s1", nil, &sc)
	if sc.Question != "Do you maintain eye contact?" || sc.Loading {
		t.Fatalf("question must stay after failure: %+v", sc)
	}
}

func TestStageRequestsWithoutSessionCacheNothing(t *testing.T) {
	ts, s := newTestServerWith(t, &scoringService{})
	for i := 0; i < 1000; i++ {
		resp := call(t, ts, http.MethodGet, "/api/result", "", nil, nil)
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("GET /api/result = %d, want 409", resp.StatusCode)
		}
		if len(resp.Cookies()) != 0 {
			t.Fatal("a rejected stage request must not mint a scope")
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	for _, scope := range []string{"made-up-1", "made-up-2", "made-up-3"} {
		call(t, ts, http.MethodGet, "/api/intake", scope, nil, nil)
		call(t, ts, http.MethodPost, "/api/screening/answer", scope, map[string]string{"choice": "yes"}, nil)
	}
	if n := s.visitCount(); n != 0 {
		t.Fatalf("visits = %d, want 0", n)
	}
}

func TestIdleVisitsAreEvicted(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	ts, s := newTestServerWith(t, &scoringService{}, func(s *Server) { s.now = clock.Now })

	call(t, ts, http.MethodPost, "/api/session", "s1", nil, nil)
	if n := s.visitCount(); n != 1 {
		t.Fatalf("visits = %d, want 1", n)
	}

	clock.Advance(visitIdleTTL + time.Minute)
	call(t, ts, http.MethodGet, "/api/intake", "nobody", nil, nil)
	if n := s.visitCount(); n != 0 {
		t.Fatalf("visits after idle period = %d, want 0", n)
	}

	// The stored session survives eviction and is remounted on demand.
	var intake struct {
		Question string `json:"question"`
	}
	resp := call(t, ts, http.MethodGet, "/api/intake", "s1", nil, &intake)
	if resp.StatusCode != http.StatusOK || intake.Question != "What is your name?" {
		t.Fatalf("remount = %d %+v", resp.StatusCode, intake)
	}
	if n := s.visitCount(); n != 1 {
		t.Fatalf("visits after remount = %d, want 1", n)
	}
}

func TestActiveVisitIsKept(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	ts, s := newTestServerWith(t, &scoringService{}, func(s *Server) { s.now = clock.Now })

	call(t, ts, http.MethodPost, "/api/session", "s1", nil, nil)
	for i := 0; i < 4; i++ {
		clock.Advance(visitIdleTTL / 2)
		resp := call(t, ts, http.MethodGet, "/api/intake", "s1", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /api/intake = %d", resp.StatusCode)
		}
	}
	if n := s.visitCount(); n != 1 {
		t.Fatalf("visits = %d, want 1", n)
	}
}

func TestAnswersClosedOnceStageMovesOn(t *testing.T) {
	svc := &scoringService{replies: []string{
		`{"next_question":"Do you maintain eye contact?","stage":"screening"}`,
		`{"final":true}`,
	}}
	ts := newTestServer(t, svc)
	call(t, ts, http.MethodPost, "/api/session", "s1", nil, nil)
	call(t, ts, http.MethodPost, "/api/intake/answer", "s1", map[string]string{"answer": "Alex"}, nil)

	resp := call(t, ts, http.MethodPost, "/api/intake/answer", "s1", map[string]string{"answer": "again"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("intake answer after moving on = %d, want 409", resp.StatusCode)
	}

	var sc struct {
		Next *navigate `json:"next"`
	}
	call(t, ts, http.MethodPost, "/api/screening/answer", "s1", map[string]string{"choice": "yes"}, &sc)
	if sc.Next == nil || sc.Next.Navigate != "/result" {
		t.Fatalf("expected navigation to result, got %+v", sc.Next)
	}
	resp = call(t, ts, http.MethodPost, "/api/screening/answer", "s1", map[string]string{"choice": "no"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("answer after the final one = %d, want 409", resp.StatusCode)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if got := strings.Join(svc.answers, ","); got != "abc:Alex,abc:yes" {
		t.Fatalf("answers = %s", got)
	}
}
