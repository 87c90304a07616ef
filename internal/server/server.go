package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"neuromate-client/internal/config"
	"neuromate-client/internal/logger"
	"neuromate-client/internal/scoring"
	"neuromate-client/internal/screening"
	"neuromate-client/internal/store"
	"neuromate-client/internal/types"
)

type Server struct {
	router *chi.Mux
	cfg    config.Config
	store  store.Store
	deps   screening.Deps
	log    *logger.Logger

	now    func() time.Time

	mu        sync.Mutex
	visits    map[string]*visit
	lastSweep time.Time
}

// visitIdleTTL is how long a visit with no requests stays in memory.
const visitIdleTTL = 30 * time.Minute

// visit is the live stage state of one browser session. The store outlives
// it, so an evicted visit or a restarted server remounts from the persisted
// keys.
type visit struct {
	// lastSeen is guarded by Server.mu.
	lastSeen time.Time

	mu        sync.Mutex
	sess      *screening.SessionContext
	router    *screening.Router
	intake    *screening.Intake
	screening *screening.Screening
	result    *screening.Result
}

func NewServer(cfg config.Config, st store.Store, deps screening.Deps, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	deps.Log = log
	if deps.Script == nil {
		deps.Script = screening.DefaultScript()
	}
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", ScopeHeader},
		ExposedHeaders:   []string{ScopeHeader, "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router: r,
		cfg:    cfg,
		store:  st,
		deps:   deps,
		log:    log,
		now:    time.Now,
		visits: make(map[string]*visit),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/session", s.handleStart)
	s.router.Get("/api/intake", s.handleIntake)
	s.router.Post("/api/intake/answer", s.handleIntakeAnswer)
	s.router.Get("/api/screening", s.handleScreening)
	s.router.Post("/api/screening/answer", s.handleScreeningAnswer)
	s.router.Get("/api/result", s.handleResult)
	s.router.Get("/api/result/report", s.handleReport)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) newVisit(scope string) *visit {
	sess := screening.NewSessionContext(s.store, scope)
	return &visit{sess: sess, router: screening.NewRouter(s.deps, sess)}
}

// startVisit returns the scope's visit, creating it. Starting a session is
// the only request that may add a visit for an unknown scope.
func (s *Server) startVisit(scope string) *visit {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	v, ok := s.visits[scope]
	if !ok {
		v = s.newVisit(scope)
		s.visits[scope] = v
	}
	v.lastSeen = now
	return v
}

// lookupVisit returns the scope's visit. A scope without a cached visit is
// remounted only when the store holds a session for it; otherwise the
// request fails with ErrNoSession and nothing is cached.
func (s *Server) lookupVisit(ctx context.Context, scope string) (*visit, error) {
	if scope == "" {
		return nil, screening.ErrNoSession
	}
	s.mu.Lock()
	now := s.now()
	s.sweepLocked(now)
	if v, ok := s.visits[scope]; ok {
		v.lastSeen = now
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	id, err := screening.NewSessionContext(s.store, scope).SessionID(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, screening.ErrNoSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[scope]
	if !ok {
		v = s.newVisit(scope)
		s.visits[scope] = v
	}
	v.lastSeen = s.now()
	return v, nil
}

// sweepLocked drops visits idle for longer than visitIdleTTL. It walks the
// map at most twice per TTL.
func (s *Server) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < visitIdleTTL/2 {
		return
	}
	s.lastSweep = now
	for scope, v := range s.visits {
		if now.Sub(v.lastSeen) > visitIdleTTL {
			delete(s.visits, scope)
		}
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	v := s.startVisit(getOrCreateScope(r, w))

	v.mu.Lock()
	v.intake, v.screening, v.result = nil, nil, nil
	v.mu.Unlock()

	stage, err := v.router.Start(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, s.deps.Script.StartFailure)
		return
	}
	q, _ := v.sess.PendingQuestion(r.Context())
	kind := s.deps.Script.Classifier().Classify(q)
	s.writeJSON(w, http.StatusOK, types.StartResponse{
		NavigateResponse: types.NavigateResponse{Stage: stage, Navigate: stage.Path()},
		Question:         q,
		Kind:             string(kind),
	})
}

// mountIntake returns the intake controller, mounting a fresh one when the
// visit is entering the stage.
func (s *Server) mountIntake(ctx context.Context, v *visit) (*screening.Intake, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.intake != nil && v.router.Stage() == screening.StageIntake {
		return v.intake, nil
	}
	if err := v.router.Enter(ctx, screening.StageIntake); err != nil {
		return nil, err
	}
	in, err := screening.MountIntake(ctx, s.deps, v.sess)
	if err != nil {
		return nil, err
	}
	v.intake = in
	return in, nil
}

// acceptsAnswers rejects an answer once the visit has moved past stage. A
// visit still at Start is being remounted after eviction or a restart and
// may enter the stage.
func acceptsAnswers(v *visit, stage screening.Stage) error {
	if cur := v.router.Stage(); cur != stage && cur != screening.StageStart {
		return fmt.Errorf("%w: %s is closed at %s", screening.ErrInvalidTransition, stage, cur)
	}
	return nil
}

func (s *Server) mountScreening(ctx context.Context, v *visit) (*screening.Screening, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.screening != nil && v.router.Stage() == screening.StageScreening {
		return v.screening, nil
	}
	if err := v.router.Enter(ctx, screening.StageScreening); err != nil {
		return nil, err
	}
	sc, err := screening.MountScreening(ctx, s.deps, v.sess)
	if err != nil {
		return nil, err
	}
	v.screening = sc
	return sc, nil
}

func (s *Server) mountResult(ctx context.Context, v *visit) (*screening.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.result != nil && v.router.Stage() == screening.StageResult {
		return v.result, nil
	}
	if err := v.router.Enter(ctx, screening.StageResult); err != nil {
		return nil, err
	}
	res, err := screening.MountResult(ctx, s.deps, v.sess)
	if err != nil {
		return nil, err
	}
	v.result = res
	return res, nil
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	v, err := s.lookupVisit(r.Context(), requestScope(w, r))
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	in, err := s.mountIntake(r.Context(), v)
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.IntakeResponse{IntakeView: in.View()})
}

func (s *Server) handleIntakeAnswer(w http.ResponseWriter, r *http.Request) {
	var req types.IntakeAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	v, err := s.lookupVisit(r.Context(), requestScope(w, r))
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	if err := acceptsAnswers(v, screening.StageIntake); err != nil {
		s.writeStageError(w, err)
		return
	}
	in, err := s.mountIntake(r.Context(), v)
	if err != nil {
		s.writeStageError(w, err)
		return
	}

	turn, err := in.Begin(r.Context(), req.Answer)
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	// The turn runs to completion even if the browser goes away.
	t, err := in.Complete(context.WithoutCancel(r.Context()), turn)
	resp := types.IntakeResponse{IntakeView: in.View()}
	if err != nil {
		resp.Error = err.Error()
	}
	if t != nil {
		if err := v.router.Apply(*t); err != nil {
			s.log.Warn("intake transition rejected", "scope", v.sess.Scope(), "error", err)
		} else {
			resp.Next = types.Navigate(t)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScreening(w http.ResponseWriter, r *http.Request) {
	v, err := s.lookupVisit(r.Context(), requestScope(w, r))
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	sc, err := s.mountScreening(r.Context(), v)
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.ScreeningResponse{ScreeningView: sc.View()})
}

func (s *Server) handleScreeningAnswer(w http.ResponseWriter, r *http.Request) {
	var req types.ScreeningAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	choice, err := screening.ParseChoice(req.Choice)
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	v, err := s.lookupVisit(r.Context(), requestScope(w, r))
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	if err := acceptsAnswers(v, screening.StageScreening); err != nil {
		s.writeStageError(w, err)
		return
	}
	sc, err := s.mountScreening(r.Context(), v)
	if err != nil {
		s.writeStageError(w, err)
		return
	}

	t, err := sc.Answer(context.WithoutCancel(r.Context()), choice)
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	resp := types.ScreeningResponse{ScreeningView: sc.View()}
	if t != nil {
		if err := v.router.Apply(*t); err != nil {
			s.log.Warn("screening transition rejected", "scope", v.sess.Scope(), "error", err)
		} else {
			resp.Next = types.Navigate(t)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	v, err := s.lookupVisit(r.Context(), requestScope(w, r))
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	res, err := s.mountResult(r.Context(), v)
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	view, err := res.Load(r.Context())
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.ResultResponse{ResultView: *view, ReportURL: "/api/result/report"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	v, err := s.lookupVisit(r.Context(), requestScope(w, r))
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	res, err := s.mountResult(r.Context(), v)
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	rep, err := res.Download(r.Context())
	if err != nil {
		s.writeStageError(w, err)
		return
	}
	w.Header().Set("Content-Type", rep.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+rep.Filename()+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(rep.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rep.Body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, screening.ErrEmptyAnswer), errors.Is(err, screening.ErrInvalidChoice):
		return http.StatusBadRequest
	case errors.Is(err, screening.ErrNoSession), errors.Is(err, screening.ErrNoQuestion),
		errors.Is(err, screening.ErrBusy), errors.Is(err, screening.ErrInvalidTransition),
		errors.Is(err, screening.ErrSessionReplaced):
		return http.StatusConflict
	case errors.Is(err, scoring.ErrNoResult):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeStageError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("stage request failed", "error", err)
	}
	s.writeError(w, code, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}
