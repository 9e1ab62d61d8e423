package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/model"
)

const shutdownTimeout = 10 * time.Second

// Runner is what the HTTP surface drives; *engine.Engine implements it
type Runner interface {
	Analyze(ctx context.Context, kind model.PassKind) (*model.Report, error)
	Repair(ctx context.Context, kind model.PassKind, dryRun bool) (*model.Report, error)
}

// Server serves the pass endpoints. Only one applying pass runs at a time.
type Server struct {
	runner  Runner
	metrics http.Handler
	token   string
	log     zerolog.Logger

	// base bounds applying passes; it is replaced by the Serve context
	base     context.Context
	applying sync.Mutex
}

// NewServer creates a server. metrics may be nil, token may be empty to disable auth.
func NewServer(runner Runner, metrics http.Handler, token string, log zerolog.Logger) *Server {
	return &Server{
		runner:  runner,
		metrics: metrics,
		token:   token,
		log:     log.With().Str("component", "api").Logger(),
		base:    context.Background(),
	}
}

type repairRequest struct {
	DryRun *bool `json:"dryRun"`
}

type passesResponse struct {
	Passes []model.PassKind `json:"passes"`
}

// Router mounts health, metrics and the authenticated /api routes
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(s.token))
		r.Get("/passes", s.listPasses)
		r.Post("/passes/{kind}/analyze", s.analyze)
		r.Post("/passes/{kind}/repair", s.repair)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.base = ctx

	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info().Str("address", ln.Addr().String()).Msg("Starting HTTP server")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		s.log.Info().Msg("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) listPasses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, passesResponse{Passes: model.PassKinds})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.passKind(w, r)
	if !ok {
		return
	}
	report, err := s.runner.Analyze(r.Context(), kind)
	s.writeReport(w, kind, report, err)
}

func (s *Server) repair(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.passKind(w, r)
	if !ok {
		return
	}

	var req repairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return
	}
	dryRun := req.DryRun == nil || *req.DryRun

	if !dryRun {
		if !s.applying.TryLock() {
			writeJSON(w, http.StatusConflict, errorBody("a repair pass is already being applied"))
			return
		}
		defer s.applying.Unlock()
	}

	ctx := r.Context()
	if !dryRun {
		var cancel context.CancelFunc
		ctx, cancel = s.applyContext(ctx)
		defer cancel()
	}

	report, err := s.runner.Repair(ctx, kind, dryRun)
	s.writeReport(w, kind, report, err)
}

// applyContext keeps request values but not the client's cancellation, so a
// disconnect cannot cut a consolidation between its create and its deletes.
// Server shutdown still stops the pass.
func (s *Server) applyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(s.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Server) passKind(w http.ResponseWriter, r *http.Request) (model.PassKind, bool) {
	kind := model.PassKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeJSON(w, http.StatusNotFound, errorBody(fmt.Sprintf("unknown pass %q", kind)))
		return "", false
	}
	return kind, true
}

// writeReport returns the report even when the pass was cut short, with a 503
func (s *Server) writeReport(w http.ResponseWriter, kind model.PassKind, report *model.Report, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case report != nil:
		s.log.Warn().Err(err).Str("pass", string(kind)).Msg("Pass interrupted")
		writeJSON(w, http.StatusServiceUnavailable, report)
	default:
		s.log.Error().Err(err).Str("pass", string(kind)).Msg("Pass failed")
		writeJSON(w, http.StatusInternalServerError, errResponse{Error: err.Error(), Kind: string(apperr.KindOf(err))})
	}
}
