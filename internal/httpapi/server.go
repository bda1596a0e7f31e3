package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/service"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
	"github.com/BrandonDHaskell/Portunus/gate/internal/metrics"
)

// Gate is the slice of the engine the API drives.
type Gate interface {
	Unlock(ctx context.Context, op service.Operator) types.UnlockResult
	Enroll(ctx context.Context, req types.EnrollRequest) types.EnrollResult
	Remove(ctx context.Context, ref string) types.RemoveResult
	ListIdentities(ctx context.Context, filter string) ([]types.IdentitySummary, error)
	Identity(ctx context.Context, ref string) (types.IdentitySummary, error)
	Photo(ctx context.Context, ref string) (types.Photo, error)
	Audit(ctx context.Context, limit int) ([]types.AuditEntry, error)
	Status(ctx context.Context) (types.Status, error)
	CancelWait() bool
}

type Dependencies struct {
	Logger   *zap.Logger
	Addr     string
	Gate     Gate
	Registry *prometheus.Registry
	// UnlockLimiter throttles unlock requests.  Nil disables throttling.
	UnlockLimiter *rate.Limiter
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	router     chi.Router
	gate       Gate
	limiter    *rate.Limiter
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := chi.NewRouter()

	s := &Server{
		logger:  d.Logger,
		router:  r,
		gate:    d.Gate,
		limiter: d.UnlockLimiter,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(loggingMiddleware(d.Logger))
	if d.Registry != nil {
		r.Use(metrics.NewHTTP(d.Registry).Middleware)
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Registry))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/unlock", s.handleUnlock)
		r.Post("/enroll", s.handleEnroll)
		r.Post("/cancel", s.handleCancel)
		r.Get("/status", s.handleStatus)
		r.Get("/audit", s.handleAudit)
		r.Get("/identities", s.handleListIdentities)
		r.Get("/identities/{ref}", s.handleGetIdentity)
		r.Get("/identities/{ref}/photo", s.handleGetPhoto)
		r.Delete("/identities/{ref}", s.handleRemove)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, r, http.StatusTooManyRequests, "throttled", "too many unlock requests")
		return
	}

	var req types.UnlockRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	res := s.gate.Unlock(r.Context(), service.StaticOperator(req.BindIfUnbound))
	writeResult(w, r, workflowStatus(res.Reason), res)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req types.EnrollRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	res := s.gate.Enroll(r.Context(), req)
	writeResult(w, r, workflowStatus(res.Reason), res)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	res := s.gate.Remove(r.Context(), chi.URLParam(r, "ref"))
	writeResult(w, r, workflowStatus(res.Reason), res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, http.StatusOK, map[string]bool{"cancelled": s.gate.CancelWait()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.gate.Status(r.Context())
	if err != nil {
		s.internalError(w, r, "status", err)
		return
	}
	writeResult(w, r, http.StatusOK, st)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "bad_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.gate.Audit(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "audit", err)
		return
	}
	if entries == nil {
		entries = []types.AuditEntry{}
	}
	writeResult(w, r, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	list, err := s.gate.ListIdentities(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.internalError(w, r, "list identities", err)
		return
	}
	if list == nil {
		list = []types.IdentitySummary{}
	}
	writeResult(w, r, http.StatusOK, map[string]any{"identities": list})
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	summary, err := s.gate.Identity(r.Context(), chi.URLParam(r, "ref"))
	switch {
	case err == nil:
		writeResult(w, r, http.StatusOK, summary)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, types.ReasonNotFound, "no such identity")
	case errors.Is(err, service.ErrAmbiguous):
		writeError(w, r, http.StatusConflict, types.ReasonAmbiguous, err.Error())
	default:
		s.internalError(w, r, "get identity", err)
	}
}

// handleGetPhoto writes the stored frame as-is under its own content type.
func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	photo, err := s.gate.Photo(r.Context(), chi.URLParam(r, "ref"))
	switch {
	case err == nil:
		w.Header().Set("Content-Type", photo.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(photo.Data)))
		w.Header().Set("Last-Modified", photo.CapturedAt.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(photo.Data)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, types.ReasonNotFound, "no such identity or no photo")
	case errors.Is(err, service.ErrAmbiguous):
		writeError(w, r, http.StatusConflict, types.ReasonAmbiguous, err.Error())
	default:
		s.internalError(w, r, "get photo", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err), zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
	writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

// workflowStatus maps a workflow outcome onto an HTTP status.  Every
// outcome is an answer carried in the body; only a refused start differs.
func workflowStatus(reason string) int {
	if reason == types.ReasonBusy {
		return http.StatusConflict
	}
	return http.StatusOK
}

// decodeBody reads a JSON or protobuf body into v.  An empty body is
// accepted when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	if isProtobuf(r) {
		return readStruct(r, v)
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if allowEmpty && len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return decodeStrict(raw, v)
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
