// Package api exposes the scan service over HTTP/JSON.
package api

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sentinelsec/sentinel/internal/api/middleware"
	"github.com/sentinelsec/sentinel/internal/limiter"
	"github.com/sentinelsec/sentinel/internal/orchestrator"
	"github.com/sentinelsec/sentinel/internal/scan"
	"github.com/sentinelsec/sentinel/internal/shared/constants"
	scanerrors "github.com/sentinelsec/sentinel/internal/shared/errors"
	"github.com/sentinelsec/sentinel/internal/target"
	"github.com/sentinelsec/sentinel/internal/vault"
)

// Config wires the server's collaborators.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Validator    *target.Validator
	Limiter      *limiter.SlidingWindow
	Logger       *zap.Logger
	// AuthToken, when set, requires X-Auth-Token on every request.
	AuthToken string
}

// Server is the HTTP surface: scan submission and queries, the legacy
// trigger path, and the vault utility endpoints.
type Server struct {
	cfg    Config
	router chi.Router
}

// NewServer builds the routing table and middleware chain.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = limiter.New(constants.RateWindow, constants.RateCap)
	}

	s := &Server{cfg: cfg, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(s.withLogging)
	r.Use(s.withCORS)
	r.Use(s.withAuth)
	r.Use(s.withRecover)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/scans", s.handleCreateScan)
		r.Get("/scans/{id}", s.handleGetScan)
		r.Get("/scans/{id}/results", s.handleGetResults)
		r.Delete("/scans/{id}", s.handleCancelScan)

		r.Post("/vault/encrypt", s.handleVaultEncrypt)
		r.Post("/vault/decrypt", s.handleVaultDecrypt)
	})

	// Backward-compatible trigger path: dashboards that still POST their
	// old function URL get the same behavior on any unknown path.
	r.NotFound(s.handleLegacyTrigger)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer wraps the server in an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createScanRequest struct {
	Target      string `json:"target"`
	ScanType    string `json:"scan_type,omitempty"`
	RequestedBy string `json:"requested_by_user,omitempty"`
	OrgID       string `json:"org_id,omitempty"`
}

type scanQueuedResponse struct {
	ScanID string      `json:"scan_id"`
	Status scan.Status `json:"status"`
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBody)
	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := s.cfg.Validator.Validate(r.Context(), req.Target)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	if !s.cfg.Limiter.Admit(clientIP(r)) {
		s.requestLogger(r).Warn("rate_limit_exceeded", zap.String("client_ip", clientIP(r)))
		writeError(w, http.StatusTooManyRequests, scanerrors.ErrRateLimited.Error())
		return
	}

	sc, err := s.cfg.Orchestrator.CreateScan(r.Context(), t, scan.ParseKind(req.ScanType), req.OrgID, req.RequestedBy)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scanQueuedResponse{ScanID: sc.ID, Status: sc.Status})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	sc, err := s.cfg.Orchestrator.GetScan(r.Context(), chi.URLParam(r, "id"), callerOrg(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Orchestrator.GetResults(r.Context(), chi.URLParam(r, "id"), callerOrg(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	sc, err := s.cfg.Orchestrator.CancelScan(r.Context(), chi.URLParam(r, "id"), callerOrg(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scanQueuedResponse{ScanID: sc.ID, Status: sc.Status})
}

type legacyTriggerRequest struct {
	ScanID   string `json:"scanId"`
	Domain   string `json:"domain"`
	ScanType string `json:"scanType"`
}

func (s *Server) handleLegacyTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBody)
	var req legacyTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ScanID != "" {
		sc, err := s.cfg.Orchestrator.TriggerScan(r.Context(), req.ScanID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, scanQueuedResponse{ScanID: sc.ID, Status: scan.StatusQueued})
		return
	}

	if req.Domain == "" {
		writeError(w, http.StatusBadRequest, "scanId or domain is required")
		return
	}
	t, err := s.cfg.Validator.Validate(r.Context(), normalizeDomain(req.Domain))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	if !s.cfg.Limiter.Admit(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, scanerrors.ErrRateLimited.Error())
		return
	}
	sc, err := s.cfg.Orchestrator.CreateScan(r.Context(), t, scan.ParseKind(req.ScanType), "", "")
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scanQueuedResponse{ScanID: sc.ID, Status: sc.Status})
}

// normalizeDomain accepts the legacy bare-domain form and upgrades it to a
// URL for validation.
func normalizeDomain(domain string) string {
	if strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + domain
}

type vaultRequest struct {
	Data       string `json:"data"`
	Passphrase string `json:"passphrase"`
}

type vaultResponse struct {
	Data string `json:"data"`
}

func (s *Server) handleVaultEncrypt(w http.ResponseWriter, r *http.Request) {
	s.handleVault(w, r, vault.Encrypt)
}

func (s *Server) handleVaultDecrypt(w http.ResponseWriter, r *http.Request) {
	s.handleVault(w, r, vault.Decrypt)
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request, op func([]byte, string) ([]byte, error)) {
	r.Body = http.MaxBytesReader(w, r.Body, 16*constants.MaxRequestBody)
	var req vaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "data must be base64-encoded")
		return
	}
	out, err := op(payload, req.Passphrase)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultResponse{Data: base64.StdEncoding.EncodeToString(out)})
}

// --- middleware ---

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Token, X-Org-ID, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		s.cfg.Logger.Info("http_request",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lrw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// withRecover turns a panicking handler into a 500 JSON response instead
// of killing the process.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.requestLogger(r).Error("handler_panic", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// --- helpers ---

// clientIP extracts the caller identity for rate limiting, honoring
// X-Forwarded-For from proxies. Forwarded values are bare addresses;
// RemoteAddr carries a port, which SplitHostPort removes safely for
// both IPv4 and bracketed IPv6.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func callerOrg(r *http.Request) string {
	return r.Header.Get("X-Org-ID")
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return s.cfg.Logger.With(
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

// writeMappedError translates domain errors into the HTTP status taxonomy.
func (s *Server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		s.requestLogger(r).Error("internal_server_error", zap.Error(err))
		msg = "internal server error"
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scanerrors.ErrInvalidURL),
		errors.Is(err, scanerrors.ErrBlockedTarget),
		errors.Is(err, scanerrors.ErrNotAllowlisted),
		errors.Is(err, scanerrors.ErrEmptyPassphrase),
		errors.Is(err, scanerrors.ErrCiphertextFormat),
		errors.Is(err, scanerrors.ErrDecryptFailed):
		return http.StatusBadRequest
	case errors.Is(err, scanerrors.ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, scanerrors.ErrScanNotFound),
		errors.Is(err, scanerrors.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, scanerrors.ErrScanNotCompleted),
		errors.Is(err, scanerrors.ErrNotCancelable),
		errors.Is(err, scanerrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, scanerrors.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
