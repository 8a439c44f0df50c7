// Package server implements the gateway HTTP API.
package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/osouza/fiscalgate/internal/api"
	"github.com/osouza/fiscalgate/internal/auth"
	"github.com/osouza/fiscalgate/internal/batch"
	"github.com/osouza/fiscalgate/internal/cache"
	"github.com/osouza/fiscalgate/internal/config"
	"github.com/osouza/fiscalgate/internal/db"
	"github.com/osouza/fiscalgate/internal/errs"
	"github.com/osouza/fiscalgate/internal/logging"
	"github.com/osouza/fiscalgate/internal/models"
	"github.com/osouza/fiscalgate/internal/ratelimit"
	"github.com/osouza/fiscalgate/internal/status"
	"github.com/osouza/fiscalgate/internal/upstream"
	"go.uber.org/zap"
)

const (
	serviceName    = "fiscalgate"
	serviceVersion = "1.0.0"

	clientsCacheTTL = 15 * time.Minute
)

type contextKey string

const principalContextKey contextKey = "principal"

// principalHolder is allocated once per request before dispatch and
// filled by AuthMiddleware. The authenticated identity is resolved on a
// derived request deeper in the chain; the shared holder lets the outer
// audit middleware read it after the handler returns.
type principalHolder struct {
	principal *auth.Principal
}

func getPrincipal(r *http.Request) *auth.Principal {
	if h, ok := r.Context().Value(principalContextKey).(*principalHolder); ok {
		return h.principal
	}
	return nil
}

// APIServer handles the gateway REST API.
type APIServer struct {
	DB       *sql.DB // optional; nil disables the upload log
	Store    cache.Store
	Auth     *auth.Manager
	Upstream *upstream.Client
	Batch    *batch.Processor
	Status   *status.Tracker
	Limiter  *ratelimit.Limiter
	Config   config.Config
	Logger   *zap.Logger
}

// Handler returns the HTTP handler with the full middleware chain.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /docs", s.handleDocs)
	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/clients", s.handleListClients)
	protected.HandleFunc("POST /api/clients", s.handleToggleClient)
	protected.HandleFunc("POST /api/documents/upload", s.handleUpload)
	protected.HandleFunc("POST /api/documents/batch", s.handleBatch)
	protected.HandleFunc("GET /api/documents", s.handleListDocuments)
	protected.HandleFunc("GET /api/status/{protocolId}", s.handleStatus)
	protected.HandleFunc("GET /api/integration", s.handleIntegrationInfo)
	// Unmatched paths and methods under /api/ get the JSON envelope,
	// not the mux's plain-text 404/405.
	protected.HandleFunc("/api/", s.handleNotFound)
	mux.Handle("/api/", s.AuthMiddleware(protected))

	mux.HandleFunc("/", s.handleNotFound)

	return s.CORSMiddleware(s.RequestLogMiddleware(s.RateLimitMiddleware(mux)))
}

// CORSMiddleware injects permissive CORS headers and answers preflight
// requests directly.
func (s *APIServer) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogMiddleware logs every request and, when the upload log is
// configured, records it in the audit table.
func (s *APIServer) RequestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		holder := &principalHolder{}
		r = r.WithContext(context.WithValue(r.Context(), principalContextKey, holder))

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		s.Logger.Info("request",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.StatusCode(rec.status),
			logging.RemoteIP(clientIdentity(r)),
			zap.Duration("duration", duration))

		if s.DB != nil {
			subject := ""
			if holder.principal != nil {
				subject = holder.principal.SubjectID
			}
			err := db.InsertRequestLog(s.DB, &models.RequestLog{
				OccurredAt: start.Unix(),
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: rec.status,
				DurationMs: duration.Milliseconds(),
				RemoteIP:   clientIdentity(r),
				Subject:    subject,
			})
			if err != nil {
				s.Logger.Warn("request audit insert failed", zap.Error(err))
			}
		}
	})
}

// RateLimitMiddleware enforces the fixed-window quota per client
// identity. Health probes are exempt.
func (s *APIServer) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		identity := clientIdentity(r)
		decision := s.Limiter.CheckAndConsume(r.Context(), identity, s.Config.RateLimit, s.Config.RateWindowSeconds)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.Config.RateLimit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			writeError(w, errs.New(errs.RateLimited, "too many requests"), map[string]any{
				"limit": s.Config.RateLimit,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware resolves the request credentials into a Principal.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		h, ok := r.Context().Value(principalContextKey).(*principalHolder)
		if !ok {
			h = &principalHolder{}
			r = r.WithContext(context.WithValue(r.Context(), principalContextKey, h))
		}
		h.principal = principal
		next.ServeHTTP(w, r)
	})
}

// clientIdentity picks the rate-limit identity: first X-Forwarded-For
// hop when present, otherwise the peer address.
func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// writeError renders the failure envelope for an error, mapping its
// kind to an HTTP status. Wrapped detail stays out of the response.
func writeError(w http.ResponseWriter, err error, context map[string]any) {
	kind := errs.KindOf(err)
	message := ""
	var e *errs.Error
	if errors.As(err, &e) {
		message = e.Message
	}
	writeJSON(w, errs.HTTPStatus(kind), api.ErrorResponse{
		Error:   kind.String(),
		Message: message,
		Context: context,
	})
}
