package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
)

// claimsKey carries the caller's *JWTClaims in the request context
type claimsKey struct{}

// devClaims identify every caller when authentication is switched off
var devClaims = &JWTClaims{ClientID: "dev-client"}

var errMissingToken = errors.New("missing bearer token")

// Middleware wraps handlers with authentication, access logging and
// panic recovery
type Middleware struct {
	jwtAuth *JWTAuth
	noAuth  bool
	logger  *slog.Logger
	metrics *metrics.HTTPMetrics
}

// NewMiddleware creates the middleware chain. With noAuth set, ordinary
// endpoints accept anonymous callers; admin endpoints still need a token.
func NewMiddleware(jwtAuth *JWTAuth, noAuth bool, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		jwtAuth: jwtAuth,
		noAuth:  noAuth,
		logger:  logger,
	}
}

// authenticate verifies the bearer token on r
func (m *Middleware) authenticate(r *http.Request) (*JWTClaims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errMissingToken
	}
	return m.jwtAuth.ValidateToken(header)
}

// AuthRequired rejects callers without a valid token unless noAuth is set
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := devClaims
		if !m.noAuth {
			var err error
			if claims, err = m.authenticate(r); err != nil {
				writeError(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

// AdminRequired admits only admin tokens, whatever the noAuth setting
func (m *Middleware) AdminRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authenticate(r)
		switch {
		case err != nil:
			writeError(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		case !claims.IsAdmin:
			writeError(w, "Client "+claims.ClientID+" is not an administrator", http.StatusForbidden)
		default:
			next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		}
	}
}

// CORS lets browser dashboards call the API from any origin
func (m *Middleware) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID")
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// ContentType marks the response as JSON
func (m *Middleware) ContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

// statusRecorder remembers the response status for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the flusher underneath
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Logging records each request's status and latency once it completes
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(began)
		m.metrics.Observe(r.Method, status, elapsed.Seconds())
		m.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", elapsed)
	}
}

// Recovery turns a handler panic into a 500 response
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				m.logger.Error("Handler panicked", "path", r.URL.Path, "panic", p)
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// GetClaims returns the claims of the authenticated caller, or nil
func GetClaims(r *http.Request) *JWTClaims {
	claims, _ := r.Context().Value(claimsKey{}).(*JWTClaims)
	return claims
}

// GetClientID returns the authenticated caller's client ID
func GetClientID(r *http.Request) string {
	if claims := GetClaims(r); claims != nil {
		return claims.ClientID
	}
	return ""
}

// IsAdmin reports whether the caller holds an admin token
func IsAdmin(r *http.Request) bool {
	claims := GetClaims(r)
	return claims != nil && claims.IsAdmin
}
