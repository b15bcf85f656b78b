// Package server exposes the storefront HTTP API.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"luminabooks/internal/app"
	"luminabooks/internal/ratelimit"
	"luminabooks/internal/util"
	"luminabooks/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	RedisAddr     string
	RedisPassword string

	SignupRateLimitPerMinute    int
	LoginRateLimitPerMinute     int
	MagicLinkRateLimitPerMinute int
	GenerateRateLimitPerMinute  int

	MaxUploadBytes    int64
	AllowedExtensions []string
	SearchDebounce    time.Duration

	// DistinguishFetchErrors makes a failing detail read answer 502 instead
	// of the 404 used for a missing book.
	DistinguishFetchErrors bool
}

// Server exposes HTTP endpoints for the storefront.
type Server struct {
	app                    *app.App
	mux                    *http.ServeMux
	maxUploadBytes         int64
	allowedExtensions      map[string]struct{}
	searchDebounce         time.Duration
	distinguishFetchErrors bool

	signupLimiter    *ratelimit.FixedWindowLimiter
	loginLimiter     *ratelimit.FixedWindowLimiter
	magicLinkLimiter *ratelimit.FixedWindowLimiter
	generateLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	magicLinkLimit := cfg.MagicLinkRateLimitPerMinute
	if magicLinkLimit <= 0 {
		magicLinkLimit = 5
	}
	generateLimit := cfg.GenerateRateLimitPerMinute
	if generateLimit <= 0 {
		generateLimit = 10
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "lumina:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	magicLinkLimiter, err := newLimiter("magiclink", magicLinkLimit)
	if err != nil {
		return nil, err
	}
	generateLimiter, err := newLimiter("generate", generateLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:                    cfg.App,
		mux:                    http.NewServeMux(),
		maxUploadBytes:         normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions:      normalizeExtensions(cfg.AllowedExtensions),
		searchDebounce:         cfg.SearchDebounce,
		distinguishFetchErrors: cfg.DistinguishFetchErrors,
		signupLimiter:          signupLimiter,
		loginLimiter:           loginLimiter,
		magicLinkLimiter:       magicLinkLimiter,
		generateLimiter:        generateLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// catalog
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/featured", s.handleFeatured)
	s.mux.Handle("/api/books/live", s.liveSearchHandler())
	s.mux.HandleFunc("/api/books/", s.handleBookByID)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))
	s.mux.HandleFunc("/api/auth/magic-link", s.handleMagicLink)
	s.mux.HandleFunc("/api/auth/magic-link/redeem", s.handleMagicLinkRedeem)

	// admin
	s.mux.Handle("/api/admin/books", s.adminOnly(s.handlePublishBook))
	s.mux.Handle("/api/admin/generate/cover", s.adminOnly(s.handleGenerateCover))
	s.mux.Handle("/api/admin/generate/video", s.adminOnly(s.handleGenerateVideo))
	s.mux.Handle("/api/admin/generate/video/", s.adminOnly(s.handleVideoJobStatus))
	s.mux.Handle("/api/admin/drafts/", s.adminOnly(s.handleDraftPreview))

	// everything else answers JSON, not the stdlib HTML 404 page
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".pdf", ".epub", ".txt"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
