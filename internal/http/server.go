// Package http is the JSON API over the registry, the ledger and the
// report engine. Identity arrives via trusted proxy headers; this layer
// only enforces the member/treasurer capability split.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"kitty/internal/auth"
	"kitty/internal/cache"
	"kitty/internal/core"
	"kitty/internal/registry"
	"kitty/internal/report"
	"kitty/internal/services"
)

type Server struct {
	http.Server

	registry      *registry.Service
	contributions *services.ContributionService
	reports       *report.Engine
	guard         auth.Guard

	rateLimiter *rateLimiter

	// Report results are cached per (group, cycle) and flushed for the
	// whole group whenever a contribution lands in it.
	totalsCache  *cache.LRU[core.GroupTotal]
	arrearsCache *cache.LRU[[]core.ArrearsEntry]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and caches, returning a ready-to-run server.
func NewServer(addr string, reg *registry.Service, contributions *services.ContributionService, reports *report.Engine) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		registry:      reg,
		contributions: contributions,
		reports:       reports,
		rateLimiter:   newRateLimiter(),
		totalsCache:   cache.NewLRU[core.GroupTotal](200, 5*time.Minute),
		arrearsCache:  cache.NewLRU[[]core.ArrearsEntry](200, 5*time.Minute),
		cacheManager:  cache.NewManager(),
	}
	s.cacheManager.Register(s.totalsCache)
	s.cacheManager.Register(s.arrearsCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /groups", s.withSecurityHeaders(s.handleCreateGroup))
	mux.HandleFunc("GET /groups/{id}", s.withSecurityHeaders(s.handleGetGroup))
	mux.HandleFunc("POST /groups/{id}/cycles", s.withSecurityHeaders(s.handleAddCycle))
	mux.HandleFunc("GET /groups/{id}/cycles", s.withSecurityHeaders(s.handleListCycles))
	mux.HandleFunc("POST /groups/{id}/members", s.withSecurityHeaders(s.handleRegisterMember))
	mux.HandleFunc("GET /groups/{id}/members", s.withSecurityHeaders(s.handleListMembers))
	mux.HandleFunc("GET /groups/{id}/total", s.withSecurityHeaders(s.handleGroupTotal))
	mux.HandleFunc("GET /groups/{id}/arrears", s.withSecurityHeaders(s.handleArrearsReport))

	mux.HandleFunc("GET /members/{id}", s.withSecurityHeaders(s.handleGetMember))
	mux.HandleFunc("DELETE /members/{id}", s.withSecurityHeaders(s.handleDeactivateMember))
	mux.HandleFunc("GET /members/{id}/balance", s.withSecurityHeaders(s.handleMemberBalance))

	mux.HandleFunc("POST /contributions", s.withSecurityHeaders(s.handleRecordContribution))
	mux.HandleFunc("GET /contributions", s.withSecurityHeaders(s.handleListContributions))

	return s
}

// Shutdown stops the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Simple in-memory rate limiter, per client IP. 60 writes per minute.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	client.requests++
	client.lastRequest = now
	return client.requests <= 60
}

// withSecurityHeaders adds security headers, write rate limiting and
// request logging.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func reportCacheKey(groupID, cycleID string) string {
	return groupID + ":" + cycleID
}

// invalidateGroupReports flushes every cached report for a group. Called
// after each contribution write so reads never serve stale figures for
// longer than a request.
func (s *Server) invalidateGroupReports(groupID string) {
	s.totalsCache.DeletePrefix(groupID + ":")
	s.arrearsCache.DeletePrefix(groupID + ":")
}
