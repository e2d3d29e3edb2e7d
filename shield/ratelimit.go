package shield

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the rate limit for a single endpoint.
type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int
	Enabled       bool
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

type rule struct {
	method string
	suffix string
	cfg    RateLimitConfig
}

// RateLimiter provides per-IP, per-endpoint rate limiting backed by the
// rate_limits table (see Schema). Rules are read on Reload and expired buckets
// are garbage collected by StartGC.
type RateLimiter struct {
	db      *sql.DB
	rules   []rule
	buckets sync.Map
	mu      sync.RWMutex
	exclude []string
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter that reads rules from db. Paths with
// one of excludePrefixes are never limited.
func NewRateLimiter(db *sql.DB, excludePrefixes ...string) *RateLimiter {
	rl := &RateLimiter{
		db:      db,
		exclude: excludePrefixes,
		now:     time.Now,
	}
	if err := rl.Reload(); err != nil {
		slog.Warn("ratelimit: initial load failed", "error", err)
	}
	return rl
}

// StartGC collects expired buckets every 5min until done is closed. Rule
// reloads are driven by the caller (see Reload).
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

// Reload reads the rules table. On error the previous rules stay in place.
func (rl *RateLimiter) Reload() error {
	rows, err := rl.db.Query(`SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		return fmt.Errorf("ratelimit: reload rules: %w", err)
	}
	defer rows.Close()

	var rules []rule
	for rows.Next() {
		var endpoint string
		var cfg RateLimitConfig
		var enabled int
		if err := rows.Scan(&endpoint, &cfg.MaxRequests, &cfg.WindowSeconds, &enabled); err != nil {
			return fmt.Errorf("ratelimit: scan rule: %w", err)
		}
		method, suffix, ok := strings.Cut(endpoint, " ")
		if !ok {
			slog.Warn("ratelimit: skipping malformed rule", "endpoint", endpoint)
			continue
		}
		cfg.Enabled = enabled == 1
		rules = append(rules, rule{method: method, suffix: suffix, cfg: cfg})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ratelimit: read rules: %w", err)
	}

	rl.mu.Lock()
	rl.rules = rules
	rl.mu.Unlock()

	slog.Debug("ratelimit: rules reloaded", "count", len(rules))
	return nil
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) match(method, path string) (string, RateLimitConfig, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	for _, r := range rl.rules {
		if r.method == method && strings.HasSuffix(path, r.suffix) {
			return r.method + " " + r.suffix, r.cfg, true
		}
	}
	return "", RateLimitConfig{}, false
}

func (rl *RateLimiter) allow(ip, method, path string) (bool, int) {
	endpoint, cfg, ok := rl.match(method, path)
	if !ok || !cfg.Enabled {
		return true, 0
	}

	window := time.Duration(cfg.WindowSeconds) * time.Second
	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+":"+endpoint, &bucket{resetAt: now.Add(window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(window)
	}
	b.count++
	return b.count <= cfg.MaxRequests, cfg.WindowSeconds
}

// Middleware enforces the limits with a 429 JSON response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := ExtractIP(r)
		ok, window := rl.allow(ip, r.Method, r.URL.Path)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "path", r.URL.Path)

		w.Header().Set("Retry-After", strconv.Itoa(window))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
