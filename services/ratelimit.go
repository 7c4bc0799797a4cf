package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

const (
	rateLimitIdleTTL      = 10 * time.Minute
	rateLimitSweepPeriod  = time.Minute
	rateLimitExceededBody = "Rate limit exceeded. Please try again later."
)

// RateRule allows Requests per Window with bursts up to Requests. Rules
// with the same Bucket share one limiter per client.
type RateRule struct {
	Requests int
	Window   time.Duration
	Bucket   string
}

func (r RateRule) limit() rate.Limit {
	return rate.Limit(float64(r.Requests) / r.Window.Seconds())
}

// DefaultPathRules are the stricter limits applied to sensitive routes,
// matched by path suffix.
var DefaultPathRules = map[string]RateRule{
	"/auth/token":              {Requests: 20, Window: time.Minute, Bucket: "login"},
	"/auth/login/access-token": {Requests: 20, Window: time.Minute, Bucket: "login"},
	"/auth/register":           {Requests: 10, Window: time.Hour},
	"/chat/message":            {Requests: 60, Window: time.Minute},
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP and rule.
type RateLimiter struct {
	defaultRule RateRule
	pathRules   map[string]RateRule

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter(cfg RateLimitConfig, pathRules map[string]RateRule) *RateLimiter {
	return &RateLimiter{
		defaultRule: RateRule{Requests: cfg.Requests, Window: cfg.Window},
		pathRules:   pathRules,
		buckets:     make(map[string]*bucket),
		now:         time.Now,
	}
}

func (rl *RateLimiter) ruleFor(path string) (string, RateRule) {
	path = strings.TrimSuffix(path, "/")
	for suffix, rule := range rl.pathRules {
		if strings.HasSuffix(path, suffix) {
			if rule.Bucket != "" {
				return rule.Bucket, rule
			}
			return suffix, rule
		}
	}
	return "default", rl.defaultRule
}

// Allow takes a token for ip on path. When no token is available it returns
// false and how long until one is.
func (rl *RateLimiter) Allow(ip, path string) (bool, time.Duration) {
	name, rule := rl.ruleFor(path)
	key := ip + "|" + name
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rule.limit(), rule.Requests)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, rule.Window
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, retryAfter := rl.Allow(ip, r.URL.Path)
		if !ok {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			slog.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path, "retry_after", seconds)
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, rateLimitExceededBody)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run drops buckets idle for longer than rateLimitIdleTTL until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rateLimitSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := rl.now().Add(-rateLimitIdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// clientIP reads RemoteAddr, which trustedRealIP rewrites for requests
// coming through a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// trustedRealIP applies middleware.RealIP only to requests whose peer is one
// of the trusted proxies. Anyone else could rotate rate limit buckets by
// forging X-Forwarded-For.
func trustedRealIP(proxies []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		forwarded := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := net.ParseIP(clientIP(r)); ip != nil {
				for _, n := range proxies {
					if n.Contains(ip) {
						forwarded.ServeHTTP(w, r)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
