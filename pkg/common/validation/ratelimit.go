package validation

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter enforces per-IP request limits for the HTTP API. It tracks
// sliding per-minute and per-hour windows, caps concurrent requests, and
// temporarily bans clients that blow well past the limit.
type RateLimiter struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	cleanup *time.Ticker
	done    chan struct{}
	config  RateLimitConfig
}

// RateLimitConfig holds the rate limiting policy.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	MaxConcurrent     int
	CleanupInterval   time.Duration
	BanDuration       time.Duration
}

// DefaultRateLimitConfig returns a policy suitable for a single public
// verification endpoint.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		MaxConcurrent:     5,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       15 * time.Minute,
	}
}

type clientLimiter struct {
	requestsThisMinute int
	requestsThisHour   int
	lastRequest        time.Time
	minuteStart        time.Time
	hourStart          time.Time
	bannedUntil        time.Time
	concurrent         int
}

// NewRateLimiter creates a rate limiter and starts its background cleanup.
// Call Shutdown to stop it.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		done:    make(chan struct{}),
		config:  config,
	}
	rl.cleanup = time.NewTicker(config.CleanupInterval)
	go rl.cleanupLoop()
	return rl
}

// CheckLimit decides whether the request may proceed. On success the caller
// must pair it with ReleaseRequest, typically via defer.
func (rl *RateLimiter) CheckLimit(r *http.Request) error {
	ip := clientIP(r)
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	client, exists := rl.clients[ip]
	if !exists {
		client = &clientLimiter{minuteStart: now, hourStart: now}
		rl.clients[ip] = client
	}

	if now.Before(client.bannedUntil) {
		return fmt.Errorf("client %s is temporarily banned", ip)
	}

	if now.Sub(client.minuteStart) >= time.Minute {
		client.requestsThisMinute = 0
		client.minuteStart = now
	}
	if now.Sub(client.hourStart) >= time.Hour {
		client.requestsThisHour = 0
		client.hourStart = now
	}

	if client.concurrent >= rl.config.MaxConcurrent {
		return fmt.Errorf("too many concurrent requests from %s", ip)
	}

	if client.requestsThisMinute >= rl.config.RequestsPerMinute {
		if client.requestsThisMinute > rl.config.RequestsPerMinute*2 {
			client.bannedUntil = now.Add(rl.config.BanDuration)
		}
		client.requestsThisMinute++
		return fmt.Errorf("rate limit exceeded for %s (requests per minute)", ip)
	}
	if client.requestsThisHour >= rl.config.RequestsPerHour {
		return fmt.Errorf("rate limit exceeded for %s (requests per hour)", ip)
	}

	client.requestsThisMinute++
	client.requestsThisHour++
	client.lastRequest = now
	client.concurrent++
	return nil
}

// ReleaseRequest frees the concurrent slot taken by CheckLimit.
func (rl *RateLimiter) ReleaseRequest(r *http.Request) {
	ip := clientIP(r)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if client, exists := rl.clients[ip]; exists && client.concurrent > 0 {
		client.concurrent--
	}
}

// Middleware wraps a handler with rate limiting, answering 429 when the
// client is over its budget.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rl.CheckLimit(r); err != nil {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		defer rl.ReleaseRequest(r)
		next(w, r)
	}
}

// Shutdown stops the cleanup goroutine.
func (rl *RateLimiter) Shutdown() {
	rl.cleanup.Stop()
	close(rl.done)
}

func (rl *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanup.C:
			rl.cleanupOldClients()
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) cleanupOldClients() {
	cutoff := time.Now().Add(-time.Hour)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, client := range rl.clients {
		if client.concurrent == 0 && client.lastRequest.Before(cutoff) && time.Now().After(client.bannedUntil) {
			delete(rl.clients, ip)
		}
	}
}

// clientIP extracts the originating IP, honoring proxy headers. Only trust
// these headers when the service actually sits behind a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, candidate := range strings.Split(xff, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate != "" && net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
