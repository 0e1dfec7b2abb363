// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies a per-client token bucket keyed by remote address.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// PerMinute is the sustained request budget per client; zero disables
	// limiting.
	PerMinute int

	// Burst is the bucket capacity; defaults to PerMinute/6, minimum 5.
	Burst int
}

// NewRateLimiter builds a limiter allowing perMinute sustained requests.
func NewRateLimiter(perMinute int) *RateLimiter {
	burst := perMinute / 6
	if burst < 5 {
		burst = 5
	}
	return &RateLimiter{
		limiters:  map[string]*rate.Limiter{},
		PerMinute: perMinute,
		Burst:     burst,
	}
}

// Allow reports whether one more request from client fits the budget.
func (rl *RateLimiter) Allow(client string) bool {
	if rl == nil || rl.PerMinute <= 0 {
		return true
	}
	rl.mu.Lock()
	limiter, ok := rl.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(rl.PerMinute)/60.0), rl.Burst)
		rl.limiters[client] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// Middleware rejects over-budget requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if !rl.Allow(client) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
