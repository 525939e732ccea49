// Copyright 2026 The Actor Engine Authors
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

package gateway

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ipCacheCapacity bounds the rate-limiter's per-IP LRU cache. The
// in-flight counter (InFlightTracker.counts) is a plain map with no
// capacity bound; it drops an IP's entry when its count returns to zero.
const ipCacheCapacity = 10_000

// RateLimitParams are a route's token-bucket parameters; a Resolver may
// vary these per route, per spec.md §4.6 ("default params come from the
// route").
type RateLimitParams struct {
	RatePerSecond float64
	Burst         int
}

// DefaultRateLimitParams is used for routes that don't set their own.
var DefaultRateLimitParams = RateLimitParams{RatePerSecond: 100, Burst: 200}

// RateLimiter enforces a token-bucket limit per client IP, evicting the
// least-recently-used IP's bucket once the cache is full rather than
// growing without bound.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
	params  RateLimitParams
}

// NewRateLimiter constructs a rate limiter using params for every bucket it
// creates lazily on first sight of an IP.
func NewRateLimiter(params RateLimitParams) *RateLimiter {
	cache, err := lru.New[string, *rate.Limiter](ipCacheCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// ipCacheCapacity never is.
		panic(err)
	}
	return &RateLimiter{buckets: cache, params: params}
}

// Allow reports whether clientIP may proceed now, consuming one token from
// its bucket if so.
func (l *RateLimiter) Allow(clientIP string) bool {
	return l.bucketFor(clientIP).Allow()
}

func (l *RateLimiter) bucketFor(clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets.Get(clientIP); ok {
		return b
	}
	b := rate.NewLimiter(rate.Limit(l.params.RatePerSecond), l.params.Burst)
	l.buckets.Add(clientIP, b)
	return b
}
