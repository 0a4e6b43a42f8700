/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package httpd

import (
	"crypto/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/minio/highwayhash"
)

const (
	rlShardCount = 16

	// idle keys are dropped after this many windows without a request
	rlSweepWindows = 1
)

// KeyFunc extracts the rate limit bucket key from a request.
type KeyFunc func(*http.Request) string

// APIKeyOrAddr buckets by API key when one is presented and by client
// address otherwise.
func APIKeyOrAddr(r *http.Request) string {
	if k := r.Header.Get(HeaderAPIKey); k != `` {
		return k
	}
	return RemoteAddr(r)
}

// ClientAddr buckets purely by client address, the relay's browser surface
// uses this since DSN keys are public.
func ClientAddr(r *http.Request) string {
	return RemoteAddr(r)
}

type rlShard struct {
	mtx  sync.Mutex
	hits map[string][]int64 //unix nanos, oldest first
}

// Limiter is a sliding window rate limiter: each key keeps a queue of
// request timestamps, a request is admitted when fewer than limit
// timestamps remain inside the window after expired ones are evicted.
type Limiter struct {
	limit  int
	window time.Duration
	keyfn  KeyFunc
	hkey   []byte
	shards [rlShardCount]rlShard
	exempt map[string]struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLimiter builds a limiter admitting limit requests per window per key.
// A background sweeper drops idle keys to bound memory, call Stop on
// shutdown to release it.
func NewLimiter(limit int, window time.Duration, keyfn KeyFunc) *Limiter {
	if keyfn == nil {
		keyfn = APIKeyOrAddr
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		keyfn:  keyfn,
		hkey:   make([]byte, 32),
		exempt: map[string]struct{}{`/health`: struct{}{}},
		stopCh: make(chan struct{}),
	}
	rand.Read(l.hkey)
	for i := range l.shards {
		l.shards[i].hits = make(map[string][]int64)
	}
	l.wg.Add(1)
	go l.sweeper()
	return l
}

// Exempt marks request paths that bypass the limiter.
func (l *Limiter) Exempt(paths ...string) {
	for _, p := range paths {
		l.exempt[p] = struct{}{}
	}
}

// Allow records a request for key and reports whether it is admitted. When
// rejected, retryAfter says how long until the oldest timestamp leaves the
// window.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	now := time.Now()
	cutoff := now.Add(-l.window).UnixNano()
	sh := l.shard(key)
	sh.mtx.Lock()
	defer sh.mtx.Unlock()
	q := sh.hits[key]
	var i int
	for i < len(q) && q[i] <= cutoff {
		i++
	}
	q = q[i:]
	if len(q) >= l.limit {
		sh.hits[key] = q
		retryAfter = time.Duration(q[0] - cutoff)
		return
	}
	sh.hits[key] = append(q, now.UnixNano())
	ok = true
	return
}

// Middleware applies the limiter, rejected requests get a 429 with a
// Retry-After hint both as a header and in the body.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := l.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		ok, retryAfter := l.Allow(l.keyfn(r))
		if !ok {
			secs := int64(retryAfter / time.Second)
			if retryAfter%time.Second != 0 {
				secs++
			}
			if secs < 1 {
				secs = 1
			}
			w.Header().Set(`Retry-After`, strconv.FormatInt(secs, 10))
			WriteJSON(w, http.StatusTooManyRequests, struct {
				Detail     string `json:"detail"`
				RetryAfter int64  `json:"retry_after"`
			}{`rate limit exceeded`, secs})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop shuts the sweeper down.
func (l *Limiter) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Limiter) shard(key string) *rlShard {
	h := highwayhash.Sum64([]byte(key), l.hkey)
	return &l.shards[h%rlShardCount]
}

func (l *Limiter) sweeper() {
	defer l.wg.Done()
	tkr := time.NewTicker(l.window * rlSweepWindows)
	defer tkr.Stop()
	for {
		select {
		case <-tkr.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

// sweep drops keys whose newest request has already left the window.
func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-l.window).UnixNano()
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mtx.Lock()
		for k, q := range sh.hits {
			if len(q) == 0 || q[len(q)-1] <= cutoff {
				delete(sh.hits, k)
			}
		}
		sh.mtx.Unlock()
	}
}
