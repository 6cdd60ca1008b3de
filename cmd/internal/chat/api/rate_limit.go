package chatapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const limiterSweepAt = 4096

// sendLimiter is a per-user sliding window over message sends. State is process-local.
type sendLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	events map[string][]time.Time
}

func newSendLimiter(max int, window time.Duration) *sendLimiter {
	return &sendLimiter{max: max, window: window, events: make(map[string][]time.Time)}
}

// allow records an attempt by userID at now. When rejected it returns how long until a slot frees up.
func (l *sendLimiter) allow(userID string, now time.Time) (bool, time.Duration) {
	if l == nil || l.max <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) >= limiterSweepAt {
		l.sweepLocked(now)
	}

	cut := now.Add(-l.window)
	kept := l.events[userID][:0]
	for _, t := range l.events[userID] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.events[userID] = kept
		return false, kept[0].Add(l.window).Sub(now)
	}
	kept = append(kept, now)
	l.events[userID] = kept
	return true, 0
}

// sweepLocked drops users with no events inside the window.
func (l *sendLimiter) sweepLocked(now time.Time) {
	cut := now.Add(-l.window)
	for uid, ts := range l.events {
		if len(ts) == 0 || !ts[len(ts)-1].After(cut) {
			delete(l.events, uid)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many messages")
}
