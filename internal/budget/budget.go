// Package budget tracks token and turn consumption against configured
// ceilings, callable from synchronous hot paths (an LLM turn hook). The
// daily token counter is atomic; per-session turn counts and the
// configured limits are guarded by mutexes.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDailyTokenLimit and ErrTurnLimit are the sentinels CheckAndRecordTokens
// and CheckTurn wrap their returned errors around, so callers can tell a
// budget ceiling apart from any other turn failure with errors.Is rather
// than string-matching the message.
var (
	ErrDailyTokenLimit = errors.New("daily token quota exceeded")
	ErrTurnLimit       = errors.New("session turn quota exceeded")
)

// IsLimitExceeded reports whether err originated from a budget ceiling
// check, for callers that need to audit and reply to a quota rejection
// distinctly from other turn failures.
func IsLimitExceeded(err error) bool {
	return errors.Is(err, ErrDailyTokenLimit) || errors.Is(err, ErrTurnLimit)
}

// Tracker enforces a daily token ceiling (UTC day rollover) and a
// per-session turn ceiling. The daily token counter and its day stamp are
// atomics; per-session turn counts live in a map guarded by sessionMu, and
// the configured limits are read under mu, which Reload takes for writing.
type Tracker struct {
	dailyTokensUsed int64 // atomic
	dayStamp        int64 // atomic, days since epoch for the current counter window

	mu                 sync.RWMutex
	maxTokensPerDay    int64
	maxTurnsPerSession int

	sessionMu sync.Mutex
	turns     map[string]int64
}

// New creates a Tracker with the given daily token ceiling and
// per-session turn ceiling. A zero value for either disables that check.
func New(maxTokensPerDay int64, maxTurnsPerSession int) *Tracker {
	return &Tracker{
		maxTokensPerDay:    maxTokensPerDay,
		maxTurnsPerSession: maxTurnsPerSession,
		turns:              make(map[string]int64),
	}
}

// Reload swaps the configured ceilings, per spec.md §9's hot-reload
// boundary (budget limits are operational, not structural).
func (t *Tracker) Reload(maxTokensPerDay int64, maxTurnsPerSession int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxTokensPerDay = maxTokensPerDay
	t.maxTurnsPerSession = maxTurnsPerSession
}

// CheckAndRecordTokens records usage tokens against today's counter and
// returns an error if doing so would exceed the daily ceiling. Recording
// happens regardless of the outcome: token spend already happened at the
// provider, the ceiling only blocks the *next* call.
func (t *Tracker) CheckAndRecordTokens(tokens int64) error {
	t.rolloverIfNewDay()

	t.mu.RLock()
	limit := t.maxTokensPerDay
	t.mu.RUnlock()

	newTotal := atomic.AddInt64(&t.dailyTokensUsed, tokens)
	if limit > 0 && newTotal > limit {
		return fmt.Errorf("%w (%d/%d)", ErrDailyTokenLimit, newTotal, limit)
	}
	return nil
}

// CheckTurn increments a session's turn counter and returns an error if
// doing so would exceed the per-session turn ceiling.
func (t *Tracker) CheckTurn(sessionID string) error {
	t.mu.RLock()
	limit := t.maxTurnsPerSession
	t.mu.RUnlock()
	if limit <= 0 {
		return nil
	}

	t.sessionMu.Lock()
	t.turns[sessionID]++
	count := t.turns[sessionID]
	t.sessionMu.Unlock()

	if count > int64(limit) {
		return fmt.Errorf("%w (%d/%d)", ErrTurnLimit, count, limit)
	}
	return nil
}

// ResetSession clears a session's turn counter.
func (t *Tracker) ResetSession(sessionID string) {
	t.sessionMu.Lock()
	delete(t.turns, sessionID)
	t.sessionMu.Unlock()
}

// DailyTokensUsed reports today's running total, for admin/debug surfaces.
func (t *Tracker) DailyTokensUsed() int64 {
	t.rolloverIfNewDay()
	return atomic.LoadInt64(&t.dailyTokensUsed)
}

// DailyTokenLimit reports the configured daily ceiling, 0 meaning unlimited,
// for admin/debug surfaces that want to render used/limit together.
func (t *Tracker) DailyTokenLimit() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxTokensPerDay
}

func (t *Tracker) rolloverIfNewDay() {
	today := daysSinceEpoch(time.Now().UTC())
	prev := atomic.SwapInt64(&t.dayStamp, today)
	if prev != today {
		// A day boundary crossed (or this is the first call ever). Either
		// way the counter for "today" should start from zero; a second
		// concurrent rollover racing here just re-zeroes to the same value.
		if prev != 0 {
			atomic.StoreInt64(&t.dailyTokensUsed, 0)
		}
	}
}

func daysSinceEpoch(t time.Time) int64 {
	return t.Unix() / 86400
}
