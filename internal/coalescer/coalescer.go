// Package coalescer implements the per-session message debouncer: rapid
// successive arrivals on one session are buffered and joined into a
// single emitted message once the session goes quiet for debounceMs.
package coalescer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Emit is called once a session's debounce window fires. text is the
// buffered lines joined by newline, in arrival order.
type Emit func(sessionID string, text string)

// Coalescer buffers per-session text and fires Emit after a quiet
// window. The window is hot-reloadable via SetWindow.
type Coalescer struct {
	mu      sync.Mutex
	pending map[string]*sessionBuffer
	emit    Emit

	windowMs int64 // atomic
}

type sessionBuffer struct {
	lines []string
	timer *time.Timer
}

// New builds a Coalescer with an initial debounce window. emit is
// called from the timer's own goroutine, never from Add.
func New(windowMs int64, emit Emit) *Coalescer {
	if windowMs <= 0 {
		windowMs = 1
	}
	c := &Coalescer{
		pending: make(map[string]*sessionBuffer),
		emit:    emit,
	}
	atomic.StoreInt64(&c.windowMs, windowMs)
	return c
}

// SetWindow hot-reloads the debounce window. Already-running timers keep
// their original deadline; only timers started after this call use the
// new window.
func (c *Coalescer) SetWindow(windowMs int64) {
	if windowMs <= 0 {
		windowMs = 1
	}
	atomic.StoreInt64(&c.windowMs, windowMs)
}

func (c *Coalescer) window() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.windowMs)) * time.Millisecond
}

// Add appends text to sessionID's buffer and (re)starts its debounce
// timer. Each call to Add on the same session resets the timer, so a
// burst of arrivals only fires once the session goes quiet.
func (c *Coalescer) Add(sessionID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, ok := c.pending[sessionID]
	if !ok {
		buf = &sessionBuffer{}
		c.pending[sessionID] = buf
	}
	buf.lines = append(buf.lines, text)

	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(c.window(), func() { c.fire(sessionID) })
}

// Flush immediately fires sessionID's buffer, if any, bypassing the
// timer.
func (c *Coalescer) Flush(sessionID string) {
	c.mu.Lock()
	buf, ok := c.pending[sessionID]
	if ok && buf.timer != nil {
		buf.timer.Stop()
	}
	delete(c.pending, sessionID)
	c.mu.Unlock()

	if ok && len(buf.lines) > 0 {
		c.emit(sessionID, joinLines(buf.lines))
	}
}

func (c *Coalescer) fire(sessionID string) {
	c.mu.Lock()
	buf, ok := c.pending[sessionID]
	delete(c.pending, sessionID)
	c.mu.Unlock()

	if !ok || len(buf.lines) == 0 {
		return
	}
	c.emit(sessionID, joinLines(buf.lines))
}

func joinLines(lines []string) string {
	if len(lines) == 1 {
		return lines[0]
	}
	total := len(lines) - 1
	for _, l := range lines {
		total += len(l)
	}
	out := make([]byte, 0, total)
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return string(out)
}
