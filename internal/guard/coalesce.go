package guard

import (
	"sync"
	"time"
)

// DefaultCoalesceWindow bounds how long a flush may lag behind the in-memory
// state when rapid updates hit the same entity.
const DefaultCoalesceWindow = 50 * time.Millisecond

// Coalescer batches repeated writes to the same key: the first schedule for a
// key opens the window, later schedules within it replace the pending
// function, and when the window closes the latest function runs once. The
// window is not extended by later arrivals, so a continuous stream of updates
// still flushes every window.
type Coalescer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingFlush
	wg      sync.WaitGroup
	closed  bool
}

type pendingFlush struct {
	timer *time.Timer
	fn    func()
}

func NewCoalescer(window time.Duration) *Coalescer {
	return &Coalescer{
		window:  window,
		pending: make(map[string]*pendingFlush),
	}
}

// Schedule registers fn as the flush for key. With a zero window fn runs
// synchronously.
func (c *Coalescer) Schedule(key string, fn func()) {
	if c.window <= 0 {
		fn()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	if p, ok := c.pending[key]; ok {
		p.fn = fn
		c.mu.Unlock()
		return
	}
	p := &pendingFlush{fn: fn}
	c.pending[key] = p
	c.wg.Add(1)
	p.timer = time.AfterFunc(c.window, func() {
		c.fire(key)
	})
	c.mu.Unlock()
}

func (c *Coalescer) fire(key string) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.fn()
	c.wg.Done()
}

// Flush runs any pending write for key immediately. Callers use it before
// deletes so the delete never races a delayed write.
func (c *Coalescer) Flush(key string) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
		p.timer.Stop()
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.fn()
	c.wg.Done()
}

// Cancel drops any pending write for key without running it.
func (c *Coalescer) Cancel(key string) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
		p.timer.Stop()
	}
	c.mu.Unlock()
	if ok {
		c.wg.Done()
	}
}

// FlushAll runs every pending write immediately.
func (c *Coalescer) FlushAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.Flush(k)
	}
}

// Close flushes everything still pending and waits for in-flight flushes.
// Schedules after Close run synchronously.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.FlushAll()
	c.wg.Wait()
}
