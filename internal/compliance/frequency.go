package compliance

import (
	"sync"
	"time"
)

const defaultRetention = 24 * time.Hour

// Metrics is a recomputed-on-demand view of one account's order flow
// inside a window. Never mutated in place.
type Metrics struct {
	Account      string
	Window       time.Duration
	OrderCount   int
	CancelCount  int
	OrdersPerSec float64
	DayOrders    int64
}

// timeDeque is a bounded sliding-window buffer of timestamps. Append
// is O(1) amortized; eviction happens lazily on read so the hot path
// never scans history.
type timeDeque struct {
	buf  []time.Time
	head int
}

func (d *timeDeque) push(t time.Time) {
	d.buf = append(d.buf, t)
}

// evict drops entries older than cutoff and compacts the backing
// slice once the dead prefix dominates it.
func (d *timeDeque) evict(cutoff time.Time) {
	for d.head < len(d.buf) && d.buf[d.head].Before(cutoff) {
		d.head++
	}
	if d.head > len(d.buf)/2 && d.head > 1024 {
		d.buf = append(d.buf[:0], d.buf[d.head:]...)
		d.head = 0
	}
}

// countSince counts entries at or after cutoff, scanning only the live
// window, never total history.
func (d *timeDeque) countSince(cutoff time.Time) int {
	// live region is sorted; binary search the boundary
	lo, hi := d.head, len(d.buf)
	for lo < hi {
		mid := (lo + hi) / 2
		if d.buf[mid].Before(cutoff) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return len(d.buf) - lo
}

type accountWindow struct {
	mu      sync.Mutex
	orders  timeDeque
	cancels timeDeque

	day       int
	dayOrders int64
}

// FrequencyTracker maintains per-account sliding windows of order and
// cancel timestamps plus a per-day order counter for the daily
// regulatory limit.
type FrequencyTracker struct {
	mu        sync.RWMutex
	accounts  map[string]*accountWindow
	retention time.Duration
}

// NewFrequencyTracker creates a tracker. retention bounds how much
// history the windows keep; zero means 24h.
func NewFrequencyTracker(retention time.Duration) *FrequencyTracker {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &FrequencyTracker{
		accounts:  make(map[string]*accountWindow),
		retention: retention,
	}
}

func (f *FrequencyTracker) window(account string) *accountWindow {
	f.mu.RLock()
	w, ok := f.accounts[account]
	f.mu.RUnlock()
	if ok {
		return w
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok = f.accounts[account]; ok {
		return w
	}
	w = &accountWindow{day: -1}
	f.accounts[account] = w
	return w
}

// RecordOrder registers one order submission. Hot path: one lock, one
// append.
func (f *FrequencyTracker) RecordOrder(account string, t time.Time) {
	w := f.window(account)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.orders.push(t)
	if day := t.YearDay(); day != w.day {
		w.day = day
		w.dayOrders = 0
	}
	w.dayOrders++
}

// RecordCancel registers one cancel request.
func (f *FrequencyTracker) RecordCancel(account string, t time.Time) {
	w := f.window(account)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels.push(t)
}

// Frequency recomputes counts and rate over the trailing window ending
// at now. Entries older than the retention horizon are evicted under
// the same lock.
func (f *FrequencyTracker) Frequency(account string, window time.Duration, now time.Time) Metrics {
	w := f.window(account)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.orders.evict(now.Add(-f.retention))
	w.cancels.evict(now.Add(-f.retention))

	cutoff := now.Add(-window)
	m := Metrics{
		Account:     account,
		Window:      window,
		OrderCount:  w.orders.countSince(cutoff),
		CancelCount: w.cancels.countSince(cutoff),
	}
	if now.YearDay() == w.day {
		m.DayOrders = w.dayOrders
	}
	if sec := window.Seconds(); sec > 0 {
		m.OrdersPerSec = float64(m.OrderCount) / sec
	}
	return m
}
