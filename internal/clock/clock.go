// Package clock abstracts the one-second tickers that drive the recorder and
// SOS countdown so tests can advance time by hand.
package clock

import (
	"sync"
	"time"
)

// Ticker is a periodic callback. Stop is idempotent.
type Ticker interface {
	Stop()
}

type Clock interface {
	Now() time.Time
	Every(d time.Duration, fn func()) Ticker
}

// Real is the wall clock. Callbacks run on a dedicated goroutine per ticker.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Every(d time.Duration, fn func()) Ticker {
	t := &realTicker{t: time.NewTicker(d), done: make(chan struct{})}
	go t.run(fn)
	return t
}

type realTicker struct {
	t    *time.Ticker
	done chan struct{}
	once sync.Once
}

func (r *realTicker) run(fn func()) {
	defer r.t.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-r.t.C:
			select {
			case <-r.done:
				return
			default:
			}
			fn()
		}
	}
}

func (r *realTicker) Stop() {
	r.once.Do(func() { close(r.done) })
}

// Fake is a manually advanced clock. Callbacks run synchronously inside
// Advance, in time order, so a test observes their effects as soon as
// Advance returns.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Every(d time.Duration, fn func()) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{clock: f, period: d, next: f.now.Add(d), fn: fn}
	f.tickers = append(f.tickers, t)
	return t
}

// Active reports how many tickers are live.
func (f *Fake) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Advance moves the clock forward by d, firing every due tick.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var due *fakeTicker
		for _, t := range f.tickers {
			if !t.next.After(target) && (due == nil || t.next.Before(due.next)) {
				due = t
			}
		}
		if due == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = due.next
		due.next = due.next.Add(due.period)
		fn := due.fn
		f.mu.Unlock()

		fn()
	}
}

func (f *Fake) remove(t *fakeTicker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, candidate := range f.tickers {
		if candidate == t {
			f.tickers = append(f.tickers[:i], f.tickers[i+1:]...)
			return
		}
	}
}

type fakeTicker struct {
	clock  *Fake
	period time.Duration
	next   time.Time
	fn     func()
}

func (t *fakeTicker) Stop() {
	t.clock.remove(t)
}
