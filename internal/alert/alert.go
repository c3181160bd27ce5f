// Package alert implements the SOS countdown: a press arms a cancelable
// countdown that, on expiry, notifies the trusted contacts once.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/knowyourrights/knowyourrights/internal/clock"
	"github.com/knowyourrights/knowyourrights/internal/location"
	"github.com/knowyourrights/knowyourrights/internal/profile"
)

const DefaultCountdown = 3

const notifyTimeout = 10 * time.Second

type Status string

const (
	StatusIdle         Status = "idle"
	StatusCountingDown Status = "counting-down"
	StatusFired        Status = "fired"
)

var (
	ErrNoContacts = errors.New("no trusted contacts configured")
	ErrClosed     = errors.New("alert controller closed")
)

// Alert is the one-shot event emitted when a countdown completes.
type Alert struct {
	Contacts []profile.TrustedContact
	Location string
	FiredAt  time.Time
}

type Snapshot struct {
	Status       Status `json:"status"`
	Remaining    int    `json:"remaining"`
	Location     string `json:"location,omitempty"`
	Enabled      bool   `json:"enabled"`
	TickerActive bool   `json:"-"`
}

type EventType string

const (
	EventCountdown EventType = "countdown"
	EventCanceled  EventType = "canceled"
	EventFired     EventType = "fired"
	EventReset     EventType = "reset"
)

type Event struct {
	Type     EventType
	Snapshot Snapshot
}

type ContactSource interface {
	Contacts() []profile.TrustedContact
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithCountdown(seconds int) Option {
	return func(ctl *Controller) {
		if seconds > 0 {
			ctl.countdown = seconds
		}
	}
}

func WithLocator(l location.Locator) Option {
	return func(ctl *Controller) { ctl.locator = l }
}

// OnEvent observes every state change, including each countdown tick.
func OnEvent(fn func(Event)) Option {
	return func(ctl *Controller) { ctl.onEvent = fn }
}

type Controller struct {
	contacts  ContactSource
	notifier  Notifier
	locator   location.Locator
	clock     clock.Clock
	countdown int
	onEvent   func(Event)

	mu        sync.Mutex
	status    Status
	remaining int
	location  string
	armed     []profile.TrustedContact
	ticker    clock.Ticker
	gen       uint64
	locating  bool
	closed    bool
}

func NewController(contacts ContactSource, notifier Notifier, opts ...Option) *Controller {
	c := &Controller{
		contacts:  contacts,
		notifier:  notifier,
		clock:     clock.Real{},
		countdown: DefaultCountdown,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Press arms the countdown, or cancels it when one is already running.
// With no contacts configured Press does nothing and returns ErrNoContacts.
func (c *Controller) Press(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.status == StatusCountingDown || c.locating {
		snap := c.cancelLocked()
		c.mu.Unlock()
		slog.Info("alert: countdown canceled")
		c.emit(EventCanceled, snap)
		return snap, nil
	}

	contacts := c.contacts.Contacts()
	if len(contacts) == 0 {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrNoContacts
	}
	c.locating = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	loc := location.Describe(ctx, c.locator)

	c.mu.Lock()
	if c.gen != gen || c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	c.locating = false
	c.status = StatusCountingDown
	c.remaining = c.countdown
	c.location = loc
	c.armed = contacts
	c.ticker = c.clock.Every(time.Second, func() { c.tick(gen) })
	snap := c.snapshotLocked()
	c.mu.Unlock()

	slog.Info("alert: countdown started", "seconds", snap.Remaining, "contacts", len(contacts))
	c.emit(EventCountdown, snap)
	return snap, nil
}

// Cancel stops a running countdown. It reports whether anything was
// canceled and is safe to call at any time.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if c.status != StatusCountingDown && !c.locating {
		c.mu.Unlock()
		return false
	}
	snap := c.cancelLocked()
	c.mu.Unlock()

	slog.Info("alert: countdown canceled")
	c.emit(EventCanceled, snap)
	return true
}

// Close cancels any countdown and rejects further presses.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.status == StatusCountingDown || c.locating {
		c.cancelLocked()
	}
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusCountingDown {
		c.mu.Unlock()
		return
	}
	c.remaining--
	if c.remaining > 0 {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(EventCountdown, snap)
		return
	}

	c.stopTickerLocked()
	c.status = StatusFired
	alert := Alert{Contacts: c.armed, Location: c.location, FiredAt: c.clock.Now()}
	fired := c.snapshotLocked()
	c.resetLocked()
	idle := c.snapshotLocked()
	c.mu.Unlock()

	slog.Info("alert: firing", "contacts", len(alert.Contacts), "location", alert.Location)
	c.emit(EventFired, fired)
	c.notify(alert)
	c.emit(EventReset, idle)
}

func (c *Controller) notify(a Alert) {
	if c.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := c.notifier.Notify(ctx, a); err != nil {
		slog.Warn("alert: notification failed", "error", err)
	}
}

func (c *Controller) cancelLocked() Snapshot {
	c.stopTickerLocked()
	c.resetLocked()
	return c.snapshotLocked()
}

func (c *Controller) resetLocked() {
	c.gen++
	c.status = StatusIdle
	c.remaining = 0
	c.location = ""
	c.armed = nil
	c.locating = false
}

func (c *Controller) stopTickerLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Status:       c.status,
		Remaining:    c.remaining,
		Location:     c.location,
		Enabled:      !c.closed && len(c.contacts.Contacts()) > 0,
		TickerActive: c.ticker != nil,
	}
}

func (c *Controller) emit(t EventType, s Snapshot) {
	if c.onEvent != nil {
		c.onEvent(Event{Type: t, Snapshot: s})
	}
}
