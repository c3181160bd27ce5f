package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/knowyourrights/knowyourrights/internal/clock"
)

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// OnStart is called after a session enters the recording state.
func OnStart(fn func(Kind)) Option {
	return func(ctl *Controller) { ctl.onStart = fn }
}

// OnFinish receives every stopped recording exactly once.
func OnFinish(fn func(Recording)) Option {
	return func(ctl *Controller) { ctl.onFinish = fn }
}

// OnState is called on every state change and elapsed-time tick.
func OnState(fn func(Snapshot)) Option {
	return func(ctl *Controller) { ctl.onState = fn }
}

type Controller struct {
	source   Source
	clock    clock.Clock
	onStart  func(Kind)
	onFinish func(Recording)
	onState  func(Snapshot)

	mu        sync.Mutex
	status    Status
	kind      Kind
	elapsed   int
	chunks    [][]byte
	size      int
	stream    Stream
	ticker    clock.Ticker
	gen       uint64
	busy      bool
	closed    bool
	startedAt time.Time
}

func NewController(source Source, opts ...Option) *Controller {
	c := &Controller{source: source, clock: clock.Real{}, status: StatusIdle}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultKind is the kind recorded when a caller does not choose one.
func (c *Controller) DefaultKind() Kind {
	if d, ok := c.source.(KindDefaulter); ok {
		return d.DefaultKind()
	}
	return KindVideo
}

// Start acquires the device and begins recording. Permission and start
// failures leave the controller idle with nothing held.
func (c *Controller) Start(ctx context.Context, kind Kind) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status != StatusIdle || c.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, c.status)
	}
	c.busy = true
	c.mu.Unlock()

	stream, err := c.source.Open(ctx, kind)
	if err != nil {
		c.clearBusy()
		if errors.Is(err, ErrPermissionDenied) {
			return fmt.Errorf("open %s capture: %w", kind, err)
		}
		return fmt.Errorf("%w: %w", ErrCaptureStart, err)
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.stream = stream
	c.kind = kind
	c.chunks = nil
	c.size = 0
	c.elapsed = 0
	c.mu.Unlock()

	if err := stream.Start(func(b []byte) { c.appendChunk(gen, b) }); err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.stream = nil
			c.chunks = nil
			c.size = 0
			c.gen++
		}
		c.busy = false
		c.mu.Unlock()
		_ = stream.Release()
		return fmt.Errorf("%w: %w", ErrCaptureStart, err)
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		if c.gen == gen {
			c.resetLocked()
		}
		c.busy = false
		c.mu.Unlock()
		_ = stream.Stop()
		_ = stream.Release()
		return ErrClosed
	}
	c.status = StatusRecording
	c.startedAt = c.clock.Now()
	c.startTickerLocked(gen)
	c.busy = false
	snap := c.snapshotLocked()
	c.mu.Unlock()

	slog.Info("capture: recording started", "kind", kind, "mime", stream.MimeType())
	if c.onStart != nil {
		c.onStart(kind)
	}
	c.emit(snap)
	return nil
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.status != StatusRecording || c.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, c.status)
	}
	if err := c.stream.Pause(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("pause capture: %w", err)
	}
	c.stopTickerLocked()
	c.status = StatusPaused
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	return nil
}

func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.status != StatusPaused || c.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: resume while %s", ErrInvalidTransition, c.status)
	}
	if err := c.stream.Resume(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("resume capture: %w", err)
	}
	c.status = StatusRecording
	c.startTickerLocked(c.gen)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	return nil
}

// Stop finalizes the session. The recording is valid even when err is
// non-nil; err only reports trouble stopping or releasing the device.
func (c *Controller) Stop() (Recording, error) {
	c.mu.Lock()
	if (c.status != StatusRecording && c.status != StatusPaused) || c.busy {
		c.mu.Unlock()
		return Recording{}, fmt.Errorf("%w: stop while %s", ErrInvalidTransition, c.status)
	}
	c.busy = true
	c.stopTickerLocked()
	stream := c.stream
	gen := c.gen
	c.mu.Unlock()

	// Stop drains in-flight chunks, so it must run without the lock held.
	stopErr := stream.Stop()

	c.mu.Lock()
	if c.gen != gen {
		c.busy = false
		c.mu.Unlock()
		return Recording{}, ErrClosed
	}
	rec := Recording{
		Data:            concat(c.chunks, c.size),
		MimeType:        stream.MimeType(),
		Kind:            c.kind,
		DurationSeconds: c.elapsed,
		StartedAt:       c.startedAt,
		StoppedAt:       c.clock.Now(),
	}
	c.resetLocked()
	c.busy = false
	snap := c.snapshotLocked()
	c.mu.Unlock()

	releaseErr := stream.Release()

	slog.Info("capture: recording stopped", "kind", rec.Kind, "bytes", len(rec.Data), "seconds", rec.DurationSeconds)
	if c.onFinish != nil {
		c.onFinish(rec)
	}
	c.emit(snap)

	if err := errors.Join(stopErr, releaseErr); err != nil {
		return rec, fmt.Errorf("stop capture: %w", err)
	}
	return rec, nil
}

// Close tears down any open session without emitting a recording. Later
// calls to Start fail with ErrClosed. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	stream := c.stream
	if stream == nil {
		c.mu.Unlock()
		return
	}
	c.stopTickerLocked()
	c.resetLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err := stream.Stop(); err != nil {
		slog.Warn("capture: stop during close failed", "error", err)
	}
	if err := stream.Release(); err != nil {
		slog.Warn("capture: release during close failed", "error", err)
	}
	c.emit(snap)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) appendChunk(gen uint64, b []byte) {
	if len(b) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.stream == nil {
		return
	}
	c.chunks = append(c.chunks, bytes.Clone(b))
	c.size += len(b)
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusRecording {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
}

func (c *Controller) startTickerLocked(gen uint64) {
	c.stopTickerLocked()
	c.ticker = c.clock.Every(time.Second, func() { c.tick(gen) })
}

func (c *Controller) stopTickerLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) resetLocked() {
	c.gen++
	c.stream = nil
	c.chunks = nil
	c.size = 0
	c.status = StatusIdle
	c.elapsed = 0
	c.kind = ""
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Status:       c.status,
		Kind:         c.kind,
		Elapsed:      c.elapsed,
		Bytes:        c.size,
		TickerActive: c.ticker != nil,
	}
}

func (c *Controller) clearBusy() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Controller) emit(s Snapshot) {
	if c.onState != nil {
		c.onState(s)
	}
}

func concat(chunks [][]byte, size int) []byte {
	out := make([]byte, 0, size)
	for _, chunk := range chunks {
		out = append(out, chunk...)
	}
	return out
}
