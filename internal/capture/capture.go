// Package capture records audio or video interactions from a capture device.
// Controller owns the device handle and drives it through the
// idle/recording/paused lifecycle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAudio, KindVideo:
		return Kind(s), nil
	case "":
		return KindVideo, nil
	default:
		return "", fmt.Errorf("unknown capture kind %q", s)
	}
}

const (
	MimeVideoWebM = "video/webm"
	MimeAudioWebM = "audio/webm"
	MimeAudioPCM  = "audio/L16"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
)

var (
	ErrPermissionDenied  = errors.New("capture permission denied")
	ErrCaptureStart      = errors.New("capture failed to start")
	ErrInvalidTransition = errors.New("invalid recording transition")
	ErrUnsupportedKind   = errors.New("capture kind not supported by device")
	ErrClosed            = errors.New("recorder closed")
)

// Source acquires a capture device. Open is where permission is checked;
// a denial must wrap ErrPermissionDenied.
type Source interface {
	Open(ctx context.Context, kind Kind) (Stream, error)
}

// KindDefaulter is implemented by sources whose default kind is not video.
type KindDefaulter interface {
	DefaultKind() Kind
}

// Stream is one acquired device handle. Chunks are delivered to onChunk in
// capture order from any goroutine. After Stop returns no further chunks are
// delivered. Release frees the hardware and is safe to call more than once.
type Stream interface {
	Start(onChunk func([]byte)) error
	Pause() error
	Resume() error
	Stop() error
	MimeType() string
	Release() error
}

// Recording is the finalized output of one session.
type Recording struct {
	Data            []byte
	MimeType        string
	Kind            Kind
	DurationSeconds int
	StartedAt       time.Time
	StoppedAt       time.Time
}

type Snapshot struct {
	Status       Status `json:"status"`
	Kind         Kind   `json:"kind,omitempty"`
	Elapsed      int    `json:"elapsed"`
	Bytes        int    `json:"bytes"`
	TickerActive bool   `json:"-"`
}
