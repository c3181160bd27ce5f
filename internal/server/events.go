package server

import (
	"time"

	"github.com/knowyourrights/knowyourrights/internal/storage"
)

const EventVersion = 1

const (
	EventConnection     = "connection"
	EventSOSCountdown   = "sos_countdown"
	EventSOSCanceled    = "sos_canceled"
	EventSOSFired       = "sos_fired"
	EventRecordingState = "recording_state"
	EventRecordingSaved = "recording_saved"
)

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type SOSCountdownEvent struct {
	Event
	Remaining int    `json:"remaining"`
	Location  string `json:"location,omitempty"`
}

type SOSCanceledEvent struct {
	Event
}

type SOSFiredEvent struct {
	Event
	Recipients []storage.AlertRecipient `json:"recipients"`
	Location   string                   `json:"location"`
}

type RecordingStateEvent struct {
	Event
	Status  string `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Elapsed int    `json:"elapsed"`
}

type RecordingSavedEvent struct {
	Event
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	MimeType        string `json:"mime_type"`
	SizeBytes       int64  `json:"size_bytes"`
	DurationSeconds int    `json:"duration_seconds"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
