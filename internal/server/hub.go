package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/knowyourrights/knowyourrights/internal/alert"
	"github.com/knowyourrights/knowyourrights/internal/capture"
	"github.com/knowyourrights/knowyourrights/internal/storage"
)

// Hub fans events out to every connected WebSocket client. Slow clients
// miss events rather than block the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// BroadcastAlertEvent forwards countdown progress and cancellation. Fired
// alerts reach clients through AlertNotifier instead.
func (h *Hub) BroadcastAlertEvent(e alert.Event) {
	switch e.Type {
	case alert.EventCountdown:
		h.broadcastEvent(SOSCountdownEvent{
			Event:     newEvent(EventSOSCountdown, time.Now().UTC()),
			Remaining: e.Snapshot.Remaining,
			Location:  e.Snapshot.Location,
		})
	case alert.EventCanceled:
		h.broadcastEvent(SOSCanceledEvent{Event: newEvent(EventSOSCanceled, time.Now().UTC())})
	}
}

// AlertNotifier returns a notifier that announces fired alerts to clients.
func (h *Hub) AlertNotifier() alert.Notifier {
	return alert.NotifierFunc(func(_ context.Context, a alert.Alert) error {
		h.broadcastEvent(SOSFiredEvent{
			Event:      newEvent(EventSOSFired, a.FiredAt),
			Recipients: alert.Recipients(a),
			Location:   a.Location,
		})
		return nil
	})
}

func (h *Hub) BroadcastRecordingState(s capture.Snapshot) {
	h.broadcastEvent(RecordingStateEvent{
		Event:   newEvent(EventRecordingState, time.Now().UTC()),
		Status:  string(s.Status),
		Kind:    string(s.Kind),
		Elapsed: s.Elapsed,
	})
}

func (h *Hub) BroadcastRecordingSaved(log storage.InteractionLog) {
	h.broadcastEvent(RecordingSavedEvent{
		Event:           newEvent(EventRecordingSaved, time.Now().UTC()),
		ID:              log.ID,
		Kind:            log.Kind,
		MimeType:        log.MimeType,
		SizeBytes:       log.SizeBytes,
		DurationSeconds: log.DurationSeconds,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("server: event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}
