package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/knowyourrights/knowyourrights/internal/alert"
	"github.com/knowyourrights/knowyourrights/internal/capture"
	"github.com/knowyourrights/knowyourrights/internal/profile"
	"github.com/knowyourrights/knowyourrights/internal/storage"
)

func TestHubAlertEventShape(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.BroadcastAlertEvent(alert.Event{Type: alert.EventCountdown, Snapshot: alert.Snapshot{Remaining: 2}})
	hub.BroadcastAlertEvent(alert.Event{Type: alert.EventReset})
	hub.BroadcastAlertEvent(alert.Event{Type: alert.EventCanceled})

	countdown := waitForEvent(t, ch, EventSOSCountdown)
	if countdown["remaining"] != float64(2) {
		t.Fatalf("remaining = %v", countdown["remaining"])
	}
	next := <-ch
	if !strings.Contains(string(next), EventSOSCanceled) {
		t.Fatalf("reset should not be broadcast, got %s", next)
	}
}

func TestHubAlertNotifier(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	err := hub.AlertNotifier().Notify(context.Background(), alert.Alert{
		Contacts: []profile.TrustedContact{{Name: "Alex", Phone: "555-0100", Preference: "both"}},
		Location: "37.774900, -122.419400",
		FiredAt:  time.Date(2026, 3, 1, 12, 0, 3, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	fired := waitForEvent(t, ch, EventSOSFired)
	if fired["timestamp"] != "2026-03-01T12:00:03Z" {
		t.Fatalf("timestamp = %v", fired["timestamp"])
	}
	if fired["location"] != "37.774900, -122.419400" {
		t.Fatalf("location = %v", fired["location"])
	}
}

func TestHubRecordingEvents(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.BroadcastRecordingState(capture.Snapshot{Status: capture.StatusRecording, Kind: capture.KindVideo, Elapsed: 7})
	state := waitForEvent(t, ch, EventRecordingState)
	if state["status"] != "recording" || state["elapsed"] != float64(7) || state["kind"] != "video" {
		t.Fatalf("state event = %v", state)
	}

	hub.BroadcastRecordingSaved(storage.InteractionLog{ID: "abc", Kind: "audio", MimeType: "audio/wav", SizeBytes: 44, MediaPath: "/secret/abc.wav"})
	saved := waitForEvent(t, ch, EventRecordingSaved)
	if saved["id"] != "abc" || saved["size_bytes"] != float64(44) {
		t.Fatalf("saved event = %v", saved)
	}
	if _, ok := saved["media_path"]; ok {
		t.Fatal("media path leaked in event")
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		hub.Broadcast([]byte("x"))
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered = %d, want %d", len(ch), cap(ch))
	}
}

func TestWSStreamsEvents(t *testing.T) {
	hub := NewHub()
	mux := http.NewServeMux()
	registerWSRoute(mux, hub)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read connection event failed: %v", err)
	}
	if first["type"] != EventConnection || first["connected"] != true {
		t.Fatalf("connection event = %v", first)
	}

	// The subscription is registered after the connection event is written.
	deadline := time.Now().Add(time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastAlertEvent(alert.Event{Type: alert.EventCanceled})
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload["type"] != EventSOSCanceled {
		t.Fatalf("event type = %v", payload["type"])
	}
}
