package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/knowyourrights/knowyourrights/internal/alert"
	"github.com/knowyourrights/knowyourrights/internal/capture"
	"github.com/knowyourrights/knowyourrights/internal/content"
	"github.com/knowyourrights/knowyourrights/internal/profile"
	"github.com/knowyourrights/knowyourrights/internal/storage"
)

const (
	maxBodyBytes    = 64 << 10
	maxAlertHistory = 500
)

var (
	recordingIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	datePattern        = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

type ProfileService interface {
	Region() string
	SetRegion(ctx context.Context, region string) error
	Category() string
	SetCategory(ctx context.Context, category string) error
	Contacts() []profile.TrustedContact
	AddContact(ctx context.Context, name, phone, preference string) (profile.TrustedContact, error)
	RemoveContact(ctx context.Context, id string) error
}

type ContentService interface {
	Card(ctx context.Context, region, category string) content.Card
	Learn(ctx context.Context, topic string) string
}

type Recorder interface {
	Start(ctx context.Context, kind capture.Kind) error
	Pause() error
	Resume() error
	Stop() (capture.Recording, error)
	Snapshot() capture.Snapshot
	DefaultKind() capture.Kind
}

type Alerter interface {
	Press(ctx context.Context) (alert.Snapshot, error)
	Cancel() bool
	Snapshot() alert.Snapshot
}

type InteractionStore interface {
	ListInteractionLogs(ctx context.Context, date string) ([]storage.InteractionLog, error)
	GetLogDates(ctx context.Context) ([]string, error)
	UpdateInteractionNotes(ctx context.Context, id, notes string) error
}

type AlertHistory interface {
	ListAlertLogs(ctx context.Context, limit int) ([]storage.AlertLog, error)
}

type MediaOpener interface {
	Open(ctx context.Context, id string) (storage.InteractionLog, *os.File, error)
}

// Deps are the services behind the API. Warnings is optional.
type Deps struct {
	Profile  ProfileService
	Content  ContentService
	Recorder Recorder
	Alert    Alerter
	Logs     InteractionStore
	Media    MediaOpener
	History  AlertHistory
	Warnings func() []string
}

func (d Deps) validate() error {
	var missing []string
	if d.Profile == nil {
		missing = append(missing, "profile")
	}
	if d.Content == nil {
		missing = append(missing, "content")
	}
	if d.Recorder == nil {
		missing = append(missing, "recorder")
	}
	if d.Alert == nil {
		missing = append(missing, "alert")
	}
	if d.Logs == nil {
		missing = append(missing, "logs")
	}
	if d.Media == nil {
		missing = append(missing, "media")
	}
	if d.History == nil {
		missing = append(missing, "history")
	}
	if len(missing) > 0 {
		return fmt.Errorf("server: missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

type api struct {
	deps       Deps
	generating atomic.Bool
}

func newAPI(deps Deps) *api {
	return &api{deps: deps}
}

func registerAPIRoutes(mux *http.ServeMux, a *api) {
	mux.HandleFunc("GET /api/regions", a.handleRegions)
	mux.HandleFunc("GET /api/categories", a.handleCategories)
	mux.HandleFunc("GET /api/scripts/{category}", a.handleScript)

	mux.HandleFunc("GET /api/profile/region", a.handleGetRegion)
	mux.HandleFunc("PUT /api/profile/region", a.handlePutRegion)

	mux.HandleFunc("GET /api/contacts", a.handleListContacts)
	mux.HandleFunc("POST /api/contacts", a.handleAddContact)
	mux.HandleFunc("DELETE /api/contacts/{id}", a.handleRemoveContact)

	mux.HandleFunc("POST /api/rights", a.handleRights)
	mux.HandleFunc("GET /api/learn", a.handleLearn)

	mux.HandleFunc("GET /api/sos", a.handleSOSStatus)
	mux.HandleFunc("POST /api/sos/press", a.handleSOSPress)
	mux.HandleFunc("POST /api/sos/cancel", a.handleSOSCancel)
	mux.HandleFunc("GET /api/alerts", a.handleAlertHistory)

	mux.HandleFunc("GET /api/recording", a.handleRecordingStatus)
	mux.HandleFunc("POST /api/recording/start", a.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/pause", a.handleRecordingControl(func() error { return a.deps.Recorder.Pause() }))
	mux.HandleFunc("POST /api/recording/resume", a.handleRecordingControl(func() error { return a.deps.Recorder.Resume() }))
	mux.HandleFunc("POST /api/recording/stop", a.handleRecordingStop)

	mux.HandleFunc("GET /api/recordings", a.handleListRecordings)
	mux.HandleFunc("GET /api/recordings/dates", a.handleRecordingDates)
	mux.HandleFunc("PUT /api/recordings/{id}/notes", a.handleRecordingNotes)
	mux.HandleFunc("GET /api/recordings/{id}/media", a.handleRecordingMedia)

	mux.HandleFunc("GET /api/status", a.handleStatus)
}

func (a *api) handleRegions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, content.Regions())
}

func (a *api) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, content.Categories())
}

func (a *api) handleScript(w http.ResponseWriter, r *http.Request) {
	script, ok := content.EmergencyScript(r.PathValue("category"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown category")
		return
	}
	writeJSON(w, http.StatusOK, script)
}

func (a *api) handleGetRegion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"region": a.deps.Profile.Region()})
}

func (a *api) handlePutRegion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Region string `json:"region"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.deps.Profile.SetRegion(r.Context(), body.Region); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"region": a.deps.Profile.Region()})
}

func (a *api) handleListContacts(w http.ResponseWriter, _ *http.Request) {
	contacts := a.deps.Profile.Contacts()
	if contacts == nil {
		contacts = []profile.TrustedContact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (a *api) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var body profile.TrustedContact
	if !decodeBody(w, r, &body) {
		return
	}
	contact, err := a.deps.Profile.AddContact(r.Context(), body.Name, body.Phone, body.Preference)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

func (a *api) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Profile.RemoveContact(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRights(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Region   string `json:"region"`
		Category string `json:"category"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if _, ok := content.LookupCategory(body.Category); !ok {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", body.Category))
		return
	}
	if !a.generating.CompareAndSwap(false, true) {
		writeJSONError(w, http.StatusConflict, "generation already in progress")
		return
	}
	defer a.generating.Store(false)

	if body.Region != "" && body.Region != a.deps.Profile.Region() {
		if err := a.deps.Profile.SetRegion(r.Context(), body.Region); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if err := a.deps.Profile.SetCategory(r.Context(), body.Category); err != nil {
		writeServiceError(w, err)
		return
	}

	card := a.deps.Content.Card(r.Context(), a.deps.Profile.Region(), body.Category)
	writeJSON(w, http.StatusOK, card)
}

func (a *api) handleLearn(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		writeJSONError(w, http.StatusBadRequest, "topic is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"topic":   topic,
		"content": a.deps.Content.Learn(r.Context(), topic),
	})
}

func (a *api) handleSOSStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Alert.Snapshot())
}

func (a *api) handleSOSPress(w http.ResponseWriter, r *http.Request) {
	snap, err := a.deps.Alert.Press(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) handleSOSCancel(w http.ResponseWriter, _ *http.Request) {
	canceled := a.deps.Alert.Cancel()
	writeJSON(w, http.StatusOK, map[string]any{
		"canceled": canceled,
		"state":    a.deps.Alert.Snapshot(),
	})
}

func (a *api) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAlertHistory {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxAlertHistory))
			return
		}
		limit = n
	}
	logs, err := a.deps.History.ListAlertLogs(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list alerts: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *api) handleRecordingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Recorder.Snapshot())
}

func (a *api) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind string `json:"kind"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	kind := a.deps.Recorder.DefaultKind()
	if body.Kind != "" {
		parsed, err := capture.ParseKind(body.Kind)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}
	if err := a.deps.Recorder.Start(r.Context(), kind); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Recorder.Snapshot())
}

func (a *api) handleRecordingControl(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := op(); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.deps.Recorder.Snapshot())
	}
}

func (a *api) handleRecordingStop(w http.ResponseWriter, _ *http.Request) {
	rec, err := a.deps.Recorder.Stop()
	if errors.Is(err, capture.ErrInvalidTransition) || errors.Is(err, capture.ErrClosed) {
		writeServiceError(w, err)
		return
	}
	resp := map[string]any{
		"kind":             rec.Kind,
		"mime_type":        rec.MimeType,
		"size_bytes":       len(rec.Data),
		"duration_seconds": rec.DurationSeconds,
	}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" && !datePattern.MatchString(date) {
		writeJSONError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	logs, err := a.deps.Logs.ListInteractionLogs(r.Context(), date)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
		return
	}
	if logs == nil {
		logs = []storage.InteractionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *api) handleRecordingDates(w http.ResponseWriter, r *http.Request) {
	dates, err := a.deps.Logs.GetLogDates(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, dates)
}

func (a *api) handleRecordingNotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !recordingIDPattern.MatchString(id) {
		writeJSONError(w, http.StatusForbidden, "invalid recording id")
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.deps.Logs.UpdateInteractionNotes(r.Context(), id, body.Notes); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRecordingMedia(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !recordingIDPattern.MatchString(id) {
		writeJSONError(w, http.StatusForbidden, "invalid recording id")
		return
	}

	entry, f, err := a.deps.Media.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			writeJSONError(w, http.StatusNotFound, "recording not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("open recording: %v", err))
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat recording: %v", err))
		return
	}

	contentType := entry.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, filepath.Base(entry.MediaPath), info.ModTime(), f)
}

func (a *api) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var warnings []string
	if a.deps.Warnings != nil {
		warnings = a.deps.Warnings()
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"warnings":  warnings,
		"recording": a.deps.Recorder.Snapshot(),
		"sos":       a.deps.Alert.Snapshot(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeServiceError maps domain sentinels to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, profile.ErrInvalidRegion),
		errors.Is(err, profile.ErrInvalidCategory),
		errors.Is(err, profile.ErrInvalidContact),
		errors.Is(err, capture.ErrUnsupportedKind):
		status = http.StatusBadRequest
	case errors.Is(err, profile.ErrContactNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, capture.ErrInvalidTransition),
		errors.Is(err, alert.ErrNoContacts):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, capture.ErrCaptureStart):
		status = http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrClosed),
		errors.Is(err, alert.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
