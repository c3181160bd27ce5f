// Package archive saves finished recordings to disk, logs them as
// interactions, and optionally backs them up off-device.
package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knowyourrights/knowyourrights/internal/capture"
	"github.com/knowyourrights/knowyourrights/internal/storage"
)

const (
	defaultSampleRate = 16000
	pcmChannels       = 1
	pcmBitDepth       = 16
)

type Store interface {
	InsertInteractionLog(ctx context.Context, log storage.InteractionLog) error
	GetInteractionLog(ctx context.Context, id string) (storage.InteractionLog, error)
	SetInteractionBackup(ctx context.Context, id, backupID string) error
}

type JournalWriter interface {
	Append(entry storage.JournalEntry) error
}

// Uploader copies a local file somewhere safe and returns its remote id.
type Uploader interface {
	Upload(ctx context.Context, localPath, name, mimeType string) (string, error)
}

type Archive struct {
	dir      string
	store    Store
	journal  JournalWriter
	uploader Uploader

	mu sync.Mutex
	wg sync.WaitGroup
}

type Option func(*Archive)

func WithJournal(j JournalWriter) Option {
	return func(a *Archive) { a.journal = j }
}

func WithUploader(u Uploader) Option {
	return func(a *Archive) { a.uploader = u }
}

func New(dir string, store Store, opts ...Option) *Archive {
	if dir == "" {
		dir = filepath.Join("data", "recordings")
	}
	a := &Archive{dir: dir, store: store}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Save writes the recording to disk and records an interaction log. Raw
// PCM is wrapped in a WAV container; other media is stored as delivered.
func (a *Archive) Save(ctx context.Context, rec capture.Recording, location, notes string) (storage.InteractionLog, error) {
	id := uuid.NewString()
	ext, payload, err := encode(rec)
	if err != nil {
		return storage.InteractionLog{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return storage.InteractionLog{}, fmt.Errorf("create recordings directory: %w", err)
	}

	path := filepath.Join(a.dir, id+ext)
	if err := writeFile(path, payload); err != nil {
		return storage.InteractionLog{}, err
	}

	recordedAt := rec.StartedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	entry := storage.InteractionLog{
		ID:              id,
		RecordedAt:      recordedAt,
		Location:        location,
		MediaPath:       path,
		MimeType:        baseMimeType(rec.MimeType),
		Kind:            string(rec.Kind),
		SizeBytes:       int64(len(payload)),
		DurationSeconds: rec.DurationSeconds,
		Notes:           notes,
	}
	if ext == ".wav" {
		entry.MimeType = "audio/wav"
	}

	if err := a.store.InsertInteractionLog(ctx, entry); err != nil {
		_ = os.Remove(path)
		return storage.InteractionLog{}, err
	}

	if a.journal != nil {
		text := fmt.Sprintf("Saved %s recording %s (%ds, %d bytes). Location: %s", rec.Kind, id, rec.DurationSeconds, len(payload), location)
		if err := a.journal.Append(storage.JournalEntry{Time: recordedAt, Kind: "recording", Text: text}); err != nil {
			slog.Warn("archive: journal append failed", "id", id, "error", err)
		}
	}

	slog.Info("archive: recording saved", "id", id, "path", path, "bytes", len(payload))
	return entry, nil
}

// BackupAsync uploads a saved recording in the background. Failures are
// logged; the local copy is always kept.
func (a *Archive) BackupAsync(entry storage.InteractionLog) {
	if a.uploader == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := a.Backup(ctx, entry); err != nil {
			slog.Warn("archive: backup failed", "id", entry.ID, "error", err)
		}
	}()
}

func (a *Archive) Backup(ctx context.Context, entry storage.InteractionLog) error {
	if a.uploader == nil {
		return errors.New("no uploader configured")
	}
	name := "knowyourrights-" + entry.RecordedAt.UTC().Format("20060102-150405") + filepath.Ext(entry.MediaPath)
	remoteID, err := a.uploader.Upload(ctx, entry.MediaPath, name, entry.MimeType)
	if err != nil {
		return fmt.Errorf("upload %s: %w", entry.ID, err)
	}
	if err := a.store.SetInteractionBackup(ctx, entry.ID, remoteID); err != nil {
		return fmt.Errorf("record backup for %s: %w", entry.ID, err)
	}
	slog.Info("archive: recording backed up", "id", entry.ID, "remote_id", remoteID)
	return nil
}

// Wait blocks until background backups finish.
func (a *Archive) Wait() {
	a.wg.Wait()
}

// Open returns the log entry and media file for a saved recording.
func (a *Archive) Open(ctx context.Context, id string) (storage.InteractionLog, *os.File, error) {
	entry, err := a.store.GetInteractionLog(ctx, id)
	if err != nil {
		return storage.InteractionLog{}, nil, err
	}
	f, err := os.Open(entry.MediaPath)
	if err != nil {
		return storage.InteractionLog{}, nil, fmt.Errorf("open media %s: %w", id, err)
	}
	return entry, f, nil
}

func encode(rec capture.Recording) (string, []byte, error) {
	// Media types compare case-insensitively; mime.ParseMediaType lowercases.
	base := baseMimeType(rec.MimeType)
	switch {
	case strings.EqualFold(base, capture.MimeVideoWebM), strings.EqualFold(base, capture.MimeAudioWebM):
		return ".webm", rec.Data, nil
	case strings.EqualFold(base, capture.MimeAudioPCM):
		rate := pcmSampleRate(rec.MimeType)
		header, err := wavHeader(len(rec.Data), rate, pcmChannels, pcmBitDepth)
		if err != nil {
			return "", nil, fmt.Errorf("build wav header: %w", err)
		}
		return ".wav", append(header, rec.Data...), nil
	default:
		exts, _ := mime.ExtensionsByType(base)
		if len(exts) > 0 {
			return exts[0], rec.Data, nil
		}
		return ".bin", rec.Data, nil
	}
}

func baseMimeType(mimeType string) string {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.TrimSpace(strings.ToLower(mimeType))
	}
	return base
}

func pcmSampleRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return defaultSampleRate
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return defaultSampleRate
	}
	return rate
}

func writeFile(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize recording: %w", err)
	}
	return nil
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	fields := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(dataSize),
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
