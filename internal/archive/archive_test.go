package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/knowyourrights/knowyourrights/internal/capture"
	"github.com/knowyourrights/knowyourrights/internal/storage"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, localPath, name, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, localPath+"|"+name+"|"+mimeType)
	return "remote-1", nil
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []storage.JournalEntry
}

func (j *recordingJournal) Append(e storage.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveWebMRecording(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	journal := &recordingJournal{}
	a := New(dir, store, WithJournal(journal))

	started := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	rec := capture.Recording{
		Data:            []byte("webm-bytes"),
		MimeType:        capture.MimeVideoWebM,
		Kind:            capture.KindVideo,
		DurationSeconds: 12,
		StartedAt:       started,
	}

	entry, err := a.Save(context.Background(), rec, "37.774900, -122.419400", "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Ext(entry.MediaPath) != ".webm" {
		t.Fatalf("media path = %q", entry.MediaPath)
	}
	data, err := os.ReadFile(entry.MediaPath)
	if err != nil {
		t.Fatalf("read media failed: %v", err)
	}
	if string(data) != "webm-bytes" {
		t.Fatalf("media = %q", data)
	}
	if entry.SizeBytes != int64(len("webm-bytes")) {
		t.Fatalf("size = %d", entry.SizeBytes)
	}

	got, err := store.GetInteractionLog(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetInteractionLog failed: %v", err)
	}
	if got.Kind != "video" || got.MimeType != capture.MimeVideoWebM || got.DurationSeconds != 12 {
		t.Fatalf("stored log = %+v", got)
	}
	if got.Location != "37.774900, -122.419400" {
		t.Fatalf("location = %q", got.Location)
	}
	if !got.RecordedAt.Equal(started) {
		t.Fatalf("recorded at = %v, want %v", got.RecordedAt, started)
	}

	if len(journal.entries) != 1 || journal.entries[0].Kind != "recording" {
		t.Fatalf("journal entries = %+v", journal.entries)
	}
	if _, err := os.Stat(entry.MediaPath + ".part"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

func TestSavePCMWrapsInWAV(t *testing.T) {
	a := New(t.TempDir(), newTestStore(t))
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}

	entry, err := a.Save(context.Background(), capture.Recording{
		Data:     pcm,
		MimeType: "audio/L16;rate=44100;channels=1",
		Kind:     capture.KindAudio,
	}, "Location unavailable", "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Ext(entry.MediaPath) != ".wav" {
		t.Fatalf("media path = %q", entry.MediaPath)
	}
	if entry.MimeType != "audio/wav" {
		t.Fatalf("mime = %q", entry.MimeType)
	}

	data, err := os.ReadFile(entry.MediaPath)
	if err != nil {
		t.Fatalf("read media failed: %v", err)
	}
	if len(data) != 44+len(pcm) {
		t.Fatalf("wav length = %d", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("bad wav header: %q", data[:12])
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 44100 {
		t.Fatalf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); size != uint32(len(pcm)) {
		t.Fatalf("data size = %d", size)
	}
	if !bytes.Equal(data[44:], pcm) {
		t.Fatal("pcm payload changed")
	}
}

func TestEncodeMatchesMimeTypesCaseInsensitively(t *testing.T) {
	tests := []struct {
		mimeType string
		wantExt  string
	}{
		{"audio/L16;rate=16000;channels=1", ".wav"},
		{"audio/l16;rate=16000", ".wav"},
		{"AUDIO/L16", ".wav"},
		{capture.MimeVideoWebM, ".webm"},
		{"Audio/WebM;codecs=opus", ".webm"},
		{"application/x-knowyourrights-test", ".bin"},
	}
	for _, tt := range tests {
		ext, _, err := encode(capture.Recording{Data: []byte{0, 0}, MimeType: tt.mimeType})
		if err != nil {
			t.Fatalf("encode(%q) failed: %v", tt.mimeType, err)
		}
		if ext != tt.wantExt {
			t.Errorf("encode(%q) ext = %q, want %q", tt.mimeType, ext, tt.wantExt)
		}
	}
}

func TestSavePCMFromPortAudioMimeType(t *testing.T) {
	a := New(t.TempDir(), newTestStore(t))

	entry, err := a.Save(context.Background(), capture.Recording{
		Data:     []byte{1, 0, 2, 0},
		MimeType: "audio/L16;rate=16000;channels=1",
		Kind:     capture.KindAudio,
	}, "", "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Ext(entry.MediaPath) != ".wav" || entry.MimeType != "audio/wav" {
		t.Fatalf("saved as %q (%s), want .wav (audio/wav)", entry.MediaPath, entry.MimeType)
	}
	data, err := os.ReadFile(entry.MediaPath)
	if err != nil {
		t.Fatalf("read media failed: %v", err)
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d", rate)
	}
}

func TestSaveDefaultsRecordedAt(t *testing.T) {
	a := New(t.TempDir(), newTestStore(t))
	before := time.Now().Add(-time.Second)

	entry, err := a.Save(context.Background(), capture.Recording{Data: []byte("x"), MimeType: capture.MimeAudioWebM, Kind: capture.KindAudio}, "", "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if entry.RecordedAt.Before(before) {
		t.Fatalf("recorded at = %v", entry.RecordedAt)
	}
}

func TestPCMSampleRateFallback(t *testing.T) {
	tests := map[string]int{
		"audio/L16;rate=8000;channels=1": 8000,
		"audio/L16":                      defaultSampleRate,
		"audio/L16;rate=abc":             defaultSampleRate,
		"audio/L16;rate=-5":              defaultSampleRate,
	}
	for mimeType, want := range tests {
		if got := pcmSampleRate(mimeType); got != want {
			t.Errorf("pcmSampleRate(%q) = %d, want %d", mimeType, got, want)
		}
	}
}

func TestBackupRecordsRemoteID(t *testing.T) {
	store := newTestStore(t)
	uploader := &fakeUploader{}
	a := New(t.TempDir(), store, WithUploader(uploader))

	entry, err := a.Save(context.Background(), capture.Recording{Data: []byte("x"), MimeType: capture.MimeAudioWebM, Kind: capture.KindAudio}, "", "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	a.BackupAsync(entry)
	a.Wait()

	got, err := store.GetInteractionLog(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetInteractionLog failed: %v", err)
	}
	if got.BackupID != "remote-1" {
		t.Fatalf("backup id = %q", got.BackupID)
	}
	if len(uploader.calls) != 1 || !strings.HasPrefix(uploader.calls[0], entry.MediaPath+"|knowyourrights-") {
		t.Fatalf("upload calls = %v", uploader.calls)
	}
}

func TestBackupFailureKeepsLocalCopy(t *testing.T) {
	store := newTestStore(t)
	boom := errors.New("offline")
	a := New(t.TempDir(), store, WithUploader(&fakeUploader{err: boom}))

	entry, err := a.Save(context.Background(), capture.Recording{Data: []byte("x"), MimeType: capture.MimeAudioWebM, Kind: capture.KindAudio}, "", "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := a.Backup(context.Background(), entry); !errors.Is(err, boom) {
		t.Fatalf("expected upload error, got %v", err)
	}
	if _, err := os.Stat(entry.MediaPath); err != nil {
		t.Fatalf("local copy missing: %v", err)
	}
}

func TestBackupWithoutUploader(t *testing.T) {
	a := New(t.TempDir(), newTestStore(t))
	a.BackupAsync(storage.InteractionLog{ID: "x"})
	a.Wait()
	if err := a.Backup(context.Background(), storage.InteractionLog{ID: "x"}); err == nil {
		t.Fatal("expected error without uploader")
	}
}

func TestOpen(t *testing.T) {
	store := newTestStore(t)
	a := New(t.TempDir(), store)

	entry, err := a.Save(context.Background(), capture.Recording{Data: []byte("abc"), MimeType: capture.MimeAudioWebM, Kind: capture.KindAudio}, "", "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, f, err := a.Open(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = f.Close() }()
	if got.ID != entry.ID {
		t.Fatalf("id = %q", got.ID)
	}

	if _, _, err := a.Open(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
