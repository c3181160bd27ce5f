package capture

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

type chunkSink struct {
	mu  sync.Mutex
	buf []byte
}

func (s *chunkSink) add(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, b...)
}

func (s *chunkSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

func TestFFmpegStreamDeliversOutput(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nexec sleep 5\n")
	source := NewFFmpegSource(FFmpegConfig{Command: script})

	stream, err := source.Open(context.Background(), KindVideo)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if stream.MimeType() != MimeVideoWebM {
		t.Fatalf("unexpected mime type %q", stream.MimeType())
	}

	sink := &chunkSink{}
	if err := stream.Start(sink.add); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.String() != "hello" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.String() != "hello" {
		t.Fatalf("expected captured bytes, got %q", sink.String())
	}

	if err := stream.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := stream.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if err := stream.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := stream.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := stream.Release(); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
}

func TestFFmpegStopWhilePaused(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nexec sleep 5\n")
	stream, err := NewFFmpegSource(FFmpegConfig{Command: script}).Open(context.Background(), KindAudio)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := stream.Start(func([]byte) {}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := stream.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- stream.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop failed: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("stop did not return for a paused process")
	}
	_ = stream.Release()
}

func TestFFmpegEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	_, err := NewFFmpegSource(FFmpegConfig{Command: script}).Open(context.Background(), KindAudio)
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") {
		t.Fatalf("unexpected error: %v", err)
	}
	if errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("generic failure must not be a permission error")
	}
}

func TestFFmpegPermissionDenied(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "denied.sh", "#!/usr/bin/env bash\necho '/dev/video0: Permission denied' 1>&2\nexit 1\n")
	_, err := NewFFmpegSource(FFmpegConfig{Command: script}).Open(context.Background(), KindVideo)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestFFmpegControllerIntegration(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'webm-bytes'\nexec sleep 5\n")
	c := NewController(NewFFmpegSource(FFmpegConfig{Command: script}))
	defer c.Close()

	if err := c.Start(context.Background(), KindAudio); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Snapshot().Bytes < len("webm-bytes") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	rec, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if string(rec.Data) != "webm-bytes" || rec.MimeType != MimeAudioWebM {
		t.Fatalf("unexpected recording %q %q", rec.Data, rec.MimeType)
	}
}

func TestFFmpegArgs(t *testing.T) {
	source := NewFFmpegSource(FFmpegConfig{})

	audio := source.args(KindAudio)
	if !slices.Contains(audio, "pulse") || slices.Contains(audio, "v4l2") {
		t.Fatalf("unexpected audio args: %v", audio)
	}
	if audio[len(audio)-1] != "-" || !slices.Contains(audio, "webm") {
		t.Fatalf("expected webm on stdout, got %v", audio)
	}

	video := source.args(KindVideo)
	if !slices.Contains(video, "/dev/video0") || !slices.Contains(video, "libvpx") {
		t.Fatalf("unexpected video args: %v", video)
	}
}

func TestFFmpegUnsupportedKind(t *testing.T) {
	_, err := NewFFmpegSource(FFmpegConfig{}).Open(context.Background(), Kind("screen"))
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}
