package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	ffmpegStartupGrace = 250 * time.Millisecond
	ffmpegStopGrace    = 1200 * time.Millisecond
	ffmpegReadSize     = 32 * 1024
)

// FFmpegConfig names the ffmpeg input devices.
type FFmpegConfig struct {
	Command     string
	AudioFormat string
	AudioDevice string
	VideoFormat string
	VideoDevice string
}

// FFmpegSource captures WebM from local devices through an ffmpeg subprocess.
type FFmpegSource struct {
	cfg FFmpegConfig
}

func NewFFmpegSource(cfg FFmpegConfig) *FFmpegSource {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "pulse"
	}
	if cfg.AudioDevice == "" {
		cfg.AudioDevice = "default"
	}
	if cfg.VideoFormat == "" {
		cfg.VideoFormat = "v4l2"
	}
	if cfg.VideoDevice == "" {
		cfg.VideoDevice = "/dev/video0"
	}
	return &FFmpegSource{cfg: cfg}
}

func (s *FFmpegSource) args(kind Kind) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	if kind == KindVideo {
		args = append(args, "-f", s.cfg.VideoFormat, "-i", s.cfg.VideoDevice)
	}
	args = append(args, "-f", s.cfg.AudioFormat, "-i", s.cfg.AudioDevice)
	if kind == KindVideo {
		args = append(args, "-c:v", "libvpx", "-deadline", "realtime", "-b:v", "1M")
	}
	args = append(args, "-c:a", "libopus", "-f", "webm", "-")
	return args
}

// Open starts ffmpeg and waits briefly for it to fail. Device permission
// errors reported on stderr are mapped to ErrPermissionDenied.
func (s *FFmpegSource) Open(ctx context.Context, kind Kind) (Stream, error) {
	if kind != KindAudio && kind != KindVideo {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	// The process outlives ctx, which only bounds acquisition.
	cmd := exec.Command(s.cfg.Command, s.args(kind)...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	// An explicit pipe instead of StdoutPipe: Wait must not close the read
	// side before the reader has drained it.
	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	_ = pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = stdout.Close()
		msg := strings.TrimSpace(stderr.String())
		if isPermissionError(msg) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, msg)
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		_ = stdout.Close()
		return nil, ctx.Err()
	case <-time.After(ffmpegStartupGrace):
	}

	mime := MimeAudioWebM
	if kind == KindVideo {
		mime = MimeVideoWebM
	}
	return &ffmpegStream{
		mime:    mime,
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
		done:    make(chan struct{}),
	}, nil
}

func isPermissionError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "permission denied") || strings.Contains(lower, "operation not permitted")
}

type ffmpegStream struct {
	mime    string
	stdout  io.ReadCloser
	stderr  *syncBuffer
	process *os.Process
	waitErr <-chan error
	done    chan struct{}

	mu      sync.Mutex
	started bool
	paused  bool

	stopOnce    sync.Once
	stopErr     error
	releaseOnce sync.Once
}

func (s *ffmpegStream) MimeType() string { return s.mime }

func (s *ffmpegStream) Start(onChunk func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("ffmpeg stream already started")
	}
	s.started = true

	go func() {
		defer close(s.done)
		buf := make([]byte, ffmpegReadSize)
		for {
			n, err := s.stdout.Read(buf)
			if n > 0 {
				onChunk(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *ffmpegStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("suspend ffmpeg: %w", err)
	}
	s.paused = true
	return nil
}

func (s *ffmpegStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("continue ffmpeg: %w", err)
	}
	s.paused = false
	return nil
}

// Stop asks ffmpeg to finish the container, then waits for the reader to
// drain stdout.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.paused {
			_ = s.process.Signal(syscall.SIGCONT)
			s.paused = false
		}
		started := s.started
		s.mu.Unlock()

		_ = s.process.Signal(os.Interrupt)

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(ffmpegStopGrace):
			_ = s.process.Kill()
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if started {
			<-s.done
		}

		if s.stopErr != nil {
			if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, msg)
			}
		}
	})
	return s.stopErr
}

// Release kills ffmpeg if it is still running and closes its output.
func (s *ffmpegStream) Release() error {
	var err error
	s.releaseOnce.Do(func() {
		_ = s.process.Kill()
		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			err = closeErr
		}
	})
	return err
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
