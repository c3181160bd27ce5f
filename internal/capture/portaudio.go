package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource records raw 16-bit mono PCM from the default input device.
// It supports audio only. portaudio.Initialize must have been called.
type PortAudioSource struct {
	sampleRate      int
	framesPerBuffer int
}

func NewPortAudioSource(sampleRate, framesPerBuffer int) *PortAudioSource {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &PortAudioSource{sampleRate: sampleRate, framesPerBuffer: framesPerBuffer}
}

func (s *PortAudioSource) DefaultKind() Kind { return KindAudio }

func (s *PortAudioSource) Open(_ context.Context, kind Kind) (Stream, error) {
	if kind != KindAudio {
		return nil, fmt.Errorf("%w: portaudio cannot capture %s", ErrUnsupportedKind, kind)
	}

	buf := make([]int16, s.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), s.framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("open portaudio stream: %w", err)
	}
	return &portAudioStream{
		stream: stream,
		buf:    buf,
		mime:   pcmMimeType(s.sampleRate),
		done:   make(chan struct{}),
	}, nil
}

func pcmMimeType(sampleRate int) string {
	return fmt.Sprintf("%s;rate=%d;channels=1", MimeAudioPCM, sampleRate)
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []int16
	mime   string
	done   chan struct{}

	started  atomic.Bool
	paused   atomic.Bool
	stopping atomic.Bool

	stopOnce    sync.Once
	stopErr     error
	releaseOnce sync.Once
	releaseErr  error
}

func (s *portAudioStream) MimeType() string { return s.mime }

func (s *portAudioStream) Start(onChunk func([]byte)) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("portaudio stream already started")
	}
	if err := s.stream.Start(); err != nil {
		close(s.done)
		return fmt.Errorf("start portaudio stream: %w", err)
	}

	go func() {
		defer close(s.done)
		for !s.stopping.Load() {
			if err := s.stream.Read(); err != nil {
				if s.stopping.Load() {
					return
				}
				// Input overflow drops a buffer; keep recording.
				if errors.Is(err, portaudio.InputOverflowed) {
					continue
				}
				s.stopErr = fmt.Errorf("read portaudio stream: %w", err)
				return
			}
			if s.paused.Load() {
				continue
			}
			onChunk(encodePCM(s.buf))
		}
	}()
	return nil
}

func (s *portAudioStream) Pause() error {
	s.paused.Store(true)
	return nil
}

func (s *portAudioStream) Resume() error {
	s.paused.Store(false)
	return nil
}

func (s *portAudioStream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if !s.started.Load() {
			return
		}
		<-s.done
		if err := s.stream.Stop(); err != nil && s.stopErr == nil {
			s.stopErr = fmt.Errorf("stop portaudio stream: %w", err)
		}
	})
	return s.stopErr
}

func (s *portAudioStream) Release() error {
	s.releaseOnce.Do(func() {
		_ = s.Stop()
		if err := s.stream.Close(); err != nil {
			s.releaseErr = fmt.Errorf("close portaudio stream: %w", err)
		}
	})
	return s.releaseErr
}

// encodePCM converts samples to 16-bit little-endian bytes.
func encodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
