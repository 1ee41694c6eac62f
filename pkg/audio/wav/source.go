package wav

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// SourceOption configures a [Source].
type SourceOption func(*Source)

// WithFrameDuration sets the length of emitted frames. Default: 20 ms.
func WithFrameDuration(d time.Duration) SourceOption {
	return func(s *Source) {
		if d > 0 {
			s.frameDur = d
		}
	}
}

// WithoutPacing emits frames as fast as the consumer reads them instead of
// in real time. Intended for tests and offline runs.
func WithoutPacing() SourceOption {
	return func(s *Source) { s.paced = false }
}

// Source plays a WAV file as if it were a live capture device: frames are
// released at the rate they would be spoken.
type Source struct {
	f        *os.File
	format   audio.Format
	frameDur time.Duration
	paced    bool

	frames    chan audio.AudioFrame
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens path and starts streaming its PCM. A permission failure wraps
// [audio.ErrPermissionDenied].
func Open(path string, opts ...SourceOption) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("wav: open %q: %w", path, audio.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("wav: open %q: %w", path, err)
	}

	br := bufio.NewReader(f)
	format, _, err := ReadHeader(br)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Source{
		f:        f,
		format:   format,
		frameDur: audio.DefaultFrameDuration,
		paced:    true,
		frames:   make(chan audio.AudioFrame, 16),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	s.wg.Add(1)
	go s.readLoop(br)
	return s, nil
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close implements [audio.Source].
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.f.Close()
	})
	return err
}

func (s *Source) readLoop(r io.Reader) {
	defer s.wg.Done()
	defer close(s.frames)

	framer := audio.NewFramer(s.format, s.frameDur)
	buf := make([]byte, framer.FrameBytes())

	var ticker *time.Ticker
	if s.paced {
		ticker = time.NewTicker(s.frameDur)
		defer ticker.Stop()
	}

	emit := func(fr audio.AudioFrame) bool {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.done:
				return false
			}
		}
		select {
		case s.frames <- fr:
			return true
		case <-s.done:
			return false
		}
	}

	for {
		n, err := io.ReadFull(r, buf)
		for _, fr := range framer.Push(buf[:n]) {
			if !emit(fr) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("wav: capture read failed", "path", s.f.Name(), "err", err)
			}
			if tail, ok := framer.Flush(); ok {
				emit(tail)
			}
			return
		}
	}
}
