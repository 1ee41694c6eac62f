package wav

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

var (
	_ audio.Sink            = (*Sink)(nil)
	_ audio.FormatRequester = (*Sink)(nil)
)

// Sink records playback into a WAV file. The header sizes are patched on Close.
type Sink struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	format  audio.Format
	written uint32
	closed  bool
}

// Create creates (or truncates) path and writes a provisional header.
func Create(path string, format audio.Format) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %q: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := WriteHeader(w, format, 0); err != nil {
		f.Close()
		return nil, err
	}
	return &Sink{f: f, w: w, format: format}, nil
}

// RequestedFormat implements [audio.FormatRequester].
func (s *Sink) RequestedFormat() audio.Format { return s.format }

// Write implements [audio.Sink]. Frames must already be in the sink format.
func (s *Sink) Write(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("wav: write to closed sink")
	}
	if frame.Format() != s.format {
		return fmt.Errorf("wav: frame format %dHz/%dch does not match sink %dHz/%dch",
			frame.SampleRate, frame.Channels, s.format.SampleRate, s.format.Channels)
	}
	n, err := s.w.Write(frame.Data)
	s.written += uint32(n)
	if err != nil {
		return fmt.Errorf("wav: write pcm: %w", err)
	}
	return nil
}

// Close implements [audio.Sink]. It flushes buffered PCM and rewrites the
// header with the final data length.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("wav: flush: %w", err)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		s.f.Close()
		return fmt.Errorf("wav: seek header: %w", err)
	}
	if err := WriteHeader(s.f, s.format, s.written); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
