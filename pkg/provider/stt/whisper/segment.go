package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("whisper: session is closed")

// flushTimeout bounds the inference that runs on Close.
const flushTimeout = 30 * time.Second

// inferFunc transcribes one utterance of PCM in the stream format.
type inferFunc func(ctx context.Context, pcm []byte, format audio.Format) (string, error)

// stream turns a batch transcriber into an [stt.SessionHandle]. Audio is cut
// into utterances on trailing silence or when the buffer grows past the
// limit; each utterance is transcribed and emitted as a final. Whisper has
// no interim results, so Partials never yields a value.
type stream struct {
	format       audio.Format
	silence      time.Duration
	maxBuffer    time.Duration
	rmsThreshold float64
	infer        inferFunc

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*stream)(nil)

func newStream(ctx context.Context, s settings, cfg stt.StreamConfig, infer inferFunc) (*stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = s.sampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	st := &stream{
		format:       format,
		silence:      s.silence,
		maxBuffer:    s.maxBuffer,
		rmsThreshold: s.rmsThreshold,
		infer:        infer,
		audioCh:      make(chan []byte, 256),
		partials:     make(chan stt.Transcript),
		finals:       make(chan stt.Transcript, 64),
		done:         make(chan struct{}),
	}
	st.wg.Add(1)
	go st.processLoop(ctx)
	return st, nil
}

func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *stream) Partials() <-chan stt.Transcript { return s.partials }

func (s *stream) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords is not supported; whisper has no boosting API.
func (s *stream) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("whisper: keywords: %w", stt.ErrNotSupported)
}

// Close transcribes any buffered speech, then closes both channels.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *stream) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silent    time.Duration
		elapsed   time.Duration // audio received so far
		started   time.Duration // offset of the buffered utterance
	)
	maxBytes := s.format.BytesPerFrame(s.maxBuffer)

	flush := func(ctx context.Context) {
		pcm, speech, offset := buffer, hadSpeech, started
		buffer, hadSpeech, silent = nil, false, 0
		if len(pcm) == 0 || !speech {
			return
		}
		text, err := s.infer(ctx, pcm, s.format)
		if err != nil {
			slog.Warn("whisper: inference failed", "err", err)
			return
		}
		if text == "" {
			return
		}
		select {
		case s.finals <- stt.Transcript{
			Text:      text,
			IsFinal:   true,
			Timestamp: offset,
			Duration:  s.format.Duration(len(pcm)),
		}:
		default:
			slog.Warn("whisper: finals full, dropping transcript", "text", text)
		}
	}
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return
		case <-s.done:
			finalFlush()
			return
		case chunk := <-s.audioCh:
			d := s.format.Duration(len(chunk))
			if computeRMS(chunk) < s.rmsThreshold {
				// Leading silence is dropped.
				if hadSpeech {
					silent += d
					buffer = append(buffer, chunk...)
					if silent >= s.silence {
						flush(ctx)
					}
				}
			} else {
				if !hadSpeech {
					started = elapsed
				}
				hadSpeech = true
				silent = 0
				buffer = append(buffer, chunk...)
				if maxBytes > 0 && len(buffer) >= maxBytes {
					flush(ctx)
				}
			}
			elapsed += d
		}
	}
}

// computeRMS returns the root-mean-square of 16-bit little-endian PCM in
// sample units, or 0 for less than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
