package opus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// ErrClosed is returned when submitting work to a closed codec worker.
var ErrClosed = errors.New("opus: codec closed")

const (
	// encoderPreSkip is the libopus encoder lookahead at 48 kHz.
	encoderPreSkip = 312

	// granulePerPacket is one 20 ms packet counted at 48 kHz.
	granulePerPacket = DecodeSampleRate * 20 / 1000
)

// EncoderOption configures an [Encoder].
type EncoderOption func(*Encoder)

// WithBitrate sets the target bitrate. Default: [DefaultBitrate].
func WithBitrate(bps int) EncoderOption {
	return func(e *Encoder) {
		if bps > 0 {
			e.bitrate = bps
		}
	}
}

// WithPacketsPerPage sets how many packets are batched per Ogg page.
// Default: [DefaultPacketsPerPage].
func WithPacketsPerPage(n int) EncoderOption {
	return func(e *Encoder) {
		if n > 0 {
			e.packetsPerPage = n
		}
	}
}

// WithSerial sets the Ogg stream serial of the outgoing stream.
func WithSerial(serial uint32) EncoderOption {
	return func(e *Encoder) { e.serial = serial }
}

// WithVendor sets the vendor string of the OpusTags header.
func WithVendor(vendor string) EncoderOption {
	return func(e *Encoder) { e.vendor = vendor }
}

// Encoder is the capture-side codec worker. Frames handed to [Encoder.Encode]
// are processed in order by a single goroutine that converts them to 24 kHz
// mono, cuts 20 ms Opus packets and emits complete Ogg pages on [Encoder.Pages].
//
// The first two pages carry the OpusHead and OpusTags headers. Close flushes
// any partial batch in an end-of-stream page and then closes Pages.
type Encoder struct {
	bitrate        int
	packetsPerPage int
	serial         uint32
	vendor         string

	codec *packetEncoder
	ctx   context.Context

	mu     sync.RWMutex
	closed bool
	in     chan audio.AudioFrame
	pages  chan []byte
	done   chan struct{}
}

// NewEncoder creates the encoder and starts its worker. The worker stops
// emitting pages once ctx is cancelled; pages still queued are dropped.
func NewEncoder(ctx context.Context, opts ...EncoderOption) (*Encoder, error) {
	e := &Encoder{
		bitrate:        DefaultBitrate,
		packetsPerPage: DefaultPacketsPerPage,
		serial:         1,
		vendor:         "voicelink",
		ctx:            ctx,
		in:             make(chan audio.AudioFrame, 32),
		pages:          make(chan []byte, 32),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	codec, err := newPacketEncoder(e.bitrate)
	if err != nil {
		return nil, err
	}
	e.codec = codec

	go e.run()
	return e, nil
}

// Encode queues a captured frame. Frames in any format are accepted.
func (e *Encoder) Encode(ctx context.Context, frame audio.AudioFrame) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.in <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// Pages returns the stream of encoded Ogg pages. It is closed after the
// end-of-stream page or when the worker context is cancelled.
func (e *Encoder) Pages() <-chan []byte { return e.pages }

// Done is closed when the worker has exited.
func (e *Encoder) Done() <-chan struct{} { return e.done }

// Close stops accepting frames. Frames already queued are still encoded.
// It does not wait for the worker; use [Encoder.Done] for that.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.in)
	return nil
}

func (e *Encoder) run() {
	defer close(e.done)
	defer close(e.pages)

	var buf bytes.Buffer
	pw := NewPageWriter(&buf, e.serial)
	flush := func(write func() error) bool {
		if err := write(); err != nil {
			slog.Warn("opus: failed to build page", "err", err)
			buf.Reset()
			return true
		}
		page := bytes.Clone(buf.Bytes())
		buf.Reset()
		select {
		case e.pages <- page:
			return true
		case <-e.ctx.Done():
			return false
		}
	}

	if !flush(func() error { return pw.WriteBOS(OpusHead(EncodeChannels, encoderPreSkip, EncodeSampleRate)) }) {
		return
	}
	if !flush(func() error { return pw.WritePage(0, [][]byte{OpusTags(e.vendor)}) }) {
		return
	}

	conv := &audio.FormatConverter{Target: EncodeFormat}
	framer := audio.NewFramer(EncodeFormat, audio.DefaultFrameDuration)
	granule := int64(encoderPreSkip)
	var batch [][]byte

	for frame := range e.in {
		if e.ctx.Err() != nil {
			continue // drain silently
		}
		frame = conv.Convert(frame)
		if len(frame.Data) == 0 {
			continue
		}
		for _, fr := range framer.Push(frame.Data) {
			packet, err := e.codec.encode(fr.Data)
			if err != nil {
				slog.Warn("opus: dropping capture frame", "err", err)
				continue
			}
			batch = append(batch, packet)
			granule += granulePerPacket
			if len(batch) < e.packetsPerPage {
				continue
			}
			g, packets := granule, batch
			batch = nil
			if !flush(func() error { return pw.WritePage(g, packets) }) {
				return
			}
		}
	}

	if e.ctx.Err() != nil {
		return
	}
	if tail, ok := framer.Flush(); ok {
		if packet, err := e.codec.encode(tail.Data); err == nil {
			batch = append(batch, packet)
			granule += granulePerPacket
		}
	}
	flush(func() error { return pw.WriteEOS(granule, batch) })
}
