package opus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonas747/ogg"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// DecoderOption configures a [Decoder].
type DecoderOption func(*Decoder)

// WithChannels sets the decoded channel count (1 or 2). Default: 1.
func WithChannels(n int) DecoderOption {
	return func(d *Decoder) { d.channels = n }
}

// Decoder is the playback-side codec worker. Ogg pages received from the
// bridge are written into an in-process pipe, demultiplexed by an Ogg packet
// decoder and decoded to 48 kHz PCM on [Decoder.Frames].
//
// The demuxer needs a beginning-of-stream page before the first page from
// the wire. [Decoder.Start] injects [WarmupPage] once, and pages submitted
// before its OpusHead has passed through are held back and then forwarded
// in arrival order.
type Decoder struct {
	channels int
	codec    *packetDecoder
	ctx      context.Context

	pr *io.PipeReader
	pw *io.PipeWriter

	in     chan []byte
	frames chan audio.AudioFrame
	queue  *pageQueue

	ready     chan struct{}
	readyOnce sync.Once
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewDecoder creates a decoder. Call [Decoder.Start] to begin warm-up.
func NewDecoder(ctx context.Context, opts ...DecoderOption) (*Decoder, error) {
	d := &Decoder{
		channels: 1,
		ctx:      ctx,
		in:       make(chan []byte, 64),
		frames:   make(chan audio.AudioFrame, 64),
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	codec, err := newPacketDecoder(d.channels)
	if err != nil {
		return nil, err
	}
	d.codec = codec
	d.pr, d.pw = io.Pipe()
	d.queue = newPageQueue(d.forward)
	return d, nil
}

// Start launches the worker goroutines and injects the warm-up page.
// Subsequent calls are no-ops.
func (d *Decoder) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(2)
		go d.writeLoop()
		go d.demuxLoop()
		go func() {
			d.wg.Wait()
			close(d.done)
		}()
		d.forward(WarmupPage())
	})
}

// Ready is closed once the warm-up page has been accepted by the demuxer.
func (d *Decoder) Ready() <-chan struct{} { return d.ready }

// Frames returns decoded PCM. It is closed when the decoder shuts down.
func (d *Decoder) Frames() <-chan audio.AudioFrame { return d.frames }

// Done is closed when both worker goroutines have exited.
func (d *Decoder) Done() <-chan struct{} { return d.done }

// Queued returns the number of pages held back waiting for warm-up.
func (d *Decoder) Queued() int { return d.queue.len() }

// Submit hands one Ogg page from the wire to the decoder. page is copied.
// Pages submitted before [Decoder.Ready] are queued, never dropped.
func (d *Decoder) Submit(page []byte) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	d.queue.submit(bytes.Clone(page))
	return nil
}

// Close stops both workers. Pages and frames still in flight are discarded.
// Close is idempotent.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
		d.pw.Close()
		d.pr.Close()
	})
	return nil
}

func (d *Decoder) forward(page []byte) {
	select {
	case d.in <- page:
	case <-d.stop:
	case <-d.ctx.Done():
	}
}

func (d *Decoder) writeLoop() {
	defer d.wg.Done()
	defer d.pw.Close()
	for {
		select {
		case page := <-d.in:
			if _, err := d.pw.Write(page); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					slog.Warn("opus: decoder pipe write failed", "err", err)
				}
				return
			}
		case <-d.stop:
			return
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Decoder) demuxLoop() {
	defer d.wg.Done()
	defer close(d.frames)

	demux := ogg.NewPacketDecoder(ogg.NewDecoder(d.pr))
	var ts time.Duration
	format := audio.Format{SampleRate: DecodeSampleRate, Channels: d.channels}

	for {
		packet, _, err := demux.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			select {
			case <-d.stop:
				return
			default:
			}
			slog.Warn("opus: dropping undecodable ogg data", "err", err)
			continue
		}

		switch {
		case IsOpusHead(packet):
			d.readyOnce.Do(func() {
				close(d.ready)
				// Flushing blocks on the pipe this goroutine reads from.
				go func() {
					if n := d.queue.open(); n > 0 {
						slog.Debug("opus: flushed pages queued during warm-up", "pages", n)
					}
				}()
			})
			continue
		case IsOpusTags(packet):
			continue
		case len(packet) == 0:
			continue
		}

		pcm, err := d.codec.decode(packet)
		if err != nil {
			slog.Warn("opus: dropping packet", "err", err)
			continue
		}
		frame := audio.AudioFrame{
			Data:       pcm,
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Timestamp:  ts,
		}
		ts += format.Duration(len(pcm))

		select {
		case d.frames <- frame:
		case <-d.stop:
			return
		case <-d.ctx.Done():
			return
		}
	}
}
