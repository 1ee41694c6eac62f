package opus

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Player is the realtime output stage: it drains decoded frames into an
// [audio.Sink]. Frames are converted only when the sink implements
// [audio.FormatRequester]; otherwise they are written as decoded.
type Player struct {
	sink    audio.Sink
	conv    *audio.FormatConverter
	written atomic.Int64
}

// NewPlayer returns a Player writing to sink.
func NewPlayer(sink audio.Sink) *Player {
	p := &Player{sink: sink}
	if fr, ok := sink.(audio.FormatRequester); ok {
		if f := fr.RequestedFormat(); f.SampleRate > 0 && f.Channels > 0 {
			p.conv = &audio.FormatConverter{Target: f}
		}
	}
	return p
}

// Run plays frames until the channel is closed or ctx is cancelled. On
// cancellation the remaining frames are drained in the background.
func (p *Player) Run(ctx context.Context, frames <-chan audio.AudioFrame) error {
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(frames)
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if p.conv != nil {
				frame = p.conv.Convert(frame)
				if len(frame.Data) == 0 {
					continue
				}
			}
			if err := p.sink.Write(frame); err != nil {
				slog.Warn("opus: playback write failed", "err", err)
				continue
			}
			p.written.Add(1)
		}
	}
}

// Written returns the number of frames handed to the sink.
func (p *Player) Written() int64 { return p.written.Load() }
