package audio

import "time"

// DefaultFrameDuration is the capture frame length expected by the Opus encoder.
const DefaultFrameDuration = 20 * time.Millisecond

// Framer re-chunks arbitrarily sized PCM into fixed-duration frames. Bytes
// that do not fill a whole frame are held until the next Push.
//
// A Framer is not safe for concurrent use; create one per stream.
type Framer struct {
	format   Format
	frameLen int
	pending  []byte
	emitted  time.Duration
	frameDur time.Duration
}

// NewFramer returns a Framer producing frames of length d in format f.
// A non-positive d selects [DefaultFrameDuration].
func NewFramer(f Format, d time.Duration) *Framer {
	if d <= 0 {
		d = DefaultFrameDuration
	}
	return &Framer{
		format:   f,
		frameLen: f.BytesPerFrame(d),
		frameDur: d,
	}
}

// FrameBytes returns the byte length of each emitted frame.
func (fr *Framer) FrameBytes() int { return fr.frameLen }

// Push appends pcm and returns every complete frame now available.
func (fr *Framer) Push(pcm []byte) []AudioFrame {
	if fr.frameLen <= 0 {
		return nil
	}
	fr.pending = append(fr.pending, pcm...)

	var out []AudioFrame
	for len(fr.pending) >= fr.frameLen {
		data := make([]byte, fr.frameLen)
		copy(data, fr.pending[:fr.frameLen])
		fr.pending = fr.pending[fr.frameLen:]

		out = append(out, AudioFrame{
			Data:       data,
			SampleRate: fr.format.SampleRate,
			Channels:   fr.format.Channels,
			Timestamp:  fr.emitted,
		})
		fr.emitted += fr.frameDur
	}
	// Compact so the backing array does not grow without bound.
	if len(fr.pending) == 0 {
		fr.pending = fr.pending[:0:0]
	}
	return out
}

// Buffered returns the number of bytes waiting for a full frame.
func (fr *Framer) Buffered() int { return len(fr.pending) }

// Flush returns the held tail padded with silence to a full frame, or false
// when nothing is buffered.
func (fr *Framer) Flush() (AudioFrame, bool) {
	if len(fr.pending) == 0 || fr.frameLen <= 0 {
		return AudioFrame{}, false
	}
	data := make([]byte, fr.frameLen)
	copy(data, fr.pending)
	fr.pending = nil
	frame := AudioFrame{
		Data:       data,
		SampleRate: fr.format.SampleRate,
		Channels:   fr.format.Channels,
		Timestamp:  fr.emitted,
	}
	fr.emitted += fr.frameDur
	return frame, true
}
