package opus

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/mock"
)

// sineFrames returns n 20 ms frames of a 440 Hz tone in format f.
func sineFrames(f audio.Format, n int) []audio.AudioFrame {
	samples := f.SampleRate / 50
	out := make([]audio.AudioFrame, n)
	var phase float64
	for i := range out {
		pcm := make([]int16, samples*f.Channels)
		for s := range samples {
			v := int16(8000 * math.Sin(phase))
			phase += 2 * math.Pi * 440 / float64(f.SampleRate)
			for ch := range f.Channels {
				pcm[s*f.Channels+ch] = v
			}
		}
		out[i] = audio.AudioFrame{
			Data:       audio.Int16sToBytes(pcm),
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
			Timestamp:  time.Duration(i) * audio.DefaultFrameDuration,
		}
	}
	return out
}

func collectPages(t *testing.T, enc *Encoder) [][]byte {
	t.Helper()
	var pages [][]byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-enc.Pages():
			if !ok {
				return pages
			}
			pages = append(pages, p)
		case <-timeout:
			t.Fatal("encoder did not close Pages")
		}
	}
}

func TestEncoder_Pages(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(context.Background(), WithPacketsPerPage(3))
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	// 48 kHz stereo input is converted to the 24 kHz mono target.
	for _, fr := range sineFrames(audio.Format{SampleRate: 48000, Channels: 2}, 7) {
		if err := enc.Encode(context.Background(), fr); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	enc.Close()
	if err := enc.Encode(context.Background(), audio.AudioFrame{}); err != ErrClosed {
		t.Errorf("Encode after Close = %v; want ErrClosed", err)
	}

	pages := collectPages(t, enc)
	// head, tags, two full pages of 3, EOS page with the last packet.
	if len(pages) != 5 {
		t.Fatalf("pages = %d; want 5", len(pages))
	}
	if pages[0][5] != FlagBOS {
		t.Errorf("first page flags = %#x; want BOS", pages[0][5])
	}
	if !IsOpusHead(pages[0][28:]) {
		t.Error("first page does not carry OpusHead")
	}
	if !IsOpusTags(pages[1][27+int(pages[1][26]):]) {
		t.Error("second page does not carry OpusTags")
	}
	for i, p := range pages[2:4] {
		if p[26] < 3 {
			t.Errorf("audio page %d has %d segments; want at least 3", i, p[26])
		}
	}
	if pages[4][5] != FlagEOS {
		t.Errorf("last page flags = %#x; want EOS", pages[4][5])
	}
}

func TestEncoderDecoder_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	enc, err := NewEncoder(ctx)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	for _, fr := range sineFrames(EncodeFormat, 9) {
		if err := enc.Encode(ctx, fr); err != nil {
			t.Fatal(err)
		}
	}
	enc.Close()
	pages := collectPages(t, enc)

	dec, err := NewDecoder(ctx)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	// Everything arrives before warm-up; nothing may be lost.
	for _, p := range pages {
		if err := dec.Submit(p); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if dec.Queued() != len(pages) {
		t.Errorf("Queued = %d; want %d", dec.Queued(), len(pages))
	}

	dec.Start()
	select {
	case <-dec.Ready():
	case <-ctx.Done():
		t.Fatal("decoder never became ready")
	}

	var frames []audio.AudioFrame
	for len(frames) < 9 {
		select {
		case fr := <-dec.Frames():
			frames = append(frames, fr)
		case <-ctx.Done():
			t.Fatalf("got %d frames; want 9", len(frames))
		}
	}
	for i, fr := range frames {
		if fr.SampleRate != DecodeSampleRate || fr.Channels != 1 {
			t.Errorf("frame %d format = %+v", i, fr.Format())
		}
		if d := fr.Duration(); d != 20*time.Millisecond {
			t.Errorf("frame %d duration = %v; want 20ms", i, d)
		}
		if i > 0 && fr.Timestamp <= frames[i-1].Timestamp {
			t.Errorf("frame %d timestamp not increasing", i)
		}
	}
}

func TestDecoder_SubmitAfterClose(t *testing.T) {
	t.Parallel()
	dec, err := NewDecoder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	dec.Start()
	dec.Close()
	dec.Close()
	if err := dec.Submit([]byte("OggS")); err != ErrClosed {
		t.Errorf("Submit after Close = %v; want ErrClosed", err)
	}
	select {
	case <-dec.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("decoder workers did not exit")
	}
}

func TestNewDecoder_ChannelCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		channels int
		wantErr  bool
	}{
		{channels: 1},
		{channels: 2},
		{channels: 0, wantErr: true},
		{channels: -1, wantErr: true},
		{channels: 7, wantErr: true},
	}
	for _, tt := range tests {
		dec, err := NewDecoder(context.Background(), WithChannels(tt.channels))
		if (err != nil) != tt.wantErr {
			t.Errorf("NewDecoder(channels=%d) err = %v; wantErr %v", tt.channels, err, tt.wantErr)
		}
		if err == nil {
			dec.Close()
		}
	}
}

func TestPlayer_ConvertsToRequestedFormat(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Format: audio.Format{SampleRate: 24000, Channels: 2}}
	p := NewPlayer(sink)

	frames := make(chan audio.AudioFrame, 2)
	frames <- audio.AudioFrame{Data: make([]byte, 1920), SampleRate: 48000, Channels: 1}
	frames <- audio.AudioFrame{Data: make([]byte, 1920), SampleRate: 48000, Channels: 1}
	close(frames)

	if err := p.Run(context.Background(), frames); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := sink.Frames()
	if len(got) != 2 || p.Written() != 2 {
		t.Fatalf("sink got %d frames, Written = %d; want 2", len(got), p.Written())
	}
	for _, fr := range got {
		if fr.SampleRate != 24000 || fr.Channels != 2 {
			t.Errorf("frame format = %+v", fr.Format())
		}
		if len(fr.Data) != 1920 {
			t.Errorf("frame bytes = %d; want 1920", len(fr.Data))
		}
	}
}

func TestPlayer_PassThroughWithoutRequest(t *testing.T) {
	t.Parallel()
	sink := &mock.Sink{}
	p := NewPlayer(sink)
	frames := make(chan audio.AudioFrame, 1)
	frames <- audio.AudioFrame{Data: make([]byte, 8), SampleRate: 48000, Channels: 1}
	close(frames)
	p.Run(context.Background(), frames)
	if got := sink.Frames(); len(got) != 1 || got[0].SampleRate != 48000 {
		t.Fatalf("frames = %+v", got)
	}
}

func TestPipeline_TextOnlyOnInitFailure(t *testing.T) {
	t.Parallel()
	// Opus supports at most two channels for mapping family 0.
	p := NewPipeline(context.Background(), PipelineConfig{PlaybackChannels: 7})
	if !p.TextOnly() {
		t.Fatal("expected text-only pipeline")
	}
	if p.Err() == nil {
		t.Error("Err = nil; want init error")
	}
	if p.Encoder() != nil || p.Decoder() != nil {
		t.Error("codecs must be nil when text-only")
	}
	p.Start()
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPipeline_Healthy(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPipeline(ctx, PipelineConfig{})
	if p.TextOnly() {
		t.Fatalf("unexpected text-only pipeline: %v", p.Err())
	}
	p.Start()
	select {
	case <-p.Decoder().Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("decoder not ready")
	}
	p.Close()
}
