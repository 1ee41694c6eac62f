package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
)

func TestFramer_SplitsIntoFixedFrames(t *testing.T) {
	t.Parallel()

	f := audio.NewFramer(audio.Format{SampleRate: 24000, Channels: 1}, 0)
	if f.FrameBytes() != 960 {
		t.Fatalf("FrameBytes = %d; want 960", f.FrameBytes())
	}

	if got := f.Push(make([]byte, 500)); len(got) != 0 {
		t.Fatalf("partial push emitted %d frames", len(got))
	}
	frames := f.Push(make([]byte, 1500))
	if len(frames) != 2 {
		t.Fatalf("got %d frames; want 2", len(frames))
	}
	if f.Buffered() != 2000-1920 {
		t.Errorf("Buffered = %d; want 80", f.Buffered())
	}
	if frames[0].Timestamp != 0 || frames[1].Timestamp != 20*time.Millisecond {
		t.Errorf("timestamps = %v, %v", frames[0].Timestamp, frames[1].Timestamp)
	}
	for i, fr := range frames {
		if len(fr.Data) != 960 || fr.SampleRate != 24000 || fr.Channels != 1 {
			t.Errorf("frame %d = %d bytes %dHz %dch", i, len(fr.Data), fr.SampleRate, fr.Channels)
		}
	}
}

func TestFramer_PreservesSampleOrder(t *testing.T) {
	t.Parallel()

	f := audio.NewFramer(audio.Format{SampleRate: 1000, Channels: 1}, 4*time.Millisecond)
	var got []int16
	for _, chunk := range [][]int16{{1, 2, 3}, {4, 5}, {6, 7, 8, 9}} {
		for _, fr := range f.Push(pcm(chunk...)) {
			got = append(got, audio.BytesToInt16s(fr.Data)...)
		}
	}
	want := []int16{1, 2, 3, 4, 5, 6, 7, 8}
	if len(got) != len(want) {
		t.Fatalf("got %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v; want %v", got, want)
		}
	}

	tail, ok := f.Flush()
	if !ok {
		t.Fatal("Flush reported nothing buffered")
	}
	if s := audio.BytesToInt16s(tail.Data); len(s) != 4 || s[0] != 9 || s[1] != 0 {
		t.Errorf("flushed tail = %v; want [9 0 0 0]", s)
	}
	if _, ok := f.Flush(); ok {
		t.Error("second Flush should report nothing buffered")
	}
}
