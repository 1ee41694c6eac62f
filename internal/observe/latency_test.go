package observe

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestLatencyTracker_AverageAndWindow(t *testing.T) {
	t.Parallel()

	lt := NewLatencyTracker(3, nil)
	if got := lt.Average(StageTextToResponse); got != 0 {
		t.Errorf("empty Average = %v; want 0", got)
	}

	for _, ms := range []int{100, 200, 300, 400} {
		lt.Record(StageTextToResponse, time.Duration(ms)*time.Millisecond)
	}
	lt.Record(StageTextToResponse, -time.Second)

	want := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 400 * time.Millisecond}
	if diff := cmp.Diff(want, lt.Samples(StageTextToResponse)); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
	if got := lt.Average(StageTextToResponse); got != 300*time.Millisecond {
		t.Errorf("Average = %v; want 300ms", got)
	}
	if got := lt.Average(StageCaptureToText); got != 0 {
		t.Errorf("other stage Average = %v; want 0", got)
	}

	snap := lt.Snapshot()
	if len(snap) != len(Stages) || snap[StageTextToResponse] != 300*time.Millisecond {
		t.Errorf("Snapshot = %v", snap)
	}
}

func TestLatencyTracker_DefaultWindow(t *testing.T) {
	t.Parallel()
	lt := NewLatencyTracker(0, nil)
	for i := range 25 {
		lt.Record(StageCaptureToText, time.Duration(i)*time.Millisecond)
	}
	s := lt.Samples(StageCaptureToText)
	if len(s) != DefaultLatencyWindow {
		t.Fatalf("kept %d samples; want %d", len(s), DefaultLatencyWindow)
	}
	if s[0] != 5*time.Millisecond {
		t.Errorf("oldest kept = %v; want 5ms", s[0])
	}
}

func TestLatencyTracker_FeedsHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	lt := NewLatencyTracker(5, m)
	lt.Record(StageResponseToAudio, 250*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "voicelink.latency.response_to_audio")
	if met == nil {
		t.Fatal("histogram not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 1 || hist.DataPoints[0].Sum != 0.25 {
		t.Errorf("data point = %+v", hist.DataPoints[0])
	}
}

func TestLatencyTracker_Concurrent(t *testing.T) {
	t.Parallel()
	lt := NewLatencyTracker(10, nil)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				lt.Record(StageCaptureToText, time.Millisecond)
				_ = lt.Average(StageCaptureToText)
			}
		}()
	}
	wg.Wait()
	if got := lt.Average(StageCaptureToText); got != time.Millisecond {
		t.Errorf("Average = %v; want 1ms", got)
	}
}
