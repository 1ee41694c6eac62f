package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/wav"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
	"github.com/MrWong99/voicelink/pkg/provider/stt/whisper"
)

// upload is what the fake server saw in one /inference request.
type upload struct {
	format   audio.Format
	dataSize uint32
	language string
	model    string
}

type fakeServer struct {
	*httptest.Server
	calls   atomic.Int32
	mu      sync.Mutex
	uploads []upload
}

// newFakeServer answers POST /inference with text, or with status when it
// is not 200.
func newFakeServer(t *testing.T, text string, status int) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		fs.calls.Add(1)
		if status != http.StatusOK {
			http.Error(w, "model busy", status)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		format, size, err := wav.ReadHeader(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.mu.Lock()
		fs.uploads = append(fs.uploads, upload{
			format:   format,
			dataSize: size,
			language: r.FormValue("language"),
			model:    r.FormValue("model"),
		})
		fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) Uploads() []upload {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]upload(nil), fs.uploads...)
}

// speech returns n samples of a loud 440 Hz tone at 16 kHz.
func speech(n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silence(n int) []byte { return make([]byte, n*2) }

func start(t *testing.T, p *whisper.Provider) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func receive(t *testing.T, ch <-chan stt.Transcript) stt.Transcript {
	t.Helper()
	select {
	case tr, ok := <-ch:
		if !ok {
			t.Fatal("finals closed before a transcript arrived")
		}
		return tr
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a transcript")
	}
	return stt.Transcript{}
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Error("empty server URL accepted")
	}
	if _, err := whisper.New("http://localhost:8080/",
		whisper.WithModel("base.en"),
		whisper.WithLanguage("de"),
		whisper.WithSampleRate(24000),
		whisper.WithSilence(300*time.Millisecond),
		whisper.WithMaxBuffer(5*time.Second),
		whisper.WithRMSThreshold(200),
		whisper.WithHTTPClient(http.DefaultClient),
	); err != nil {
		t.Errorf("New with options: %v", err)
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("StartStream with cancelled context succeeded")
	}
}

func TestSpeechThenSilence_TranscribesUtterance(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, "  what grows here  ", http.StatusOK)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("en"), whisper.WithModel("base.en"))
	h := start(t, p)

	// 200 ms of leading silence is dropped, then 500 ms speech and 500 ms silence.
	_ = h.SendAudio(silence(3200))
	_ = h.SendAudio(speech(8000))
	_ = h.SendAudio(silence(8000))

	tr := receive(t, h.Finals())
	if tr.Text != "what grows here" || !tr.IsFinal {
		t.Errorf("transcript = %+v", tr)
	}
	if tr.Timestamp != 200*time.Millisecond {
		t.Errorf("Timestamp = %v; want 200ms", tr.Timestamp)
	}
	if tr.Duration != time.Second {
		t.Errorf("Duration = %v; want 1s", tr.Duration)
	}

	ups := srv.Uploads()
	if len(ups) != 1 {
		t.Fatalf("uploads = %d; want 1", len(ups))
	}
	want := upload{format: audio.Format{SampleRate: 16000, Channels: 1}, dataSize: 32000, language: "en", model: "base.en"}
	if ups[0] != want {
		t.Errorf("upload = %+v; want %+v", ups[0], want)
	}
}

func TestSilenceAlone_NoInference(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, "ghost", http.StatusOK)
	p, _ := whisper.New(srv.URL)
	h := start(t, p)
	for range 10 {
		_ = h.SendAudio(silence(1600))
	}
	_ = h.Close()
	if n := srv.calls.Load(); n != 0 {
		t.Errorf("inference calls = %d; want 0", n)
	}
	if _, ok := <-h.Finals(); ok {
		t.Error("unexpected transcript for silence")
	}
}

func TestMaxBuffer_ForcesFlush(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, "long speech", http.StatusOK)
	p, _ := whisper.New(srv.URL, whisper.WithMaxBuffer(200*time.Millisecond))
	h := start(t, p)
	for range 4 {
		_ = h.SendAudio(speech(1600))
	}
	if tr := receive(t, h.Finals()); tr.Text != "long speech" {
		t.Errorf("text = %q", tr.Text)
	}
}

func TestClose_FlushesBufferedSpeech(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, "cut short", http.StatusOK)
	p, _ := whisper.New(srv.URL)
	h := start(t, p)
	_ = h.SendAudio(speech(1600))
	time.Sleep(50 * time.Millisecond)
	_ = h.Close()

	tr, ok := <-h.Finals()
	if !ok || tr.Text != "cut short" {
		t.Fatalf("final after Close = %+v, %v", tr, ok)
	}
	if _, ok := <-h.Partials(); ok {
		t.Error("partials yielded a value")
	}
}

func TestInferenceFailures_ProduceNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		status int
	}{
		{name: "server error", text: "x", status: http.StatusInternalServerError},
		{name: "empty text", text: "   ", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newFakeServer(t, tt.text, tt.status)
			p, _ := whisper.New(srv.URL)
			h := start(t, p)
			_ = h.SendAudio(speech(1600))
			_ = h.SendAudio(silence(8000))
			deadline := time.Now().Add(2 * time.Second)
			for srv.calls.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			_ = h.Close()
			if _, ok := <-h.Finals(); ok {
				t.Error("unexpected transcript")
			}
		})
	}
}

func TestSessionContract(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://localhost:1")
	h := start(t, p)
	if err := h.SetKeywords([]stt.KeywordBoost{{Keyword: "x"}}); !errors.Is(err, stt.ErrNotSupported) {
		t.Errorf("SetKeywords = %v; want ErrNotSupported", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := h.SendAudio([]byte{0, 0}); !errors.Is(err, whisper.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v; want ErrSessionClosed", err)
	}
}

func TestConcurrentSendAudio(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, "hi", http.StatusOK)
	p, _ := whisper.New(srv.URL)
	h := start(t, p)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_ = h.SendAudio(speech(160))
			}
		}()
	}
	wg.Wait()
	_ = h.Close()
}
