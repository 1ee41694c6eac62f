package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider transcribes in process through the whisper.cpp bindings.
// libwhisper.a and whisper.h must be reachable through LIBRARY_PATH and
// C_INCLUDE_PATH at build time. The model is loaded once and shared; each
// utterance gets its own whisper context.
type NativeProvider struct {
	settings

	mu    sync.Mutex
	model whisperlib.Model
}

// NewNative loads the ggml model at modelPath. Call Close to release it.
func NewNative(modelPath string, opts ...Option) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{settings: defaultSettings(), model: model}
	for _, o := range opts {
		o(&p.settings)
	}
	return p, nil
}

// Close releases the model. Open streams fail their next inference.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// StartStream opens a stream. Multi-channel audio is down-mixed to mono
// before inference.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	return newStream(ctx, p.settings, cfg, func(_ context.Context, pcm []byte, format audio.Format) (string, error) {
		return p.infer(pcm, format, lang)
	})
}

func (p *NativeProvider) infer(pcm []byte, format audio.Format, lang string) (string, error) {
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return "", errors.New("whisper: model closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", lang, "err", err)
	}
	if err := wctx.Process(audio.Float32Mono(pcm, format.Channels), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
