// Package whisper implements [stt.Provider] on whisper.cpp, either through a
// running whisper-server (POST /inference) or in process through the CGO
// bindings.
//
// whisper.cpp transcribes whole clips, so both providers buffer PCM, cut it
// into utterances with an energy-based silence detector and transcribe each
// utterance once it ends. Only finals are produced.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	h.SendAudio(pcm)
//	t := <-h.Finals()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/wav"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider transcribes through a whisper-server over HTTP. It is safe for
// concurrent use; every stream runs its own goroutine.
type Provider struct {
	serverURL string
	settings
}

// New returns a Provider for the whisper-server at serverURL, for example
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		settings:  defaultSettings(),
	}
	for _, o := range opts {
		o(&p.settings)
	}
	return p, nil
}

// StartStream opens a stream. No request is made until the first utterance
// ends.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	return newStream(ctx, p.settings, cfg, func(ctx context.Context, pcm []byte, format audio.Format) (string, error) {
		return p.infer(ctx, pcm, format, lang)
	})
}

// infer uploads pcm as a WAV file and returns the recognised text.
func (p *Provider) infer(ctx context.Context, pcm []byte, format audio.Format, lang string) (string, error) {
	var clip bytes.Buffer
	if err := wav.WriteHeader(&clip, format, uint32(len(pcm))); err != nil {
		return "", fmt.Errorf("whisper: wav header: %w", err)
	}
	clip.Write(pcm)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Bytes()); err != nil {
		return "", fmt.Errorf("whisper: write form file: %w", err)
	}
	fields := [][2]string{{"response_format", "json"}, {"language", lang}, {"model", p.model}}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
