package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/recognizer"
	"github.com/MrWong99/voicelink/internal/session"
	"github.com/MrWong99/voicelink/internal/transcript"
	"github.com/MrWong99/voicelink/pkg/audio/opus"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

// newSession is the [session.Factory]. It reads the current config so that
// reloaded bridge, audio and vocabulary settings apply to the next session.
func (a *App) newSession() *session.Session {
	cfg := a.Config()

	scfg := session.Config{
		BaseURL:        cfg.Bridge.BaseURL,
		SessionPath:    cfg.Bridge.SessionPath,
		WarmupInterval: cfg.Bridge.WarmupInterval,
		WarmupBound:    cfg.Bridge.WarmupBound,
		EchoWindow:     cfg.Audio.EchoWindow,
		CommitWindow:   cfg.Transcript.CommitWindow,
		ReadLimit:      cfg.Bridge.ReadLimit,
		Codec: opus.PipelineConfig{
			Bitrate:          cfg.Audio.Bitrate,
			PacketsPerPage:   cfg.Audio.PacketsPerPage,
			PlaybackChannels: cfg.Audio.PlaybackChannels,
		},
	}

	opts := []session.Option{
		session.WithStore(a.guard),
		session.WithMetrics(a.metrics),
		session.WithLatency(a.latency),
		session.WithCorrector(transcript.NewCorrector(cfg.Transcript.Vocabulary)),
	}
	if a.capture != nil {
		opts = append(opts, session.WithCapture(a.capture))
	}
	if a.sink != nil {
		opts = append(opts, session.WithPlayback(a.sink))
	}
	if a.recognizer != nil {
		opts = append(opts, session.WithRecognizer(a.recognizer, streamConfig(cfg)))
	}
	s := session.New(scfg, opts...)
	if a.onNew != nil {
		a.onNew(s)
	}
	return s
}

// keywordBoost is the boost given to every vocabulary entry.
const keywordBoost = 2

// streamConfig derives the recognizer input format from config. Vocabulary
// entries are passed on as keyword boosts.
func streamConfig(cfg *config.Config) stt.StreamConfig {
	sc := recognizer.DefaultStreamConfig
	if rc := cfg.Recognizer; rc.SampleRate > 0 {
		sc.SampleRate = rc.SampleRate
	}
	if lang := cfg.Recognizer.Language; lang != "" {
		sc.Language = lang
	}
	for _, word := range cfg.Transcript.Vocabulary {
		sc.Keywords = append(sc.Keywords, stt.KeywordBoost{Keyword: word, Boost: keywordBoost})
	}
	return sc
}

// Start opens a new session with the bridge. Bootstrap and dial are bounded
// by bridge.http_timeout when set. Turns the store already holds for the
// conversation within memory.recent_window are logged once connected.
func (a *App) Start(ctx context.Context) (*session.Session, error) {
	cfg := a.Config()
	if d := cfg.Bridge.HTTPTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	s, err := a.manager.Start(ctx)
	if err != nil {
		return s, fmt.Errorf("app: %w", err)
	}
	a.logRecent(ctx, s.Info().ConversationID, cfg.Memory.RecentWindow)
	return s, nil
}

// Stop ends the current session.
func (a *App) Stop() error {
	return a.manager.Stop()
}

// logRecent logs how much of the conversation the store already holds.
func (a *App) logRecent(ctx context.Context, conversationID string, window time.Duration) {
	if window <= 0 {
		return
	}
	recent, err := a.guard.GetRecent(ctx, conversationID, window)
	if err != nil || len(recent) == 0 {
		return
	}
	slog.Info("resuming conversation", "conversation_id", conversationID,
		"recent_turns", len(recent), "since", recent[0].Timestamp)
}

// info reports the current session for /healthz.
func (a *App) info() map[string]string {
	info := map[string]string{"session": "none"}
	s := a.manager.Current()
	if s == nil {
		return info
	}
	info["session"] = s.State().String()
	if id := s.Info().SessionID; id != "" {
		info["session_id"] = id
	}
	if up := a.manager.Uptime(); up > 0 {
		info["uptime"] = up.Round(time.Second).String()
	}
	if a.guard.Degraded() {
		info["store"] = "degraded"
	}
	return info
}
