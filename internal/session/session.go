package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelink/internal/echo"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/recognizer"
	"github.com/MrWong99/voicelink/internal/transcript"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/opus"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/protocol"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

// Defaults for [Config].
const (
	DefaultWarmupInterval = time.Second
	DefaultWarmupBound    = 90 * time.Second
	DefaultReadLimit      = 1 << 20
)

// closeTimeout bounds the close handshake on Stop.
const closeTimeout = 2 * time.Second

var (
	// ErrNotConnected is returned by send operations while the transport is
	// not open.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAlreadyStarted is returned by Connect on a session that is not new.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrEmptyText is returned by SendText and Inject for blank input.
	ErrEmptyText = errors.New("session: empty text")
)

// Config holds the tunables of a session.
type Config struct {
	// BaseURL is the bridge base, e.g. "https://bridge.example.com".
	BaseURL string

	// SessionPath is the bootstrap path below BaseURL. Default: "/session".
	SessionPath string

	// HTTPClient is used for bootstrap and the WebSocket upgrade.
	HTTPClient *http.Client

	// WarmupInterval is the period of the warm-up progress report.
	WarmupInterval time.Duration

	// WarmupBound only changes the progress message once exceeded.
	WarmupBound time.Duration

	// EchoWindow is the echo coordinator settle window.
	EchoWindow time.Duration

	// CommitWindow is the recognizer fragment debounce.
	CommitWindow time.Duration

	// Codec configures the Ogg/Opus pipeline.
	Codec opus.PipelineConfig

	// ReadLimit caps one inbound WebSocket message in bytes.
	ReadLimit int64
}

func (c Config) withDefaults() Config {
	if c.SessionPath == "" {
		c.SessionPath = DefaultSessionPath
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.WarmupInterval <= 0 {
		c.WarmupInterval = DefaultWarmupInterval
	}
	if c.WarmupBound <= 0 {
		c.WarmupBound = DefaultWarmupBound
	}
	if c.EchoWindow <= 0 {
		c.EchoWindow = echo.DefaultWindow
	}
	if c.CommitWindow <= 0 {
		c.CommitWindow = transcript.DefaultCommitWindow
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	return c
}

// CaptureFunc opens the capture source once the handshake arrives. An error
// wrapping [audio.ErrPermissionDenied] is reported as
// [EventPermissionDenied].
type CaptureFunc func(ctx context.Context) (audio.Source, error)

// Option configures a [Session].
type Option func(*Session)

// WithCapture sets how the microphone is opened. Without it the session is
// receive-only for audio.
func WithCapture(open CaptureFunc) Option {
	return func(s *Session) { s.openCapture = open }
}

// WithPlayback sends decoded remote audio to sink.
func WithPlayback(sink audio.Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithRecognizer enables local speech recognition on captured audio.
func WithRecognizer(p stt.Provider, cfg stt.StreamConfig) Option {
	return func(s *Session) {
		s.sttProvider = p
		s.sttConfig = cfg
	}
}

// WithCorrector applies vocabulary correction to spoken turns.
func WithCorrector(c *transcript.Corrector) Option {
	return func(s *Session) { s.corrector = c }
}

// WithStore persists the transcript keyed by the conversation id.
func WithStore(store memory.SessionStore) Option {
	return func(s *Session) { s.store = store }
}

// WithMetrics records frame and session metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLatency records conversational latency samples on lt.
func WithLatency(lt *observe.LatencyTracker) Option {
	return func(s *Session) { s.latency = lt }
}

// Session is one conversation with the bridge. All methods are safe for
// concurrent use.
type Session struct {
	cfg         Config
	openCapture CaptureFunc
	sink        audio.Sink
	sttProvider stt.Provider
	sttConfig   stt.StreamConfig
	corrector   *transcript.Corrector
	store       memory.SessionStore
	metrics     *observe.Metrics
	latency     *observe.LatencyTracker

	events *reporter

	// ctx lives from New until teardown; cancel starts teardown.
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	handshake chan struct{}
	done      chan struct{}
	finish    sync.Once

	mu               sync.Mutex
	state            State
	info             Info
	log              *slog.Logger
	conn             *websocket.Conn
	connectedAt      time.Time
	handshakeReached bool
	stopping         bool
	pending          map[string]time.Time
	source           audio.Source

	// Created in Connect, read-only afterwards.
	bridge   *transcript.Bridge
	coord    *echo.Coordinator
	rec      *recognizer.Recognizer
	pipeline *opus.Pipeline
}

// New returns a disconnected session.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg.withDefaults(),
		events:    newReporter(),
		handshake: make(chan struct{}),
		done:      make(chan struct{}),
		pending:   make(map[string]time.Time),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.g, s.ctx = errgroup.WithContext(s.ctx)
	return s
}

// Events returns the status channel. It is closed once the session has been
// torn down.
func (s *Session) Events() <-chan Event { return s.events.ch }

// Handshake is closed when the session becomes active.
func (s *Session) Handshake() <-chan struct{} { return s.handshake }

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the bootstrap identifiers, zero before bootstrap.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Bridge returns the transcript bridge, or nil before Connect.
func (s *Session) Bridge() *transcript.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

// Speaking reports whether remote audio is currently playing.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()
	return coord != nil && coord.Speaking()
}

// TextOnly reports whether the codec pipeline is unavailable.
func (s *Session) TextOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline == nil || s.pipeline.TextOnly()
}

// SetEchoWindow changes the echo settle window of a running session.
func (s *Session) SetEchoWindow(d time.Duration) {
	s.mu.Lock()
	s.cfg.EchoWindow = d
	coord := s.coord
	s.mu.Unlock()
	if coord != nil {
		coord.SetWindow(d)
	}
}

// SetCommitWindow changes the recognizer fragment debounce of a running session.
func (s *Session) SetCommitWindow(d time.Duration) {
	s.mu.Lock()
	s.cfg.CommitWindow = d
	b := s.bridge
	s.mu.Unlock()
	if b != nil {
		b.SetCommitWindow(d)
	}
}

// setStateLocked must be called with s.mu held. It returns the event to
// emit after unlocking.
func (s *Session) setStateLocked(to State, err error) Event {
	from := s.state
	s.state = to
	s.log.Info("session: state change", "from", from.String(), "to", to.String())
	return Event{Kind: EventState, State: to, Err: err}
}

// Connect bootstraps the session, dials the WebSocket and starts the
// receive loop. ctx bounds only bootstrap and dial; the session then runs
// until Stop or the transport closes. On failure the session is
// [StateFailed] and the error is also reported on the status channel.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ev := s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()
	s.events.emit(ev)

	// Stop during connect aborts the dial.
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	defer context.AfterFunc(s.ctx, cancelDial)()

	info, conn, err := s.dial(dialCtx)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session stopped")
		return context.Canceled
	}
	s.info = info
	s.log = slog.Default().With("session_id", info.SessionID)
	s.conn = conn
	s.connectedAt = time.Now()
	s.build(info)
	ev = s.setStateLocked(StateAwaitingHandshake, nil)
	s.mu.Unlock()
	s.events.emit(ev)

	s.metrics.ActiveSessions.Add(s.ctx, 1)
	if s.pipeline.TextOnly() {
		s.events.emit(Event{Kind: EventTextOnly, Err: s.pipeline.Err()})
	} else {
		s.pipeline.Start()
		s.startPlayback()
	}

	s.g.Go(func() error { return s.readLoop(s.ctx) })
	s.g.Go(func() error { return s.warmup(s.ctx) })
	go s.supervise()
	return nil
}

func (s *Session) dial(ctx context.Context) (Info, *websocket.Conn, error) {
	ctx, span := observe.StartSpan(ctx, "session.connect")
	defer span.End()

	bctx, bspan := observe.StartSpan(ctx, "session.bootstrap")
	info, err := Bootstrap(bctx, s.cfg.HTTPClient, s.cfg.BaseURL, s.cfg.SessionPath)
	observe.RecordError(bspan, err)
	bspan.End()
	if err != nil {
		observe.RecordError(span, err)
		return Info{}, nil, err
	}

	wsURL, err := WebSocketURL(s.cfg.BaseURL, info.SessionID)
	if err != nil {
		observe.RecordError(span, err)
		return Info{}, nil, err
	}
	observe.Logger(ctx).Debug("session: dialing bridge", "url", wsURL, "session_id", info.SessionID)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: s.cfg.HTTPClient})
	if err != nil {
		err = fmt.Errorf("session: dial %s: %w", wsURL, err)
		observe.RecordError(span, err)
		return Info{}, nil, err
	}
	conn.SetReadLimit(s.cfg.ReadLimit)
	return info, conn, nil
}

// build creates the per-session components. Must be called with s.mu held.
func (s *Session) build(info Info) {
	bridgeOpts := []transcript.BridgeOption{
		transcript.WithCommitWindow(s.cfg.CommitWindow),
		transcript.WithCorrector(s.corrector),
		transcript.WithOnCommit(s.sendSpoken),
		transcript.WithOnTurn(func(t transcript.Turn) {
			s.events.emit(Event{Kind: EventTurn, Turn: t})
		}),
	}
	if s.latency != nil {
		bridgeOpts = append(bridgeOpts, transcript.WithLatency(s.latency))
	}
	if s.store != nil {
		bridgeOpts = append(bridgeOpts, transcript.WithStore(s.store, info.ConversationID))
	}
	s.bridge = transcript.NewBridge(bridgeOpts...)

	var rec echo.Recognition
	if s.sttProvider != nil {
		s.rec = recognizer.New(s.sttProvider,
			recognizer.WithStreamConfig(s.sttConfig),
			recognizer.WithOnFinal(s.bridge.OnRecognized),
			recognizer.WithOnPartial(s.sendSpeech),
		)
		rec = s.rec
	}
	s.coord = echo.New(rec, echo.WithWindow(s.cfg.EchoWindow))
	s.pipeline = opus.NewPipeline(s.ctx, s.cfg.Codec)
}

// fail records a connect failure and releases what exists.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.closeOut()
		return
	}
	ev := s.setStateLocked(StateFailed, err)
	s.mu.Unlock()

	s.log.Warn("session: connect failed", "err", err)
	s.events.emit(Event{Kind: EventTransportError, Err: err})
	s.events.emit(ev)
	s.cancel()
	s.closeOut()
}

func (s *Session) closeOut() {
	s.finish.Do(func() {
		s.events.close()
		close(s.done)
	})
}

// Stop tears the session down: recognizer, capture, codecs and transport.
// Queued codec work drains silently. Stop is idempotent and waits for
// teardown to finish.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch {
	case s.state == StateDisconnected:
		ev := s.setStateLocked(StateClosed, nil)
		s.stopping = true
		s.mu.Unlock()
		s.events.emit(ev)
		s.cancel()
		s.closeOut()
		return nil
	case s.stopping || s.state.Done():
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.stopping = true
	ev := s.setStateLocked(StateClosed, nil)
	conn := s.conn
	s.mu.Unlock()
	s.events.emit(ev)

	if conn != nil {
		// Close handshake first so the bridge sees a normal closure.
		closed := make(chan struct{})
		go func() {
			conn.Close(websocket.StatusNormalClosure, "session stopped")
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(closeTimeout):
		}
	}
	s.cancel()
	if conn == nil {
		// Still connecting; Connect observes stopping and finishes.
		s.closeOut()
	}
	<-s.done
	return nil
}

// supervise waits for the session context to end and tears everything down.
func (s *Session) supervise() {
	<-s.ctx.Done()

	s.mu.Lock()
	rec, src, coord, pipe, conn, b := s.rec, s.source, s.coord, s.pipeline, s.conn, s.bridge
	s.mu.Unlock()

	if rec != nil {
		if err := rec.Close(); err != nil {
			s.log.Debug("session: recognizer close", "err", err)
		}
	}
	if src != nil {
		if err := src.Close(); err != nil {
			s.log.Debug("session: capture close", "err", err)
		}
	}
	coord.Close()
	_ = pipe.Close()
	conn.CloseNow()

	if err := s.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("session: worker exited", "err", err)
	}
	b.Close()
	s.metrics.ActiveSessions.Add(context.Background(), -1)

	s.log.Info("session: torn down", "state", s.State().String())
	s.closeOut()
}

// readLoop owns conn.Read. It returns when the transport closes.
func (s *Session) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.transportClosed(err)
			return nil
		}
		switch typ {
		case websocket.MessageBinary:
			s.handleBinary(ctx, data)
		case websocket.MessageText:
			s.handleText(ctx, data)
		}
	}
}

// transportClosed decides the final state from the handshake flag alone;
// close codes from the bridge are not reliable enough for that.
func (s *Session) transportClosed(err error) {
	s.mu.Lock()
	if s.stopping || s.state.Done() {
		s.mu.Unlock()
		s.cancel()
		return
	}
	target := StateFailed
	if s.handshakeReached {
		target = StateClosed
	}
	var stateErr error
	status := websocket.CloseStatus(err)
	if target == StateFailed {
		stateErr = fmt.Errorf("session: transport closed before handshake: %w", err)
	}
	ev := s.setStateLocked(target, stateErr)
	s.mu.Unlock()

	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		s.log.Warn("session: transport closed", "status", status.String(), "err", err)
		s.events.emit(Event{Kind: EventTransportError, Err: err})
	} else {
		s.log.Info("session: transport closed by bridge", "status", status.String())
	}
	s.events.emit(ev)
	s.cancel()
}

func (s *Session) handleBinary(ctx context.Context, data []byte) {
	kind := protocol.Classify(data)
	s.metrics.RecordFrameReceived(ctx, kind.String())

	switch kind {
	case protocol.KindHandshake:
		s.onHandshake(ctx)
	case protocol.KindAudio:
		s.onAudio(ctx, data[1:])
	case protocol.KindControl:
		f, _ := protocol.Decode(data)
		msg, err := protocol.Control(f)
		if err != nil {
			s.log.Warn("session: dropping control frame", "err", err)
			s.metrics.RecordDroppedFrame(ctx, kind.String())
			return
		}
		s.log.Info("session: control", "message", msg)
		s.events.emit(Event{Kind: EventControl, Message: msg})
	default:
		tag := "none"
		if len(data) > 0 {
			tag = protocol.Tag(data[0]).String()
		}
		s.log.Warn("session: dropping frame", "kind", kind.String(), "tag", tag, "bytes", len(data))
		s.metrics.RecordDroppedFrame(ctx, kind.String())
	}
}

func (s *Session) onHandshake(ctx context.Context) {
	s.mu.Lock()
	if s.handshakeReached {
		s.mu.Unlock()
		s.log.Warn("session: duplicate handshake ignored")
		return
	}
	s.handshakeReached = true
	elapsed := time.Since(s.connectedAt)
	ev := s.setStateLocked(StateActive, nil)
	s.mu.Unlock()

	close(s.handshake)
	s.metrics.HandshakeDuration.Record(ctx, elapsed.Seconds())
	s.log.Info("session: handshake complete", "elapsed", elapsed.Round(time.Millisecond).String())
	s.events.emit(ev)

	if dec := s.pipeline.Decoder(); dec != nil {
		select {
		case <-dec.Ready():
		default:
			s.log.Debug("session: decoder warm-up still pending", "queued", dec.Queued())
		}
	}

	if s.rec != nil {
		s.g.Go(func() error {
			if err := s.rec.Start(ctx); err != nil {
				s.log.Warn("session: local recognizer unavailable", "err", err)
			}
			return nil
		})
	}
	if enc := s.pipeline.Encoder(); enc != nil {
		s.g.Go(func() error { return s.sendPages(ctx, enc) })
	}
	if s.openCapture != nil {
		s.g.Go(func() error { return s.capture(ctx) })
	}
}

func (s *Session) onAudio(ctx context.Context, page []byte) {
	s.coord.OnRemoteAudio()
	s.bridge.OnRemoteAudio()

	dec := s.pipeline.Decoder()
	if dec == nil {
		return
	}
	if err := dec.Submit(page); err != nil {
		s.log.Debug("session: decoder rejected page", "err", err)
		return
	}
	s.metrics.DecoderQueueDepth.Record(ctx, int64(dec.Queued()))
}

func (s *Session) handleText(ctx context.Context, data []byte) {
	s.metrics.RecordFrameReceived(ctx, "json")
	msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		s.log.Warn("session: dropping json message", "err", err)
		s.metrics.RecordDroppedFrame(ctx, "json")
		return
	}

	switch m := msg.(type) {
	case protocol.TextMessage:
		s.bridge.AppendRemote(m.Text)
	case protocol.MASEvent:
		s.events.emit(Event{Kind: EventMAS, Data: m.Event})
	case protocol.InjectionAck:
		s.resolveInjection(m.InjectionID)
	case protocol.ErrorMessage:
		s.log.Warn("session: bridge reported error", "message", m.Message)
		s.events.emit(Event{Kind: EventRemoteError, Message: m.Message})
	case protocol.UnknownMessage:
		s.log.Debug("session: ignoring unknown message", "type", m.Type)
	}
}

// warmup reports progress every interval until the handshake or teardown.
func (s *Session) warmup(ctx context.Context) error {
	s.mu.Lock()
	start := s.connectedAt
	s.mu.Unlock()

	t := time.NewTicker(s.cfg.WarmupInterval)
	defer t.Stop()
	warned := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.handshake:
			return nil
		case <-t.C:
			elapsed := time.Since(start)
			if elapsed > s.cfg.WarmupBound && !warned {
				warned = true
				s.log.Warn("session: handshake is taking longer than expected", "elapsed", elapsed.Round(time.Second).String())
			}
			s.events.emit(Event{
				Kind:    EventWarmup,
				Elapsed: elapsed,
				Message: warmupMessage(elapsed, s.cfg.WarmupBound),
			})
		}
	}
}

// capture pumps the capture source into the encoder and the recognizer.
func (s *Session) capture(ctx context.Context) error {
	src, err := s.openCapture(ctx)
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			s.log.Warn("session: capture permission denied", "err", err)
			s.events.emit(Event{Kind: EventPermissionDenied, Err: err})
			return nil
		}
		s.log.Warn("session: capture unavailable", "err", err)
		s.events.emit(Event{Kind: EventTransportError, Err: err})
		return nil
	}

	s.mu.Lock()
	if s.stopping || ctx.Err() != nil {
		s.mu.Unlock()
		return src.Close()
	}
	s.source = src
	s.mu.Unlock()
	s.log.Info("session: capture started", "format", fmt.Sprintf("%dHz/%dch", src.Format().SampleRate, src.Format().Channels))

	enc := s.pipeline.Encoder()
	frames := src.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				s.log.Info("session: capture ended")
				if enc != nil {
					// Flushes the final page.
					_ = enc.Close()
				}
				return nil
			}
			if s.rec != nil {
				if err := s.rec.Feed(frame); err != nil && !errors.Is(err, recognizer.ErrClosed) {
					s.log.Debug("session: recognizer feed", "err", err)
				}
			}
			if enc != nil {
				if err := enc.Encode(ctx, frame); err != nil {
					if errors.Is(err, opus.ErrClosed) || ctx.Err() != nil {
						return nil
					}
					s.log.Warn("session: encode", "err", err)
				}
			}
		}
	}
}

// sendPages forwards encoded Ogg pages as tag-1 frames.
func (s *Session) sendPages(ctx context.Context, enc *opus.Encoder) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case page, ok := <-enc.Pages():
			if !ok {
				return nil
			}
			if err := s.writeBinary(ctx, protocol.Frame{Tag: protocol.TagAudio, Payload: page}); err != nil {
				return nil
			}
		}
	}
}

// startPlayback drains decoded audio into the sink, or discards it when
// there is none so the decoder never blocks.
func (s *Session) startPlayback() {
	frames := s.pipeline.Decoder().Frames()
	if s.sink == nil {
		go audio.Drain(frames)
		return
	}
	player := opus.NewPlayer(s.sink)
	s.g.Go(func() error {
		err := player.Run(s.ctx, frames)
		s.log.Debug("session: playback stopped", "frames", player.Written())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func (s *Session) openConn() (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Open() || s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func (s *Session) writeBinary(ctx context.Context, f protocol.Frame) error {
	conn, err := s.openConn()
	if err != nil {
		return err
	}
	b, err := protocol.EncodeClient(f)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return s.sendFailed(err)
	}
	s.metrics.RecordFrameSent(ctx, f.Tag.String())
	return nil
}

func (s *Session) writeJSON(ctx context.Context, msg any) error {
	conn, err := s.openConn()
	if err != nil {
		return err
	}
	data, err := protocol.MarshalClient(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return s.sendFailed(err)
	}
	s.metrics.RecordFrameSent(ctx, "json")
	return nil
}

func (s *Session) sendFailed(err error) error {
	err = fmt.Errorf("session: send: %w", err)
	if s.ctx.Err() == nil {
		s.log.Warn("session: send failed", "err", err)
		s.events.emit(Event{Kind: EventTransportError, Err: err})
	}
	return err
}

// sendSpoken is the bridge commit callback for recognized utterances.
func (s *Session) sendSpoken(text string) {
	if err := s.writeJSON(s.ctx, protocol.UserTranscript{Text: text}); err != nil {
		s.log.Debug("session: user transcript not sent", "err", err)
	}
}

// sendSpeech forwards an interim recognizer guess.
func (s *Session) sendSpeech(text string) {
	if err := s.writeJSON(s.ctx, protocol.UserSpeech{Text: text}); err != nil {
		s.log.Debug("session: user speech not sent", "err", err)
	}
}

// SendText commits a typed user turn and sends it as user_transcript.
func (s *Session) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if _, err := s.openConn(); err != nil {
		return err
	}
	// Committed first so the reply is never appended to the previous response.
	s.bridge.CommitText(text)
	return s.writeJSON(ctx, protocol.UserTranscript{Text: text})
}

// Inject pushes out-of-band text into the remote conversation and returns
// its id. The injection stays pending until the bridge acknowledges it.
func (s *Session) Inject(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	inj := protocol.NewInjection(text)

	s.mu.Lock()
	s.pending[inj.InjectionID] = time.Now()
	s.mu.Unlock()

	if err := s.writeJSON(ctx, inj); err != nil {
		s.mu.Lock()
		delete(s.pending, inj.InjectionID)
		s.mu.Unlock()
		return "", err
	}
	s.log.Debug("session: injection sent", "injection_id", inj.InjectionID)
	return inj.InjectionID, nil
}

// PendingInjections returns the ids of unacknowledged injections.
func (s *Session) PendingInjections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) resolveInjection(id string) {
	s.mu.Lock()
	sent, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if !ok {
		s.log.Warn("session: ack for unknown injection", "injection_id", id)
		return
	}
	s.log.Debug("session: injection acknowledged", "injection_id", id, "after", time.Since(sent).Round(time.Millisecond).String())
	s.events.emit(Event{Kind: EventInjectionAck, InjectionID: id})
}
