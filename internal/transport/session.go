package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/candorvoice/candor/internal/protocol"
	"github.com/candorvoice/candor/internal/reliability"
)

// State tracks the session lifecycle. Transitions are driven by the public
// operations and by the receive loop.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSessionStarting
	StateSessionActive
	StateRecovering
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionStarting:
		return "session_starting"
	case StateSessionActive:
		return "session_active"
	case StateRecovering:
		return "recovering"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state_%d", int32(s))
	}
}

var (
	ErrConnect               = errors.New("transport: connection handshake failed")
	ErrSessionStart          = errors.New("transport: session start rejected")
	ErrNotActive             = errors.New("transport: session not active")
	ErrSessionRecoveryFailed = errors.New("transport: session recovery failed")
)

// Config carries the connection endpoint and credentials plus the recovery
// and teardown tuning knobs.
type Config struct {
	URL        string
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string

	MaxRecoveryAttempts int
	RecoveryBackoffBase time.Duration
	RecoveryBackoffCap  time.Duration
	DisconnectAckWait   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = 3
	}
	if c.RecoveryBackoffBase <= 0 {
		c.RecoveryBackoffBase = 500 * time.Millisecond
	}
	if c.RecoveryBackoffCap <= 0 {
		c.RecoveryBackoffCap = 4 * time.Second
	}
	if c.DisconnectAckWait <= 0 {
		c.DisconnectAckWait = time.Second
	}
	return c
}

// AudioConfig describes the synthesized audio the service should stream back.
type AudioConfig struct {
	Channel    int    `json:"channel"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// TTSConfig nests the playback audio parameters for session start.
type TTSConfig struct {
	AudioConfig AudioConfig `json:"audio_config"`
}

// DialogConfig seeds the server-side dialogue persona and history.
type DialogConfig struct {
	BotName string   `json:"bot_name,omitempty"`
	History []string `json:"history,omitempty"`
}

// SessionConfig is the session-start payload. It is retained verbatim so a
// recovered session starts with the same parameters as the original.
type SessionConfig struct {
	TTS    TTSConfig    `json:"tts"`
	Dialog DialogConfig `json:"dialog"`
}

// Hooks are the callbacks the session fires from its receive loop. All fields
// are optional. OnConnectionLost fires at most once per session.
type Hooks struct {
	OnFrame          func(protocol.Frame)
	OnServerError    func(code uint32, payload []byte)
	OnSessionEnd     func(event uint32)
	OnConnectionLost func(error)
	OnRecovered      func(attempt int)
	OnRecoveryFailed func(error)
}

// Session is a stateful client for the realtime dialogue service: one
// websocket connection carrying one logical dialogue session, with transparent
// recreate-session recovery.
type Session struct {
	cfg    Config
	dialer Dialer
	hooks  Hooks
	logger *zap.Logger

	state atomic.Int32

	mu         sync.Mutex // guards conn, sessionID, lastConfig
	conn       Conn
	sessionID  string
	lastConfig SessionConfig

	writeMu sync.Mutex

	closing    atomic.Bool
	lostOnce   sync.Once
	recoveries atomic.Int64
	bg         sync.WaitGroup
}

func NewSession(cfg Config, dialer Dialer, logger *zap.Logger, hooks Hooks) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:       cfg.withDefaults(),
		dialer:    dialer,
		hooks:     hooks,
		logger:    logger,
		sessionID: uuid.NewString(),
	}
}

// Connect dials the service and performs the connection-open handshake. On
// failure the session returns to the disconnected state and can be retried.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)

	header := http.Header{}
	header.Set("X-Api-App-ID", s.cfg.AppID)
	header.Set("X-Api-Access-Key", s.cfg.AccessKey)
	header.Set("X-Api-Resource-Id", s.cfg.ResourceID)
	header.Set("X-Api-App-Key", s.cfg.AppKey)
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, err := s.dialer.Dial(ctx, s.cfg.URL, header)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if lc, ok := conn.(interface{ LogID() string }); ok && lc.LogID() != "" {
		s.logger.Debug("dialogue connection established", zap.String("logid", lc.LogID()))
	}

	open, err := protocol.NewConnectionOpen()
	if err != nil {
		_ = conn.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if err := conn.WriteMessage(open); err != nil {
		_ = conn.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	frame, err := readOne(ctx, conn)
	if err != nil {
		_ = conn.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if frame.Kind != protocol.KindServerFullResponse {
		_ = conn.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: server answered connection open with %s", ErrConnect, frame.Kind)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateConnected)
	return nil
}

// StartSession announces the dialogue session on an established connection.
// A rejection leaves the connection usable so the caller may retry with a
// fresh session id.
func (s *Session) StartSession(ctx context.Context, cfg SessionConfig) error {
	s.mu.Lock()
	conn := s.conn
	sid := s.sessionID
	s.lastConfig = cfg
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrSessionStart)
	}

	s.setState(StateSessionStarting)
	start, err := protocol.NewSessionStart(sid, cfg)
	if err != nil {
		s.setState(StateConnected)
		return fmt.Errorf("%w: %v", ErrSessionStart, err)
	}
	if err := s.write(conn, start); err != nil {
		s.setState(StateConnected)
		return fmt.Errorf("%w: %v", ErrSessionStart, err)
	}

	frame, err := readOne(ctx, conn)
	if err != nil {
		s.setState(StateConnected)
		return fmt.Errorf("%w: %v", ErrSessionStart, err)
	}
	if frame.Kind != protocol.KindServerFullResponse {
		s.setState(StateConnected)
		return fmt.Errorf("%w: server answered session start with %s", ErrSessionStart, frame.Kind)
	}

	s.setState(StateSessionActive)
	s.logger.Info("dialogue session active", zap.String("session_id", sid))
	return nil
}

// SendAudio ships one uncompressed PCM chunk upstream. It fails fast with
// ErrNotActive outside the active state, including mid-recovery.
func (s *Session) SendAudio(pcm []byte) error {
	conn, sid, err := s.activeConn()
	if err != nil {
		return err
	}
	data, err := protocol.NewAudioChunk(sid, pcm)
	if err != nil {
		return err
	}
	return s.write(conn, data)
}

// SendText requests synthesis of interviewer speech.
func (s *Session) SendText(text string) error {
	conn, sid, err := s.activeConn()
	if err != nil {
		return err
	}
	data, err := protocol.NewTTSRequest(sid, text)
	if err != nil {
		return err
	}
	return s.write(conn, data)
}

// Run is the single receive loop. It dispatches frames to hooks, drives
// recreate-session recovery, and returns when the session ends or the
// connection is lost. Only one Run per session.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return nil
		}

		data, err := conn.ReadMessage()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			// A retryable close code means the peer expects us back; rebuild
			// the session instead of declaring the connection lost.
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && reliability.IsRetryableCloseCode(closeErr.Code) {
				s.logger.Warn("connection closed with retryable code",
					zap.Int("close_code", closeErr.Code), zap.String("reason", closeErr.Text))
				if rerr := s.recover(ctx); rerr != nil {
					s.setState(StateDisconnected)
					if s.hooks.OnRecoveryFailed != nil {
						s.hooks.OnRecoveryFailed(rerr)
					}
					return rerr
				}
				continue
			}
			s.logger.Warn("dialogue read failed", zap.Error(err))
			s.setState(StateDisconnected)
			s.fireConnectionLost(err)
			return err
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}

		switch {
		case frame.Kind == protocol.KindServerError:
			class := reliability.ClassifyServerError(frame.ErrorCode, frame.Payload)
			s.logger.Warn("server error frame",
				zap.Uint32("code", frame.ErrorCode),
				zap.String("class", class.String()))
			if class == reliability.ClassRecreateSession {
				if err := s.recover(ctx); err != nil {
					s.setState(StateDisconnected)
					if s.hooks.OnRecoveryFailed != nil {
						s.hooks.OnRecoveryFailed(err)
					}
					return err
				}
				continue
			}
			if s.hooks.OnServerError != nil {
				s.hooks.OnServerError(frame.ErrorCode, frame.Payload)
			}
		case frame.IsSessionEnd():
			s.setState(StateConnected)
			if s.hooks.OnSessionEnd != nil {
				s.hooks.OnSessionEnd(frame.Event)
			}
			return nil
		default:
			if s.hooks.OnFrame != nil {
				s.hooks.OnFrame(frame)
			}
		}
	}
}

// recover abandons the current session and socket, then re-dials and restarts
// the dialogue under a fresh session id with the retained session config.
func (s *Session) recover(ctx context.Context) error {
	s.setState(StateRecovering)

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	cfg := s.lastConfig
	s.mu.Unlock()

	for attempt := 0; attempt < s.cfg.MaxRecoveryAttempts; attempt++ {
		wait := reliability.ExponentialBackoff(attempt, s.cfg.RecoveryBackoffBase, s.cfg.RecoveryBackoffCap)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		s.mu.Lock()
		s.sessionID = uuid.NewString()
		sid := s.sessionID
		s.mu.Unlock()

		if err := s.Connect(ctx); err != nil {
			s.logger.Warn("recovery connect failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if err := s.StartSession(ctx, cfg); err != nil {
			s.logger.Warn("recovery session start failed", zap.Int("attempt", attempt+1), zap.Error(err))
			s.teardownConn()
			continue
		}

		s.recoveries.Add(1)
		s.logger.Info("session recovered", zap.Int("attempt", attempt+1), zap.String("session_id", sid))
		if s.hooks.OnRecovered != nil {
			s.hooks.OnRecovered(attempt + 1)
		}
		return nil
	}
	return fmt.Errorf("%w: gave up after %d attempts", ErrSessionRecoveryFailed, s.cfg.MaxRecoveryAttempts)
}

// FinishSession requests a graceful end of the dialogue session. Best effort
// and idempotent; the connection stays open for the final acknowledgments.
func (s *Session) FinishSession() {
	switch s.State() {
	case StateSessionActive, StateSessionStarting:
	default:
		return
	}
	s.mu.Lock()
	conn := s.conn
	sid := s.sessionID
	s.mu.Unlock()
	if conn != nil {
		if data, err := protocol.NewSessionFinish(sid); err == nil {
			if err := s.write(conn, data); err != nil {
				s.logger.Debug("session finish write failed", zap.Error(err))
			}
		}
	}
	s.setState(StateConnected)
}

// Disconnect sends the connection teardown and schedules the socket close in
// the background so the caller never blocks on a slow peer. Idempotent.
func (s *Session) Disconnect() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.setState(StateClosing)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		s.setState(StateDisconnected)
		return
	}

	if data, err := protocol.NewConnectionFinish(); err == nil {
		if err := s.write(conn, data); err != nil {
			s.logger.Debug("connection finish write failed", zap.Error(err))
		}
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		// Leave the socket up briefly so the service can flush its final ack.
		time.Sleep(s.cfg.DisconnectAckWait)
		_ = conn.Close()
		s.setState(StateDisconnected)
	}()
}

// Wait blocks until background teardown work has finished.
func (s *Session) Wait() { s.bg.Wait() }

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	State      string `json:"state"`
	SessionID  string `json:"session_id"`
	Recoveries int64  `json:"recoveries"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	sid := s.sessionID
	s.mu.Unlock()
	return Status{
		State:      s.State().String(),
		SessionID:  sid,
		Recoveries: s.recoveries.Load(),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) activeConn() (Conn, string, error) {
	if s.State() != StateSessionActive {
		return nil, "", ErrNotActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, "", ErrNotActive
	}
	return s.conn, s.sessionID, nil
}

func (s *Session) write(conn Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(data)
}

func (s *Session) teardownConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) fireConnectionLost(err error) {
	s.lostOnce.Do(func() {
		if s.hooks.OnConnectionLost != nil {
			s.hooks.OnConnectionLost(err)
		}
	})
}

// readOne reads and decodes a single frame, honoring any context deadline.
func readOne(ctx context.Context, conn Conn) (protocol.Frame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}
	data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Decode(data)
}
