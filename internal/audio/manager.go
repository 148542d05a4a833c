package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SendFunc ships one captured PCM chunk toward the network layer.
type SendFunc func(pcm []byte) error

// ManagerConfig tunes the capture/playback pipelines.
type ManagerConfig struct {
	Capture  StreamConfig
	Playback StreamConfig

	// PlaybackQueueDepth bounds buffered interviewer speech; overflow chunks
	// are discarded rather than delaying the receive loop.
	PlaybackQueueDepth int
	// SendQueueDepth bounds the capture-to-sender handoff.
	SendQueueDepth int
	// HandoffTimeout is how long capture waits on a full send queue before
	// dropping the chunk.
	HandoffTimeout time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.Capture.SampleRate == 0 {
		c.Capture = DefaultCaptureConfig()
	}
	if c.Playback.SampleRate == 0 {
		c.Playback = DefaultPlaybackConfig()
	}
	if c.PlaybackQueueDepth <= 0 {
		c.PlaybackQueueDepth = 64
	}
	if c.SendQueueDepth <= 0 {
		c.SendQueueDepth = 16
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = 200 * time.Millisecond
	}
	return c
}

// Manager runs the two audio pipelines: microphone chunks to the network
// send path, and received synthesis chunks to the speaker. Either direction
// degrades to simulation when its device cannot be opened, and the session
// keeps going.
type Manager struct {
	cfg     ManagerConfig
	devices DeviceProvider
	send    SendFunc
	logger  *zap.Logger
	tap     *WAVTap

	in  InputStream
	out OutputStream

	captureSimulated  atomic.Bool
	playbackSimulated atomic.Bool

	playbackCh chan []byte
	sendCh     chan []byte
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	recording atomic.Bool
	playing   atomic.Bool
	dropped   atomic.Int64
	discarded atomic.Int64
}

func NewManager(cfg ManagerConfig, devices DeviceProvider, send SendFunc, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:        cfg,
		devices:    devices,
		send:       send,
		logger:     logger,
		playbackCh: make(chan []byte, cfg.PlaybackQueueDepth),
		sendCh:     make(chan []byte, cfg.SendQueueDepth),
		stopCh:     make(chan struct{}),
	}
}

// SetPlaybackTap mirrors played audio into a WAV file. Must be called before
// Start.
func (m *Manager) SetPlaybackTap(tap *WAVTap) { m.tap = tap }

// Start opens both devices and launches the pipeline goroutines. Device
// failures are absorbed as simulation mode, never returned.
func (m *Manager) Start() {
	in, err := m.devices.OpenInput(m.cfg.Capture)
	if err != nil {
		m.captureSimulated.Store(true)
		if errors.Is(err, ErrNoDevice) {
			m.logger.Info("no capture device, simulating microphone")
		} else {
			m.logger.Warn("capture device unavailable, simulating microphone", zap.Error(err))
		}
	} else {
		m.in = in
	}

	out, err := m.devices.OpenOutput(m.cfg.Playback)
	if err != nil {
		m.playbackSimulated.Store(true)
		if errors.Is(err, ErrNoDevice) {
			m.logger.Info("no playback device, discarding interviewer audio")
		} else {
			m.logger.Warn("playback device unavailable, discarding interviewer audio", zap.Error(err))
		}
	} else {
		m.out = out
	}

	m.recording.Store(true)
	m.playing.Store(true)
	m.wg.Add(3)
	go m.captureLoop()
	go m.senderLoop()
	go m.playbackLoop()
}

func (m *Manager) captureLoop() {
	defer m.wg.Done()
	defer m.recording.Store(false)

	chunkBytes := m.cfg.Capture.ChunkBytes()
	tick := m.cfg.Capture.ChunkDuration()
	buf := make([]byte, chunkBytes)

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if m.captureSimulated.Load() {
			// Keep the cadence of a live microphone without sending anything.
			select {
			case <-m.stopCh:
				return
			case <-time.After(tick):
			}
			continue
		}

		n, err := m.in.ReadChunk(buf)
		if err != nil {
			select {
			case <-m.stopCh:
			default:
				m.logger.Warn("microphone read failed, capture stopped", zap.Error(err))
			}
			return
		}
		chunk := append([]byte(nil), buf[:n]...)

		select {
		case m.sendCh <- chunk:
		case <-time.After(m.cfg.HandoffTimeout):
			m.dropped.Add(1)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) senderLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case chunk := <-m.sendCh:
			if err := m.send(chunk); err != nil {
				m.logger.Debug("audio send failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) playbackLoop() {
	defer m.wg.Done()
	defer m.playing.Store(false)

	for {
		select {
		case <-m.stopCh:
			return
		case chunk := <-m.playbackCh:
			if m.tap != nil {
				if _, err := m.tap.Write(chunk); err != nil {
					m.logger.Debug("playback tap write failed", zap.Error(err))
				}
			}
			if m.playbackSimulated.Load() {
				m.logger.Debug("discarding audio chunk", zap.Int("bytes", len(chunk)))
				continue
			}
			if err := m.out.Write(chunk); err != nil {
				m.logger.Warn("speaker write failed, discarding further audio", zap.Error(err))
				m.playbackSimulated.Store(true)
			}
		}
	}
}

// EnqueuePlayback hands a synthesized chunk to the playback pipeline without
// blocking. A full queue discards the chunk.
func (m *Manager) EnqueuePlayback(pcm []byte) {
	chunk := append([]byte(nil), pcm...)
	select {
	case m.playbackCh <- chunk:
	default:
		m.discarded.Add(1)
	}
}

// Flush drops all queued playback audio, returning the number of chunks
// removed. Used when the interviewer is interrupted mid-utterance.
func (m *Manager) Flush() int {
	flushed := 0
	for {
		select {
		case <-m.playbackCh:
			flushed++
		default:
			if f, ok := m.out.(interface{ Flush() }); ok && f != nil {
				f.Flush()
			}
			return flushed
		}
	}
}

// Stop halts both pipelines promptly. Device teardown can block on hardware,
// so stream closes run in the background.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		go func() {
			// Closing the input first unblocks a capture loop stuck in a read.
			if m.in != nil {
				_ = m.in.Close()
			}
			if m.out != nil {
				_ = m.out.Close()
			}
			m.wg.Wait()
			if m.tap != nil {
				if err := m.tap.Close(); err != nil {
					m.logger.Debug("playback tap close failed", zap.Error(err))
				}
			}
		}()
	})
}

// Snapshot reports pipeline health for diagnostics.
type Snapshot struct {
	CaptureSimulated  bool  `json:"capture_simulated"`
	PlaybackSimulated bool  `json:"playback_simulated"`
	DroppedChunks     int64 `json:"dropped_chunks"`
	DiscardedChunks   int64 `json:"discarded_chunks"`
	QueueDepth        int   `json:"queue_depth"`
	Recording         bool  `json:"recording"`
	Playing           bool  `json:"playing"`
}

func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		CaptureSimulated:  m.captureSimulated.Load(),
		PlaybackSimulated: m.playbackSimulated.Load(),
		DroppedChunks:     m.dropped.Load(),
		DiscardedChunks:   m.discarded.Load(),
		QueueDepth:        len(m.playbackCh),
		Recording:         m.recording.Load(),
		Playing:           m.playing.Load(),
	}
}
