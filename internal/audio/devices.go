package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

// MalgoOtoProvider opens the microphone through malgo and the speaker through
// oto. Both contexts are created lazily on first use; any initialization
// failure surfaces as ErrNoDevice so callers fall back to simulation.
type MalgoOtoProvider struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	otoCtx   *oto.Context
}

func NewMalgoOtoProvider() *MalgoOtoProvider { return &MalgoOtoProvider{} }

func (p *MalgoOtoProvider) captureContext() (*malgo.AllocatedContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.malgoCtx != nil {
		return p.malgoCtx, nil
	}
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init capture context: %v", ErrNoDevice, err)
	}
	p.malgoCtx = ctx
	return ctx, nil
}

func (p *MalgoOtoProvider) playbackContext(cfg StreamConfig) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.otoCtx != nil {
		return p.otoCtx, nil
	}
	// ~100ms buffer keeps interviewer speech low latency without glitching.
	opts := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: init playback context: %v", ErrNoDevice, err)
	}
	<-ready
	p.otoCtx = ctx
	return ctx, nil
}

func (p *MalgoOtoProvider) OpenInput(cfg StreamConfig) (InputStream, error) {
	ctx, err := p.captureContext()
	if err != nil {
		return nil, err
	}

	m := &micStream{}
	m.cond = sync.NewCond(&m.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			m.mu.Lock()
			m.buf = append(m.buf, samples...)
			m.mu.Unlock()
			m.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: init microphone: %v", ErrNoDevice, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: start microphone: %v", ErrNoDevice, err)
	}
	m.device = device
	return m, nil
}

func (p *MalgoOtoProvider) OpenOutput(cfg StreamConfig) (OutputStream, error) {
	ctx, err := p.playbackContext(cfg)
	if err != nil {
		return nil, err
	}
	s := &speakerStream{otoCtx: ctx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Close releases the underlying audio contexts.
func (p *MalgoOtoProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.malgoCtx != nil {
		_ = p.malgoCtx.Uninit()
		p.malgoCtx = nil
	}
	return nil
}

// micStream accumulates capture callbacks into a cond-guarded buffer and
// serves fixed-size chunks from it.
type micStream struct {
	device *malgo.Device
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func (m *micStream) ReadChunk(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.buf) < len(buf) && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return 0, io.EOF
	}
	n := copy(buf, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *micStream) Close() error {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
	}
	return nil
}

// speakerStream buffers synthesized PCM and lets oto pull it through the
// io.Reader it expects. The player starts on the first write.
type speakerStream struct {
	otoCtx  *oto.Context
	player  *oto.Player
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool
}

func (s *speakerStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read is the pull side for oto. On close it feeds silence so the device can
// drain without underrun noise.
func (s *speakerStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *speakerStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()
	if player != nil {
		_ = player.Close()
	}
	return nil
}
