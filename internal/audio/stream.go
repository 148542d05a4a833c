package audio

import (
	"errors"
	"time"
)

// StreamConfig fixes the PCM shape of one direction of the audio path.
// ChunkSamples is the unit of transfer toward the network layer.
type StreamConfig struct {
	Format       string
	BitDepth     int
	Channels     int
	SampleRate   int
	ChunkSamples int
}

// DefaultCaptureConfig matches what the dialogue service expects upstream.
func DefaultCaptureConfig() StreamConfig {
	return StreamConfig{Format: "pcm", BitDepth: 16, Channels: 1, SampleRate: 16000, ChunkSamples: 3200}
}

// DefaultPlaybackConfig matches the synthesized audio the service streams back.
func DefaultPlaybackConfig() StreamConfig {
	return StreamConfig{Format: "pcm", BitDepth: 16, Channels: 1, SampleRate: 24000, ChunkSamples: 3200}
}

// ChunkBytes is the byte length of one chunk.
func (c StreamConfig) ChunkBytes() int {
	return c.ChunkSamples * c.Channels * c.BitDepth / 8
}

// ChunkDuration is the wall-clock length of one chunk.
func (c StreamConfig) ChunkDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.ChunkSamples) * time.Second / time.Duration(c.SampleRate)
}

// ErrNoDevice reports that no usable audio hardware is available. The manager
// treats it as a signal to run that direction in simulation mode.
var ErrNoDevice = errors.New("audio: no device available")

// InputStream yields captured PCM. ReadChunk blocks until it can fill buf.
type InputStream interface {
	ReadChunk(buf []byte) (int, error)
	Close() error
}

// OutputStream consumes PCM for playback.
type OutputStream interface {
	Write(pcm []byte) error
	Close() error
}

// DeviceProvider opens hardware-backed streams.
type DeviceProvider interface {
	OpenInput(cfg StreamConfig) (InputStream, error)
	OpenOutput(cfg StreamConfig) (OutputStream, error)
}

// NullDeviceProvider reports no hardware. Useful for headless hosts and tests.
type NullDeviceProvider struct{}

func (NullDeviceProvider) OpenInput(StreamConfig) (InputStream, error)   { return nil, ErrNoDevice }
func (NullDeviceProvider) OpenOutput(StreamConfig) (OutputStream, error) { return nil, ErrNoDevice }
