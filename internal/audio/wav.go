package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const wavHeaderSize = 44

// WAVTap streams PCM16LE into a WAV file. The header is written up front with
// placeholder sizes and patched on Close, so a crash leaves a recoverable
// (if mislabeled) file rather than nothing.
type WAVTap struct {
	f         *os.File
	cfg       StreamConfig
	dataBytes uint32
	finalized bool
}

func NewWAVTap(path string, cfg StreamConfig) (*WAVTap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create wav tap: %w", err)
	}
	t := &WAVTap{f: f, cfg: cfg}
	if err := t.writeHeader(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return t, nil
}

func (t *WAVTap) Write(pcm []byte) (int, error) {
	if t.finalized {
		return 0, io.ErrClosedPipe
	}
	n, err := t.f.Write(pcm)
	t.dataBytes += uint32(n)
	if err != nil {
		return n, fmt.Errorf("audio: wav tap write: %w", err)
	}
	return n, nil
}

// Close patches the RIFF and data chunk sizes and closes the file.
func (t *WAVTap) Close() error {
	if t.finalized {
		return nil
	}
	t.finalized = true
	if _, err := t.f.Seek(0, io.SeekStart); err != nil {
		_ = t.f.Close()
		return fmt.Errorf("audio: finalize wav tap: %w", err)
	}
	if err := t.writeHeader(t.dataBytes); err != nil {
		_ = t.f.Close()
		return err
	}
	if err := t.f.Close(); err != nil {
		return fmt.Errorf("audio: close wav tap: %w", err)
	}
	return nil
}

func (t *WAVTap) writeHeader(dataBytes uint32) error {
	if _, err := t.f.Write(wavHeader(t.cfg, dataBytes)); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	return nil
}

func wavHeader(cfg StreamConfig, dataBytes uint32) []byte {
	blockAlign := uint16(cfg.Channels * cfg.BitDepth / 8)
	byteRate := uint32(cfg.SampleRate) * uint32(blockAlign)

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataBytes)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(cfg.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(cfg.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], uint16(cfg.BitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataBytes)
	return h
}
