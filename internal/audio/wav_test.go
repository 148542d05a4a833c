package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVTapWritesValidContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tap.wav")
	tap, err := NewWAVTap(path, DefaultPlaybackConfig())
	if err != nil {
		t.Fatalf("NewWAVTap() error = %v", err)
	}

	pcm := bytes.Repeat([]byte{0x01, 0x02}, 100)
	if _, err := tap.Write(pcm); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := tap.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read tap file: %v", err)
	}
	if len(out) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(out), 44+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: % x", out[:12])
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 24000 {
		t.Fatalf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Fatal("payload mangled")
	}
}

func TestWAVTapFinalizesSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playback.wav")
	tap, err := NewWAVTap(path, DefaultPlaybackConfig())
	if err != nil {
		t.Fatalf("NewWAVTap() error = %v", err)
	}

	chunk := bytes.Repeat([]byte{0x7f, 0x00}, 50)
	for i := 0; i < 3; i++ {
		if _, err := tap.Write(chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := tap.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tap.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read tap file: %v", err)
	}
	wantData := uint32(3 * len(chunk))
	if got := binary.LittleEndian.Uint32(data[40:44]); got != wantData {
		t.Fatalf("data size = %d, want %d", got, wantData)
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 36+wantData {
		t.Fatalf("riff size = %d, want %d", got, 36+wantData)
	}
	if len(data) != int(44+wantData) {
		t.Fatalf("file size = %d, want %d", len(data), 44+wantData)
	}
}
