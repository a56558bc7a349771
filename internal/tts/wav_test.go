package tts

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestPCMToWAVHeader(t *testing.T) {
	pcm := make([]byte, 4800) // 0.1s @ 24kHz mono 16-bit
	wav := PCMToWAV(pcm, 24000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if !bytes.Equal(wav[12:16], []byte("fmt ")) {
		t.Fatal("missing fmt chunk")
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("audio format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Errorf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 48000 {
		t.Errorf("byte rate = %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if !bytes.Equal(wav[36:40], []byte("data")) {
		t.Fatal("missing data chunk")
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestPCMToWAVPreservesSamples(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := PCMToWAV(pcm, 16000)
	if !bytes.Equal(wav[44:], pcm) {
		t.Errorf("payload = %v, want %v", wav[44:], pcm)
	}
}
