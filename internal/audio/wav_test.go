package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768}
	data, err := EncodeWAV(samples, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(data) != 44+len(samples)*2 {
		t.Errorf("Expected %d bytes, got %d", 44+len(samples)*2, len(data))
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 24000 {
		t.Errorf("Expected rate 24000, got %d", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAV_SkipsExtraChunksAndDownmixes(t *testing.T) {
	var buf bytes.Buffer
	pcm := []int16{100, 300, -200, -400} // two stereo frames
	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:], 1)
	binary.LittleEndian.PutUint16(fmtChunk[2:], 2)
	binary.LittleEndian.PutUint32(fmtChunk[4:], 48000)
	binary.LittleEndian.PutUint32(fmtChunk[8:], 48000*4)
	binary.LittleEndian.PutUint16(fmtChunk[12:], 4)
	binary.LittleEndian.PutUint16(fmtChunk[14:], 16)

	list := []byte("abc") // odd size, padded
	dataSize := len(pcm) * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+8+16+8+4+8+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	buf.Write(fmtChunk)
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(len(list)))
	buf.Write(list)
	buf.WriteByte(0)
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, pcm)

	samples, rate, err := DecodeWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 48000 {
		t.Errorf("Expected rate 48000, got %d", rate)
	}
	if len(samples) != 2 || samples[0] != 200 || samples[1] != -300 {
		t.Errorf("Expected [200 -300], got %v", samples)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("RIFF")); err == nil {
		t.Error("Expected error for truncated data")
	}
	if _, _, err := DecodeWAV([]byte("RIFX\x00\x00\x00\x00WAVE")); err == nil {
		t.Error("Expected error for missing RIFF header")
	}
	if _, _, err := DecodeWAV([]byte("RIFF\x04\x00\x00\x00WAVE")); err == nil {
		t.Error("Expected error for missing fmt chunk")
	}
}
