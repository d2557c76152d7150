package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"parley/audio"
	"parley/encoder"
)

func wavBytes(samples []int16, rate, channels int) []byte {
	var buf bytes.Buffer
	dataSize := len(samples) * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize+12))
	buf.WriteString("WAVE")
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.WriteString("INFO")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"wav", wavBytes([]int16{1}, 16000, 1), FormatWAV},
		{"flac", []byte("fLaC\x00\x00"), FormatFLAC},
		{"mp3 id3", []byte("ID3\x04"), FormatMP3},
		{"mp3 sync", []byte{0xFF, 0xFB, 0x90}, FormatMP3},
		{"empty", nil, FormatUnknown},
		{"text", []byte("hello"), FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeWAVMono(t *testing.T) {
	in := []int16{0, 100, -100, 32767, -32768}
	src, err := Decode(wavBytes(in, 24000, 1))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if src.SampleRate != 24000 {
		t.Errorf("rate = %d, want 24000", src.SampleRate)
	}
	if len(src.Samples) != len(in) {
		t.Fatalf("samples = %d, want %d", len(src.Samples), len(in))
	}
	for i := range in {
		if src.Samples[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, src.Samples[i], in[i])
		}
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	src, err := Decode(wavBytes([]int16{100, 300, -50, -150}, 16000, 2))
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{200, -100}
	if len(src.Samples) != 2 || src.Samples[0] != want[0] || src.Samples[1] != want[1] {
		t.Errorf("samples = %v, want %v", src.Samples, want)
	}
}

func TestDecodeFLAC(t *testing.T) {
	var buf bytes.Buffer
	enc, err := encoder.NewFlac(&buf, 16000)
	if err != nil {
		t.Fatal(err)
	}
	block := make([]int16, 3000)
	for i := range block {
		block[i] = int16(i%200 - 100)
	}
	if err := enc.EncodeBlock(block); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	src, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(src.Samples) != len(block) {
		t.Fatalf("samples = %d, want %d", len(src.Samples), len(block))
	}
	for i := range block {
		if src.Samples[i] != block[i] {
			t.Fatalf("sample %d = %d, want %d", i, src.Samples[i], block[i])
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("expected error for empty data")
	}
	if _, err := Decode([]byte("not audio at all")); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	truncated := wavBytes([]int16{1, 2}, 16000, 1)[:20]
	if _, err := Decode(truncated); err == nil {
		t.Error("expected error for truncated WAV")
	}
}

func TestDecodeBlobL16(t *testing.T) {
	pcm := []byte{0x10, 0x00, 0x20, 0x00, 0x30, 0x00}
	src, err := DecodeBlob(audio.Blob{Data: pcm, ContentType: "audio/L16;rate=8000;channels=1"})
	if err != nil {
		t.Fatal(err)
	}
	if src.SampleRate != 8000 || len(src.Samples) != 3 || src.Samples[2] != 0x30 {
		t.Errorf("got rate=%d samples=%v", src.SampleRate, src.Samples)
	}
}

func TestRejectsOutOfRangeRates(t *testing.T) {
	pcm := make([]byte, 64)
	tests := []struct {
		name string
		blob audio.Blob
	}{
		{"L16 rate 1", audio.Blob{Data: pcm, ContentType: "audio/L16;rate=1;channels=1"}},
		{"L16 rate 96000", audio.Blob{Data: pcm, ContentType: "audio/L16;rate=96000"}},
		{"L16 many channels", audio.Blob{Data: pcm, ContentType: "audio/L16;rate=16000;channels=64"}},
		{"wav rate 1", audio.Blob{Data: wavBytes([]int16{1, 2, 3}, 1, 1), ContentType: "audio/wav"}},
		{"wav rate 192000", audio.Blob{Data: wavBytes([]int16{1, 2, 3}, 192000, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBlob(tt.blob); !errors.Is(err, ErrUnsupported) {
				t.Errorf("err = %v, want ErrUnsupported", err)
			}
		})
	}

	for _, rate := range []int{MinSampleRate, MaxSampleRate} {
		if _, err := DecodeBlob(audio.Blob{Data: pcm, ContentType: fmt.Sprintf("audio/L16;rate=%d", rate)}); err != nil {
			t.Errorf("rate %d: %v", rate, err)
		}
	}
}

func TestResample(t *testing.T) {
	src := &Source{Samples: make([]int16, 8000), SampleRate: 8000}
	for i := range src.Samples {
		src.Samples[i] = 1000
	}
	up := src.Resample(16000)
	if up.SampleRate != 16000 || len(up.Samples) != 16000 {
		t.Fatalf("resampled to %d samples at %d", len(up.Samples), up.SampleRate)
	}
	for i, v := range up.Samples {
		if v != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i, v)
		}
	}
	if src.Resample(8000) != src {
		t.Error("same-rate resample should return the source")
	}
	if d := up.Duration(); d != time.Second {
		t.Errorf("Duration = %v, want 1s", d)
	}
	if b := up.Bytes(); len(b) != 32000 || binary.LittleEndian.Uint16(b) != 1000 {
		t.Error("Bytes did not produce S16LE")
	}
}
