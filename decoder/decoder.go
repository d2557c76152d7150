// Package decoder turns response audio into mono S16LE PCM for playback.
package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"parley/audio"
)

type Format string

const (
	FormatUnknown Format = "unknown"
	FormatWAV     Format = "wav"
	FormatFLAC    Format = "flac"
	FormatMP3     Format = "mp3"
	FormatPCM     Format = "pcm"
)

var ErrUnsupported = errors.New("unsupported audio format")

// Sample rates accepted from a response.
const (
	MinSampleRate = 8000
	MaxSampleRate = 48000
)

func checkRate(rate int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("sample rate %d Hz outside %d-%d: %w", rate, MinSampleRate, MaxSampleRate, ErrUnsupported)
	}
	return nil
}

// Source is decoded mono audio.
type Source struct {
	Samples    []int16
	SampleRate int
}

// Sniff identifies a container from its leading bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// DecodeBlob decodes b, treating audio/L16 content as raw S16LE at the
// rate named in its parameters.
func DecodeBlob(b audio.Blob) (*Source, error) {
	mt, params, err := mime.ParseMediaType(b.ContentType)
	if err == nil && strings.EqualFold(mt, "audio/L16") {
		rate, _ := strconv.Atoi(params["rate"])
		if rate <= 0 {
			rate = 16000
		}
		if err := checkRate(rate); err != nil {
			return nil, fmt.Errorf("decode L16: %w", err)
		}
		channels, _ := strconv.Atoi(params["channels"])
		if channels <= 0 {
			channels = 1
		}
		if channels > 8 {
			return nil, fmt.Errorf("decode L16: %d channels: %w", channels, ErrUnsupported)
		}
		return decodePCM(b.Data, rate, channels), nil
	}
	return Decode(b.Data)
}

func Decode(data []byte) (*Source, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode: empty response")
	}
	var (
		src *Source
		err error
	)
	switch f := Sniff(data); f {
	case FormatWAV:
		src, err = decodeWAV(data)
	case FormatFLAC:
		src, err = decodeFLAC(data)
	case FormatMP3:
		src, err = decodeMP3(data)
	default:
		return nil, fmt.Errorf("decode: %w", ErrUnsupported)
	}
	if err != nil {
		return nil, err
	}
	if err := checkRate(src.SampleRate); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return src, nil
}

func decodePCM(data []byte, rate, channels int) *Source {
	frames := len(data) / (2 * channels)
	samples := make([]int16, frames)
	for i := range frames {
		var sum int
		for c := range channels {
			sum += int(int16(binary.LittleEndian.Uint16(data[(i*channels+c)*2:])))
		}
		samples[i] = int16(sum / channels)
	}
	return &Source{Samples: samples, SampleRate: rate}
}

// decodeWAV walks RIFF chunks until it finds fmt and data. Only 16-bit PCM
// is accepted.
func decodeWAV(data []byte) (*Source, error) {
	var (
		channels, bits uint16
		rate           uint32
		haveFmt        bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := pos + 8
		end := min(body+size, len(data))

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("invalid WAV file: short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return nil, fmt.Errorf("unsupported WAV encoding %d: %w", format, ErrUnsupported)
			}
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data before fmt chunk")
			}
			if bits != 16 {
				return nil, fmt.Errorf("unsupported bit depth %d: %w", bits, ErrUnsupported)
			}
			if channels == 0 || rate == 0 {
				return nil, fmt.Errorf("invalid WAV file: %d channels at %d Hz", channels, rate)
			}
			return decodePCM(data[body:end], int(rate), int(channels)), nil
		}
		pos = body + size + size%2
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

func decodeFLAC(data []byte) (*Source, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	shift := int(info.BitsPerSample) - 16
	var samples []int16
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode flac frame: %w", err)
		}
		nch := len(f.Subframes)
		for i := 0; i < int(f.BlockSize); i++ {
			var sum int64
			for _, sf := range f.Subframes {
				s := int64(sf.Samples[i])
				if shift > 0 {
					s >>= shift
				} else if shift < 0 {
					s <<= -shift
				}
				sum += s
			}
			samples = append(samples, int16(sum/int64(nch)))
		}
	}
	return &Source{Samples: samples, SampleRate: int(info.SampleRate)}, nil
}

// decodeMP3 relies on go-mp3 always producing 16-bit stereo.
func decodeMP3(data []byte) (*Source, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil && len(pcm) == 0 {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	return decodePCM(pcm, d.SampleRate(), 2), nil
}

// Resample converts s to rate by linear interpolation. s is returned
// unchanged when the rates already match.
func (s *Source) Resample(rate int) *Source {
	if rate <= 0 || rate == s.SampleRate || len(s.Samples) == 0 {
		return s
	}
	n := int(int64(len(s.Samples)) * int64(rate) / int64(s.SampleRate))
	out := make([]int16, n)
	step := float64(s.SampleRate) / float64(rate)
	last := len(s.Samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = s.Samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(s.Samples[j])*(1-frac) + float64(s.Samples[j+1])*frac)
	}
	return &Source{Samples: out, SampleRate: rate}
}

// Bytes returns the samples as S16LE.
func (s *Source) Bytes() []byte {
	out := make([]byte, len(s.Samples)*2)
	for i, v := range s.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func (s *Source) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}
