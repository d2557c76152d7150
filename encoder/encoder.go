package encoder

import (
	"fmt"
	"io"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatFLAC = "flac"
	FormatPCM  = "pcm"
)

// Encoder turns blocks of mono samples into encoded fragments written to
// the io.Writer it was built with. Close flushes whatever is pending.
type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	ContentType() string
}

func New(format string, w io.Writer, sampleRate uint32) (Encoder, error) {
	switch format {
	case FormatFLAC, "":
		return NewFlac(w, sampleRate)
	case FormatPCM:
		return NewPCM(w, sampleRate), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
