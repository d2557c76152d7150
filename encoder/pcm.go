package encoder

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"
)

// PCMEncoder passes samples through as raw S16LE, one write per block.
type PCMEncoder struct {
	w           io.Writer
	sampleRate  uint32
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewPCM(w io.Writer, sampleRate uint32) *PCMEncoder {
	if sampleRate == 0 {
		sampleRate = SampleRate
	}
	return &PCMEncoder{w: w, sampleRate: sampleRate}
}

func (e *PCMEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := make([]byte, len(block)*2)
	for i, s := range block {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("writing pcm block: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *PCMEncoder) Close() error { return nil }

func (e *PCMEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *PCMEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *PCMEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}

func (e *PCMEncoder) ContentType() string {
	return fmt.Sprintf("audio/L16;rate=%d;channels=%d", e.sampleRate, Channels)
}
