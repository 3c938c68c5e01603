// Package pcmformat parses DOOM's DMX PCM sound-effect container and
// implements the block-aligned chunker and in-place volume scaler
// spec.md section 4.5 describes.
package pcmformat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// leadPadding and tailPadding are the fixed silence-padding sizes framing
// the interior samples in a DMX PCM file.
const (
	leadPadding = 16
	tailPadding = 16
	headerSize  = 8
	wantFormat  = 3
)

var (
	ErrBadHeader  = errors.New("pcmformat: not a DMX PCM file (bad format field or truncated)")
	ErrTruncated  = errors.New("pcmformat: declared length exceeds file size")
)

// Sample is a parsed DMX PCM sound effect, ready to replay into the
// engine's output buffer format. The volume fields carry their own lock
// since they are set by the caller's control thread (pcmplayer.SetVolume)
// while Fill runs on the engine's worker goroutine.
type Sample struct {
	pcm        []byte // interior samples only, padding already stripped
	sampleRate uint16
	sampleSize int // bits per sample: 8 or 16
	channels   int
	frameSize  int
	pos        int

	volMu    sync.Mutex
	volLeft  uint16
	volRight uint16
}

// SampleRate returns the sample's playback rate in Hz.
func (s *Sample) SampleRate() uint16 { return s.sampleRate }

// Timebase is unused by PCM playback; the driver ignores it.
func (s *Sample) Timebase() uint32 { return 0 }

// BufferSize returns an output buffer capacity of 16 KiB rounded down to
// a whole number of this sample's frames. It does not depend on the
// sample's rate or length.
func (s *Sample) BufferSize() int {
	const targetBytes = 16 * 1024
	n := targetBytes - (targetBytes % s.frameSize)
	if n == 0 {
		n = s.frameSize
	}
	return n
}

// Parse validates a DMX PCM file's header and returns a Sample positioned
// at the start of its interior samples. sampleSize and channels describe
// the format DMX PCM is declared in by the caller (DMX PCM itself is
// always 8-bit mono; the parameters exist so the same Sample type also
// serves 16-bit stereo PCM assets carried outside the strict DMX
// container).
func Parse(data []byte, sampleSize, channels int) (*Sample, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: shorter than header", ErrBadHeader)
	}
	format := binary.LittleEndian.Uint16(data[0:2])
	if format != wantFormat {
		return nil, fmt.Errorf("%w: format field %d, want %d", ErrBadHeader, format, wantFormat)
	}
	sampleRate := binary.LittleEndian.Uint16(data[2:4])
	length := binary.LittleEndian.Uint32(data[4:8])

	if sampleSize != 8 && sampleSize != 16 {
		return nil, fmt.Errorf("%w: unsupported sample size %d", ErrBadHeader, sampleSize)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrBadHeader, channels)
	}

	if length < leadPadding+tailPadding {
		return nil, fmt.Errorf("%w: declared length %d shorter than padding", ErrBadHeader, length)
	}
	if uint64(headerSize)+uint64(length) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: declared length %d, file has %d bytes available", ErrTruncated, length, len(data)-headerSize)
	}
	interiorLen := length - (leadPadding + tailPadding)

	interiorStart := headerSize + leadPadding
	interiorEnd := interiorStart + int(interiorLen)
	frameSize := (sampleSize / 8) * channels

	s := &Sample{
		pcm:        data[interiorStart:interiorEnd],
		sampleRate: sampleRate,
		sampleSize: sampleSize,
		channels:   channels,
		frameSize:  frameSize,
		volLeft:    0xFFFF,
		volRight:   0xFFFF,
	}
	return s, nil
}

// Rewind resets the read pointer to the first interior sample.
func (s *Sample) Rewind() {
	s.pos = 0
}

// SetVolume sets the per-stream left/right attenuation applied by Fill.
func (s *Sample) SetVolume(left, right uint16) {
	s.volMu.Lock()
	s.volLeft, s.volRight = left, right
	s.volMu.Unlock()
}

// Volume returns the current per-stream attenuation.
func (s *Sample) Volume() (left, right uint16) {
	s.volMu.Lock()
	defer s.volMu.Unlock()
	return s.volLeft, s.volRight
}

// Fill copies the next block-aligned chunk of samples into buf (sized to
// the largest multiple of frameSize not exceeding len(buf)) and
// attenuates it in place per the current volume. It reports the number
// of bytes written and whether the sample has no more data.
func (s *Sample) Fill(buf []byte) (n int, atEnd bool) {
	chunkCap := len(buf) - (len(buf) % s.frameSize)
	remaining := len(s.pcm) - s.pos
	if remaining <= 0 {
		return 0, true
	}
	n = chunkCap
	if n > remaining {
		n = remaining - (remaining % s.frameSize)
		if n == 0 {
			// Fewer bytes remain than one frame; emit them as-is, matching
			// spec.md's "slice is shorter (possibly zero)" tail behavior.
			n = remaining
		}
	}
	copy(buf[:n], s.pcm[s.pos:s.pos+n])
	s.pos += n
	s.scale(buf[:n])
	return n, s.pos >= len(s.pcm)
}

func (s *Sample) scale(buf []byte) {
	left, right := s.Volume()
	if s.sampleSize == 8 {
		scale8(buf, left, right, s.channels)
	} else {
		scale16(buf, left, right, s.channels)
	}
}

// scale8 applies spec.md section 4.5's 8-bit attenuation formula in
// place: s' = ((s-128) * vol8/256) + 128, where vol8 = vol16>>8.
// Mono applies the left volume to the single channel.
func scale8(buf []byte, volLeft, volRight uint16, channels int) {
	vol8L := int32(volLeft >> 8)
	vol8R := int32(volRight >> 8)
	if channels == 1 {
		for i := range buf {
			buf[i] = attenuate8(buf[i], vol8L)
		}
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i] = attenuate8(buf[i], vol8L)
		buf[i+1] = attenuate8(buf[i+1], vol8R)
	}
}

func attenuate8(s byte, vol8 int32) byte {
	v := (int32(s)-128)*vol8/256 + 128
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}

// scale16 applies spec.md section 4.5's 16-bit attenuation formula in
// place: s' = s * vol / 65536, on little-endian signed samples.
func scale16(buf []byte, volLeft, volRight uint16, channels int) {
	n := len(buf) / 2
	for i := 0; i < n; i++ {
		off := i * 2
		sample := int16(binary.LittleEndian.Uint16(buf[off : off+2]))
		var vol uint16
		if channels == 2 && i%2 == 1 {
			vol = volRight
		} else {
			vol = volLeft
		}
		scaled := int32(sample) * int32(vol) / 65536
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(int16(scaled)))
	}
}
