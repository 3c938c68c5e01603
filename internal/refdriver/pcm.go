package refdriver

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/zurustar/vintage-audio/pkg/engine"
)

// PCMDriver plays already-attenuated PCM buffers directly through
// ebitengine/audio; pcmplayer does its own volume scaling in software
// (spec.md section 4.5), so this driver applies no further gain.
type PCMDriver struct {
	ctx *audio.Context

	mu          sync.Mutex
	volLeft     uint16
	volRight    uint16
	sampleSize  int
	channels    int
}

// NewPCMDriver constructs a driver for sampleSize/channels (8 or 16 bits,
// 1 or 2 channels) PCM data at sampleRate Hz.
func NewPCMDriver(sampleRate, sampleSize, channels int) (*PCMDriver, error) {
	if sampleSize != 8 && sampleSize != 16 {
		return nil, fmt.Errorf("refdriver: unsupported PCM sample size %d", sampleSize)
	}
	return &PCMDriver{
		ctx:        audio.NewContext(sampleRate),
		volLeft:    0xFFFF,
		volRight:   0xFFFF,
		sampleSize: sampleSize,
		channels:   channels,
	}, nil
}

func (d *PCMDriver) Volume() (left, right uint16, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volLeft, d.volRight, nil
}

func (d *PCMDriver) SetVolume(left, right uint16) error {
	d.mu.Lock()
	d.volLeft, d.volRight = left, right
	d.mu.Unlock()
	return nil
}

func (d *PCMDriver) OpenStream(deviceID int, onBufferDone func()) (engine.Stream, error) {
	rs := &pcmRenderStream{sampleSize: d.sampleSize, channels: d.channels}
	player, err := d.ctx.NewPlayer(rs)
	if err != nil {
		return nil, fmt.Errorf("refdriver: new pcm player: %w", err)
	}
	return &pcmStream{player: player, render: rs, onBufferDone: onBufferDone}, nil
}

type pcmStream struct {
	player       *audio.Player
	render       *pcmRenderStream
	onBufferDone func()
}

func (s *pcmStream) SetTimebase(uint32) error { return nil }
func (s *pcmStream) Prepare([]byte) error     { return nil }
func (s *pcmStream) Unprepare([]byte) error   { return nil }

func (s *pcmStream) Enqueue(buf []byte) error {
	s.render.push(buf, s.onBufferDone)
	return nil
}

func (s *pcmStream) Pause() error   { s.player.Pause(); return nil }
func (s *pcmStream) Restart() error { s.player.Play(); return nil }
func (s *pcmStream) Reset() error   { return nil }
func (s *pcmStream) Close() error   { return s.player.Close() }

// pcmRenderStream adapts the engine's push-style Enqueue to ebiten
// audio's pull-style io.Reader, upsampling 8-bit mono input to the
// 16-bit stereo format ebiten's mixer expects.
type pcmRenderStream struct {
	mu         sync.Mutex
	pending    []byte
	sampleSize int
	channels   int
	onDone     func()
}

func (r *pcmRenderStream) push(buf []byte, onDone func()) {
	r.mu.Lock()
	r.pending = append(r.pending, buf...)
	r.onDone = onDone
	r.mu.Unlock()
}

func (r *pcmRenderStream) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frameIn := (r.sampleSize / 8) * r.channels
	frameOut := 4 // ebiten wants 16-bit stereo
	framesWanted := len(p) / frameOut

	n := 0
	for n < framesWanted && len(r.pending) >= frameIn {
		l, rr := r.decodeFrame(r.pending[:frameIn])
		binary.LittleEndian.PutUint16(p[n*4:], uint16(l))
		binary.LittleEndian.PutUint16(p[n*4+2:], uint16(rr))
		r.pending = r.pending[frameIn:]
		n++
	}
	if n == 0 {
		// Nothing buffered: emit silence rather than blocking the mixer.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	if len(r.pending) == 0 && r.onDone != nil {
		done := r.onDone
		r.onDone = nil
		go done()
	}
	return n * 4, nil
}

func (r *pcmRenderStream) decodeFrame(frame []byte) (left, right int16) {
	if r.sampleSize == 8 {
		l := (int16(frame[0]) - 128) * 256
		rr := l
		if r.channels == 2 && len(frame) > 1 {
			rr = (int16(frame[1]) - 128) * 256
		}
		return l, rr
	}
	l := int16(binary.LittleEndian.Uint16(frame[0:2]))
	rr := l
	if r.channels == 2 && len(frame) >= 4 {
		rr = int16(binary.LittleEndian.Uint16(frame[2:4]))
	}
	return l, rr
}
