// Package refdriver is a reference audio.Driver implementation for demo
// and test purposes: it renders the engine's packed MIDI/MUS event-block
// records through a go-meltysynth software synthesizer and plays the
// result via ebitengine/audio, and plays DMX PCM buffers directly.
//
// This package is NOT part of the concurrent playback engine itself —
// the engine treats its driver as an external, unspecified collaborator.
// Synthesis and output transport live here because something has to
// produce sound for the demo command to be useful; pkg/engine never
// imports this package.
package refdriver

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/zurustar/vintage-audio/pkg/engine"
	"github.com/zurustar/vintage-audio/pkg/midievent"
)

// SampleRate is the output sample rate used for both synthesized and PCM
// streams.
const SampleRate = 44100

var ErrNoSoundFont = errors.New("refdriver: a SoundFont is required for MIDI/MUS playback")

// MIDIDriver renders packed MIDI/MUS event-block records with a
// go-meltysynth synthesizer. One MIDIDriver can back any number of
// concurrently open Streams; deviceID is accepted for interface
// conformance but unused (ebiten output has no device-index concept).
type MIDIDriver struct {
	ctx       *audio.Context
	soundFont *meltysynth.SoundFont
	log       *slog.Logger

	mu          sync.Mutex
	volLeft     uint16
	volRight    uint16
}

// NewMIDIDriver loads sf2Data as a SoundFont and prepares an ebiten audio
// context. log may be nil.
func NewMIDIDriver(sf2Data []byte, log *slog.Logger) (*MIDIDriver, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(sf2Data) == 0 {
		return nil, ErrNoSoundFont
	}
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(sf2Data))
	if err != nil {
		return nil, fmt.Errorf("refdriver: load soundfont: %w", err)
	}
	return &MIDIDriver{
		ctx:       audio.NewContext(SampleRate),
		soundFont: sf,
		log:       log,
		volLeft:   0xFFFF,
		volRight:  0xFFFF,
	}, nil
}

// NewMIDIDriverFromFile is a convenience wrapper reading the SoundFont
// from disk.
func NewMIDIDriverFromFile(path string, log *slog.Logger) (*MIDIDriver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("refdriver: read soundfont file: %w", err)
	}
	return NewMIDIDriver(data, log)
}

func (d *MIDIDriver) Volume() (left, right uint16, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volLeft, d.volRight, nil
}

func (d *MIDIDriver) SetVolume(left, right uint16) error {
	d.mu.Lock()
	d.volLeft, d.volRight = left, right
	d.mu.Unlock()
	return nil
}

// OpenStream constructs a synthesizer + ebiten audio.Player pair bound to
// onBufferDone. deviceID is ignored.
func (d *MIDIDriver) OpenStream(deviceID int, onBufferDone func()) (engine.Stream, error) {
	settings := meltysynth.NewSynthesizerSettings(SampleRate)
	synth, err := meltysynth.NewSynthesizer(d.soundFont, settings)
	if err != nil {
		return nil, fmt.Errorf("refdriver: new synthesizer: %w", err)
	}

	rs := &renderStream{synth: synth, driver: d}
	player, err := d.ctx.NewPlayer(rs)
	if err != nil {
		return nil, fmt.Errorf("refdriver: new player: %w", err)
	}

	s := &midiStream{
		driver:       d,
		synth:        synth,
		player:       player,
		render:       rs,
		onBufferDone: onBufferDone,
	}
	rs.onDrained = s.bufferDrained
	return s, nil
}

// midiStream implements engine.Stream for one open MIDI/MUS player.
type midiStream struct {
	driver       *MIDIDriver
	synth        *meltysynth.Synthesizer
	player       *audio.Player
	render       *renderStream
	onBufferDone func()

	mu       sync.Mutex
	ppqn     uint32
	lastTick uint32
}

func (s *midiStream) SetTimebase(ppqn uint32) error {
	s.mu.Lock()
	s.ppqn = ppqn
	s.mu.Unlock()
	return nil
}

func (s *midiStream) Prepare([]byte) error { return nil }
func (s *midiStream) Unprepare([]byte) error { return nil }

// Enqueue decodes every packed record in buf and feeds it to the
// synthesizer immediately. The reference driver has no wall-clock tempo
// scheduling: it renders events back-to-back, which is sufficient for
// exercising the engine's buffering contract in tests and demos.
func (s *midiStream) Enqueue(buf []byte) error {
	for off := 0; off+midievent.RecordSize <= len(buf); off += midievent.RecordSize {
		rec := buf[off : off+midievent.RecordSize]
		packed := binary.LittleEndian.Uint32(rec[8:12])
		kind := byte(packed >> 24)
		switch kind {
		case midievent.KindShortMsg:
			status := byte(packed >> 16)
			data1 := byte(packed >> 8)
			data2 := byte(packed)
			channel := int32(status & 0x0F)
			command := int32(status & 0xF0)
			s.synth.ProcessMidiMessage(channel, command, int32(data1), int32(data2))
		case midievent.KindTempo:
			// The reference driver renders without wall-clock pacing, so
			// tempo changes do not need to be applied to a scheduler here.
		}
	}
	s.render.notifyDrained()
	return nil
}

func (s *midiStream) bufferDrained() {
	if s.onBufferDone != nil {
		s.onBufferDone()
	}
}

func (s *midiStream) Pause() error {
	s.player.Pause()
	return nil
}

func (s *midiStream) Restart() error {
	s.player.Play()
	return nil
}

func (s *midiStream) Reset() error {
	s.synth.Reset()
	return nil
}

func (s *midiStream) Close() error {
	return s.player.Close()
}

// renderStream is the io.Reader ebiten's audio.Player pulls PCM from. It
// renders the synthesizer's current voice state on demand. Read does not
// report completed buffers; midiStream.Enqueue does that through
// notifyDrained as soon as it has fed a buffer's records to the
// synthesizer.
type renderStream struct {
	synth     *meltysynth.Synthesizer
	driver    *MIDIDriver
	onDrained func()
}

func (r *renderStream) notifyDrained() {
	if r.onDrained != nil {
		r.onDrained()
	}
}

func (r *renderStream) Read(p []byte) (int, error) {
	samples := len(p) / 4
	if samples == 0 {
		return 0, nil
	}
	left := make([]float32, samples)
	right := make([]float32, samples)
	r.synth.Render(left, right)

	volLeft, volRight, _ := r.driver.Volume()
	gl := float32(volLeft) / 65535
	gr := float32(volRight) / 65535

	for i := 0; i < samples; i++ {
		l := clampF(left[i]*gl, -1, 1)
		rr := clampF(right[i]*gr, -1, 1)
		binary.LittleEndian.PutUint16(p[i*4:], uint16(int16(l*32767)))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(int16(rr*32767)))
	}
	return samples * 4, nil
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
