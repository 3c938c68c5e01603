// Package midiplayer is the public-facing MIDI player: it wires the
// midifile parser and midievent packer into the concurrent engine and
// exposes the uniform open/play/stop/pause/resume/loop/volume API.
package midiplayer

import (
	"log/slog"

	"github.com/zurustar/vintage-audio/pkg/engine"
	"github.com/zurustar/vintage-audio/pkg/midifile"
)

// Engine is a MIDI playback engine: one Registry bound to one Driver.
// Construct one per audio output device; nothing here is package-level
// static state (spec.md section 9's design note on testable, instantiable
// engines).
type Engine struct {
	registry *engine.Registry
	driver   engine.Driver
	log      *slog.Logger
}

// New constructs a MIDI Engine bound to driver. log may be nil, in which
// case slog.Default() is used.
func New(driver engine.Driver, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{registry: engine.NewRegistry(), driver: driver, log: log}
}

// Open validates and parses a Standard MIDI File from data, constructs a
// Player bound to deviceID, and registers it. A malformed file returns a
// zero Handle and a non-nil error without mutating any global state.
func (e *Engine) Open(data []byte, deviceID int, notify engine.NotifyFunc) (engine.Handle, error) {
	score, err := midifile.Parse(data)
	if err != nil {
		return 0, err
	}
	p := engine.NewPlayer(score, e.driver, deviceID, notify, e.log)
	return e.registry.Add(p), nil
}

// Close tears the handle down and deregisters it; safe on an already-closed
// or never-valid handle.
func (e *Engine) Close(h engine.Handle) { e.registry.Close(h) }

func (e *Engine) Play(h engine.Handle) engine.Status    { return e.registry.Play(h) }
func (e *Engine) Stop(h engine.Handle) engine.Status    { return e.registry.Stop(h) }
func (e *Engine) Pause(h engine.Handle) engine.Status   { return e.registry.Pause(h) }
func (e *Engine) Resume(h engine.Handle) engine.Status  { return e.registry.Resume(h) }

func (e *Engine) SetLooping(h engine.Handle, looping bool) engine.Status {
	return e.registry.SetLooping(h, looping)
}

func (e *Engine) IsPlaying(h engine.Handle) bool { return e.registry.IsPlaying(h) }
func (e *Engine) IsPaused(h engine.Handle) bool  { return e.registry.IsPaused(h) }
func (e *Engine) IsStopped(h engine.Handle) bool { return e.registry.IsStopped(h) }
func (e *Engine) IsLooping(h engine.Handle) bool { return e.registry.IsLooping(h) }

// SetVolume sets the driver's shared global volume. MIDI has no
// per-stream attenuation (spec.md section 4.6): volume is always the
// driver-wide value, regardless of which handle (or none) is passed.
func (e *Engine) SetVolume(left, right uint16) engine.Status {
	if err := e.driver.SetVolume(left, right); err != nil {
		e.log.Error("midiplayer: set volume failed", "error", err)
		return engine.ErrorStatus
	}
	return engine.OK
}

// Volume returns the driver's current shared global volume.
func (e *Engine) Volume() (left, right uint16, status engine.Status) {
	l, r, err := e.driver.Volume()
	if err != nil {
		e.log.Error("midiplayer: get volume failed", "error", err)
		return 0, 0, engine.ErrorStatus
	}
	return l, r, engine.OK
}
