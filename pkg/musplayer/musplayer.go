// Package musplayer is the public-facing MUS player: it wires the mus
// transcoder into the concurrent engine and exposes the uniform
// open/play/stop/pause/resume/loop/volume API.
package musplayer

import (
	"log/slog"

	"github.com/zurustar/vintage-audio/pkg/engine"
	"github.com/zurustar/vintage-audio/pkg/mus"
)

// Engine is a MUS playback engine: one Registry bound to one Driver.
type Engine struct {
	registry *engine.Registry
	driver   engine.Driver
	log      *slog.Logger
}

// New constructs a MUS Engine bound to driver. log may be nil, in which
// case slog.Default() is used.
func New(driver engine.Driver, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{registry: engine.NewRegistry(), driver: driver, log: log}
}

// Open validates and parses a MUS file from data, constructs a Player
// bound to deviceID, and registers it.
func (e *Engine) Open(data []byte, deviceID int, notify engine.NotifyFunc) (engine.Handle, error) {
	score, err := mus.Parse(data)
	if err != nil {
		return 0, err
	}
	p := engine.NewPlayer(score, e.driver, deviceID, notify, e.log)
	return e.registry.Add(p), nil
}

func (e *Engine) Close(h engine.Handle) { e.registry.Close(h) }

func (e *Engine) Play(h engine.Handle) engine.Status   { return e.registry.Play(h) }
func (e *Engine) Stop(h engine.Handle) engine.Status   { return e.registry.Stop(h) }
func (e *Engine) Pause(h engine.Handle) engine.Status  { return e.registry.Pause(h) }
func (e *Engine) Resume(h engine.Handle) engine.Status { return e.registry.Resume(h) }

func (e *Engine) SetLooping(h engine.Handle, looping bool) engine.Status {
	return e.registry.SetLooping(h, looping)
}

func (e *Engine) IsPlaying(h engine.Handle) bool { return e.registry.IsPlaying(h) }
func (e *Engine) IsPaused(h engine.Handle) bool  { return e.registry.IsPaused(h) }
func (e *Engine) IsStopped(h engine.Handle) bool { return e.registry.IsStopped(h) }
func (e *Engine) IsLooping(h engine.Handle) bool { return e.registry.IsLooping(h) }

// SetVolume sets the driver's shared global volume, same as midiplayer:
// MUS has no per-stream attenuation.
func (e *Engine) SetVolume(left, right uint16) engine.Status {
	if err := e.driver.SetVolume(left, right); err != nil {
		e.log.Error("musplayer: set volume failed", "error", err)
		return engine.ErrorStatus
	}
	return engine.OK
}

// Volume returns the driver's current shared global volume.
func (e *Engine) Volume() (left, right uint16, status engine.Status) {
	l, r, err := e.driver.Volume()
	if err != nil {
		e.log.Error("musplayer: get volume failed", "error", err)
		return 0, 0, engine.ErrorStatus
	}
	return l, r, engine.OK
}
