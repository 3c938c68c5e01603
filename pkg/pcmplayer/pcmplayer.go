// Package pcmplayer is the public-facing DMX PCM player: it wires the
// pcmformat chunker/scaler into the concurrent engine, adds per-stream
// volume (the PCM-specific variant, per spec.md's open question on
// per-stream vs. shared volume), and an optional free-list pool of idle
// player shells to avoid worker-creation latency on short sound effects.
package pcmplayer

import (
	"log/slog"
	"sync"

	"github.com/zurustar/vintage-audio/pkg/engine"
	"github.com/zurustar/vintage-audio/pkg/pcmformat"
)

// Engine is a PCM playback engine: one Registry bound to one Driver.
type Engine struct {
	registry *engine.Registry
	driver   engine.Driver
	log      *slog.Logger

	mu      sync.Mutex
	samples map[engine.Handle]*pcmformat.Sample

	pool *Pool
}

// New constructs a PCM Engine bound to driver. log may be nil, in which
// case slog.Default() is used. Passing a non-nil pool enables shell reuse
// (see Pool).
func New(driver engine.Driver, log *slog.Logger, pool *Pool) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		registry: engine.NewRegistry(),
		driver:   driver,
		log:      log,
		samples:  make(map[engine.Handle]*pcmformat.Sample),
		pool:     pool,
	}
}

// Open validates and parses a DMX PCM file from data, constructs a Player
// bound to deviceID, and registers it. sampleSize/channels describe the
// PCM layout (DMX PCM itself is always 8-bit mono; see pcmformat.Parse).
func (e *Engine) Open(data []byte, sampleSize, channels, deviceID int, notify engine.NotifyFunc) (engine.Handle, error) {
	sample, err := pcmformat.Parse(data, sampleSize, channels)
	if err != nil {
		return 0, err
	}

	var p *engine.Player
	if e.pool != nil {
		p = e.pool.take(sample, e.driver, deviceID, notify, e.log)
	} else {
		p = engine.NewPlayer(sample, e.driver, deviceID, notify, e.log)
	}

	h := e.registry.Add(p)
	e.mu.Lock()
	e.samples[h] = sample
	e.mu.Unlock()
	return h, nil
}

// Close tears the handle down, deregisters it, and (if a Pool is in use)
// returns the underlying Player shell to the pool for reuse instead of
// shutting its worker goroutine down.
func (e *Engine) Close(h engine.Handle) {
	e.mu.Lock()
	delete(e.samples, h)
	e.mu.Unlock()

	if e.pool == nil {
		e.registry.Close(h)
		return
	}
	p, ok := e.registry.Release(h)
	if !ok {
		return
	}
	if !e.pool.give(p) {
		p.ShutdownNow()
	}
}

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

// SetVolume sets h's own left/right attenuation. A zero handle (never
// registered) falls back to the driver's shared global volume, matching
// spec.md section 4.6's "or null handle" clause; any other unregistered
// handle returns InvalidParam.
func (e *Engine) SetVolume(h engine.Handle, left, right uint16) engine.Status {
	e.mu.Lock()
	sample, ok := e.samples[h]
	e.mu.Unlock()
	if !ok {
		if h != 0 {
			return engine.InvalidParam
		}
		if err := e.driver.SetVolume(left, right); err != nil {
			e.log.Error("pcmplayer: set global volume failed", "error", err)
			return engine.ErrorStatus
		}
		return engine.OK
	}
	sample.SetVolume(left, right)
	return engine.OK
}

// Volume returns h's own left/right attenuation, or the driver's shared
// global volume for an unregistered handle.
func (e *Engine) Volume(h engine.Handle) (left, right uint16, status engine.Status) {
	e.mu.Lock()
	sample, ok := e.samples[h]
	e.mu.Unlock()
	if !ok {
		l, r, err := e.driver.Volume()
		if err != nil {
			e.log.Error("pcmplayer: get global volume failed", "error", err)
			return 0, 0, engine.ErrorStatus
		}
		return l, r, engine.OK
	}
	l, r := sample.Volume()
	return l, r, engine.OK
}
