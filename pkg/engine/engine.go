// Package engine implements the concurrent playback engine shared by the
// MIDI, MUS, and PCM players: the double-buffered state machine, its
// worker goroutine, and the process-wide handle registry.
//
// A Source supplies the bytes the engine pushes through a Driver; the
// three player packages each implement Source over their own parser and
// hand a *Player to callers wrapped behind a format-specific facade.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Status is the small error taxonomy the public control API returns,
// independent of Go's error type: spec.md's control API contract is a
// status-code return value, not merely "error or nil".
type Status int

const (
	OK Status = iota
	ErrorStatus
	InvalidParam
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case ErrorStatus:
		return "ERROR"
	case InvalidParam:
		return "INVALID_PARAM"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors wrapped by Status where a caller wants Go-idiomatic
// error handling instead of (or alongside) the Status code.
var (
	ErrInvalidHandle     = errors.New("engine: handle is not registered")
	ErrInvalidTransition = errors.New("engine: operation not valid in current state")
	ErrDriverFailure     = errors.New("engine: audio driver operation failed")
)

// State is the player's finite state, per spec.md section 3.
type State int

const (
	StateStopped State = iota
	StateStarting
	StatePlaying
	StatePaused
	StateStopping
	StateError
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Source supplies the raw bytes a Player feeds to the driver. Concrete
// implementations live in the midiplayer, musplayer, and pcmplayer
// packages; each wraps that format's parser/transcoder/chunker.
type Source interface {
	// Fill writes as many whole records/frames as fit into buf and
	// reports how many bytes were written and whether the source has
	// no more data until it is rewound (natural end of media).
	Fill(buf []byte) (n int, atEnd bool)

	// Rewind resets the source to its initial position, per score/sample
	// rewind invariants.
	Rewind()

	// Timebase is the driver stream timebase property: PPQN for MIDI,
	// the fixed 70 for MUS, 0 (ignored) for PCM.
	Timebase() uint32

	// BufferSize is this format's output buffer capacity in bytes.
	BufferSize() int
}

// Stream is the engine's view of an open driver stream: one per Player,
// created by Play and torn down by Stop/Close.
type Stream interface {
	SetTimebase(ppqn uint32) error
	Prepare(buf []byte) error
	Enqueue(buf []byte) error
	Unprepare(buf []byte) error
	Pause() error
	Restart() error
	Reset() error
	Close() error
}

// Driver is the external audio output collaborator. spec.md section 6
// treats the driver as an assumed-present, unspecified external
// component; this interface is the contract the engine requires of it.
// The onBufferDone callback passed to OpenStream is called by the driver
// when a previously enqueued buffer finishes playing; it must not block
// or suspend.
type Driver interface {
	OpenStream(deviceID int, onBufferDone func()) (Stream, error)

	// Volume is the driver's process-wide shared volume, used by MIDI/MUS
	// players and by a nil-handle PCM volume call (spec.md section 4.6).
	Volume() (left, right uint16, err error)
	SetVolume(left, right uint16) error
}

// NotifyFunc is the optional per-player state-change notification
// callback. It is invoked outside the player's lock.
type NotifyFunc func(State)

// Player is one open stream: the state machine, its double buffer, and
// the worker goroutine that refills it. Player is shared, generalized
// machinery; format-specific behavior is entirely in the Source
// implementation.
type Player struct {
	log    *slog.Logger
	mu     sync.Mutex
	state  State
	looping bool

	source   Source
	driver   Driver
	deviceID int
	notify   NotifyFunc

	stream Stream
	buf    [2][]byte
	// outstanding is the FIFO of buffer indices currently owned by the
	// driver, in enqueue order. Buffer-done callbacks are delivered in
	// enqueue order (spec.md section 5), so the engine does not need the
	// driver to report which index finished — it pops its own queue.
	outstanding []int
	refillIdx   int // next buffer index to prepare-and-refill

	// pendingCompletions counts buffer-done signals the worker has not yet
	// consumed. Only onBufferDone increments it; the worker must never
	// refill a buffer the driver hasn't actually reported done (spec.md
	// section 5's ownership handshake), so a wake with no pending
	// completion is a no-op rather than a refill trigger. Atomic because
	// a driver may call onBufferDone synchronously from within Enqueue,
	// which can run while p.mu is already held by the calling goroutine.
	pendingCompletions atomic.Int32

	wake chan struct{} // coalescing "recheck state" signal; see runWorker

	// Per-stream attenuation, defaulting to 0xFFFF. Nothing in the engine
	// reads these values when filling buffers; pcmplayer keeps the
	// attenuation it applies on its pcmformat.Sample instead.
	VolLeft, VolRight uint16
}

// NewPlayer constructs a Player in the STOPPED state and starts its
// worker goroutine. Callers register it with a Registry to obtain a
// Handle; NewPlayer itself does not touch the registry.
func NewPlayer(source Source, driver Driver, deviceID int, notify NotifyFunc, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	p := &Player{
		log:       log,
		state:     StateStopped,
		source:    source,
		driver:    driver,
		deviceID:  deviceID,
		notify:    notify,
		wake:      make(chan struct{}, 1),
		VolLeft:   0xFFFF,
		VolRight:  0xFFFF,
	}
	p.buf[0] = make([]byte, source.BufferSize())
	p.buf[1] = make([]byte, source.BufferSize())
	go p.runWorker()
	return p
}

func (p *Player) signalWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// runWorker is the one worker goroutine per Player. It owns the player
// mutex while inspecting and transitioning state, and releases it while
// blocked waiting for the next wake. A wake is merely "go recheck state";
// the worker only refills once per actual pendingCompletions credit, so a
// wake issued for some other reason (e.g. Stop closing the stream) never
// causes it to read or rewrite a buffer the driver still owns.
func (p *Player) runWorker() {
	for range p.wake {
		p.mu.Lock()
		if p.state == StateShutdown {
			p.mu.Unlock()
			return
		}
		for p.state == StatePlaying && p.pendingCompletions.Load() > 0 {
			p.pendingCompletions.Add(-1)
			p.refillLocked()
		}
		p.mu.Unlock()
	}
}

// refillLocked repacks the buffer that the driver just finished with and
// re-enqueues it, or, on natural end of media, loops or transitions to
// STOPPED. Called with p.mu held, p.state == StatePlaying, and a consumed
// pendingCompletions credit backing exactly one outstanding buffer.
func (p *Player) refillLocked() {
	if len(p.outstanding) == 0 {
		// Defensive: should not happen given a real completion credit.
		return
	}
	idx := p.outstanding[0]
	p.outstanding = p.outstanding[1:]

	n, atEnd := p.source.Fill(p.buf[idx])
	if n == 0 && atEnd {
		if p.looping {
			p.source.Rewind()
			n, atEnd = p.source.Fill(p.buf[idx])
		}
	}
	if n == 0 {
		if len(p.outstanding) > 0 {
			// One buffer is still draining at the driver; wait for it.
			return
		}
		p.stopForNaturalEndLocked()
		return
	}

	if err := p.stream.Enqueue(p.buf[idx][:n]); err != nil {
		p.log.Error("engine: enqueue failed during refill", "error", err)
		p.transitionToErrorLocked()
		return
	}
	p.outstanding = append(p.outstanding, idx)
}

// stopForNaturalEndLocked tears the stream down when the source has
// drained without looping. Called with p.mu held.
func (p *Player) stopForNaturalEndLocked() {
	if p.stream != nil {
		_ = p.stream.Close()
		p.stream = nil
	}
	p.source.Rewind()
	p.outstanding = nil
	p.refillIdx = 0
	p.pendingCompletions.Store(0)
	p.state = StateStopped
	cb := p.notify
	p.mu.Unlock()
	if cb != nil {
		cb(StateStopped)
	}
	p.mu.Lock()
}

func (p *Player) transitionToErrorLocked() {
	if p.stream != nil {
		_ = p.stream.Close()
		p.stream = nil
	}
	p.outstanding = nil
	p.pendingCompletions.Store(0)
	p.state = StateError
	cb := p.notify
	p.mu.Unlock()
	if cb != nil {
		cb(StateError)
	}
	p.mu.Lock()
}

// onBufferDone is the Driver's completion callback. Must not block, and
// must not take p.mu: a driver is free to call this synchronously from
// within Stream.Enqueue, which can run on a goroutine that already holds
// p.mu (e.g. inside Play). This is the only place pendingCompletions is
// incremented: it is the engine's record that the driver has actually
// relinquished ownership of one buffer, which is the sole license the
// worker has to touch it again.
func (p *Player) onBufferDone() {
	p.pendingCompletions.Add(1)
	p.signalWake()
}

// Play implements spec.md's play operation. A second call while already
// PLAYING is a no-op returning OK.
func (p *Player) Play() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StatePlaying {
		return OK
	}
	if p.state != StateStopped {
		return InvalidParam
	}

	p.state = StateStarting
	stream, err := p.driver.OpenStream(p.deviceID, p.onBufferDone)
	if err != nil {
		p.log.Error("engine: open stream failed", "error", err)
		p.state = StateError
		return ErrorStatus
	}
	if err := stream.SetTimebase(p.source.Timebase()); err != nil {
		p.log.Error("engine: set timebase failed", "error", err)
		_ = stream.Close()
		p.state = StateError
		return ErrorStatus
	}

	n0, _ := p.source.Fill(p.buf[0])
	if err := stream.Prepare(p.buf[0]); err != nil {
		p.log.Error("engine: prepare buffer 0 failed", "error", err)
		_ = stream.Close()
		p.state = StateError
		return ErrorStatus
	}
	if err := stream.Enqueue(p.buf[0][:n0]); err != nil {
		p.log.Error("engine: enqueue buffer 0 failed", "error", err)
		_ = stream.Close()
		p.state = StateError
		return ErrorStatus
	}
	p.outstanding = []int{0}

	n1, _ := p.source.Fill(p.buf[1])
	if err := stream.Prepare(p.buf[1]); err != nil {
		p.log.Error("engine: prepare buffer 1 failed", "error", err)
		_ = stream.Close()
		p.state = StateError
		return ErrorStatus
	}
	if n1 > 0 {
		if err := stream.Enqueue(p.buf[1][:n1]); err != nil {
			p.log.Error("engine: enqueue buffer 1 failed", "error", err)
			_ = stream.Close()
			p.state = StateError
			return ErrorStatus
		}
		p.outstanding = append(p.outstanding, 1)
	}

	if err := stream.Restart(); err != nil {
		p.log.Error("engine: restart stream failed", "error", err)
		_ = stream.Close()
		p.state = StateError
		return ErrorStatus
	}

	p.stream = stream
	p.state = StatePlaying
	// No wake here: the worker must stay idle until the driver actually
	// reports a buffer done (onBufferDone), not merely because playback
	// started.
	return OK
}

// Stop implements spec.md's stop operation: valid from any live state,
// synchronous, idempotent when already STOPPED.
func (p *Player) Stop() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return OK
	}
	if p.state == StateShutdown {
		return InvalidParam
	}

	if p.stream != nil {
		_ = p.stream.Reset()
		_ = p.stream.Close()
		p.stream = nil
	}
	p.source.Rewind()
	p.outstanding = nil
	p.refillIdx = 0
	p.pendingCompletions.Store(0)
	wasError := p.state == StateError
	p.state = StateStopped
	cb := p.notify
	p.mu.Unlock()
	if cb != nil {
		cb(StateStopped)
	}
	p.mu.Lock()
	_ = wasError
	return OK
}

// Pause implements spec.md's pause operation: valid only from PLAYING.
func (p *Player) Pause() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused {
		return OK
	}
	if p.state != StatePlaying {
		return InvalidParam
	}
	if err := p.stream.Pause(); err != nil {
		p.log.Error("engine: pause failed", "error", err)
		p.transitionToErrorLocked()
		return ErrorStatus
	}
	p.state = StatePaused
	return OK
}

// Resume implements spec.md's resume operation: valid only from PAUSED,
// and returns the player to PLAYING. A second call while already PLAYING
// is a no-op returning OK. Stop does not require a Resume first: it
// accepts PAUSED and goes straight to STOPPED.
func (p *Player) Resume() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePlaying {
		return OK
	}
	if p.state != StatePaused {
		return InvalidParam
	}
	if err := p.stream.Restart(); err != nil {
		p.log.Error("engine: resume failed", "error", err)
		p.transitionToErrorLocked()
		return ErrorStatus
	}
	p.state = StatePlaying
	// No wake here either, for the same reason as Play: resuming doesn't
	// itself free a buffer. Any completion the driver already queued up
	// while paused still arrives through onBufferDone.
	return OK
}

// SetLooping toggles looping; valid in any state.
func (p *Player) SetLooping(looping bool) {
	p.mu.Lock()
	p.looping = looping
	p.mu.Unlock()
}

// IsLooping reports the looping flag.
func (p *Player) IsLooping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.looping
}

// Rebind swaps this Player's Source (and the identity of the sound it
// will open next — driver, device, and notify callback) and resizes its
// buffers to match, so the Player shell (and its already-running worker
// goroutine) can be reused for a different sound effect. Valid only from
// STOPPED; returns ErrInvalidTransition otherwise. Used by the PCM
// player pool (spec.md section 2's "Player pool (PCM only)" component).
func (p *Player) Rebind(source Source, driver Driver, deviceID int, notify NotifyFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStopped {
		return ErrInvalidTransition
	}
	p.source = source
	p.driver = driver
	p.deviceID = deviceID
	p.notify = notify
	p.looping = false
	if cap(p.buf[0]) < source.BufferSize() {
		p.buf[0] = make([]byte, source.BufferSize())
	} else {
		p.buf[0] = p.buf[0][:source.BufferSize()]
	}
	if cap(p.buf[1]) < source.BufferSize() {
		p.buf[1] = make([]byte, source.BufferSize())
	} else {
		p.buf[1] = p.buf[1][:source.BufferSize()]
	}
	return nil
}

// IsPlaying, IsPaused, IsStopped are the state-query predicates. Exactly
// one is true for a live, non-errored handle (spec.md section 8).
func (p *Player) IsPlaying() bool { return p.snapshotState() == StatePlaying }
func (p *Player) IsPaused() bool  { return p.snapshotState() == StatePaused }
func (p *Player) IsStopped() bool { return p.snapshotState() == StateStopped }

func (p *Player) snapshotState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetStreamVolume updates this player's VolLeft/VolRight fields. The
// engine does not apply them to buffer contents for any source.
func (p *Player) SetStreamVolume(left, right uint16) {
	p.mu.Lock()
	p.VolLeft, p.VolRight = left, right
	p.mu.Unlock()
}

func (p *Player) StreamVolume() (left, right uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.VolLeft, p.VolRight
}

// shutdown drains the player to STOPPED (if needed) and terminates the
// worker goroutine. Called by Close with no registry lock held, only
// after the handle has already been removed from the registry.
func (p *Player) shutdown() {
	p.Stop()
	p.mu.Lock()
	p.state = StateShutdown
	p.mu.Unlock()
	p.signalWake()
}

// ShutdownNow is the exported form of shutdown, for callers (such as a
// full player pool) that hold a *Player directly rather than through a
// Registry handle.
func (p *Player) ShutdownNow() { p.shutdown() }

// awaitWorkerExit blocks until the player's state reads SHUTDOWN or ctx
// is done. shutdown sets that state itself before waking the worker, so a
// nil return does not show that the worker goroutine has already
// returned. Used by tests that need deterministic teardown;
// Close does not need to wait since no further operations can reach a
// deregistered player.
func (p *Player) awaitWorkerExit(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		for {
			p.mu.Lock()
			s := p.state
			p.mu.Unlock()
			if s == StateShutdown {
				close(done)
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
