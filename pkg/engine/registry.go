package engine

import "sync"

// Handle is an opaque, process-wide identifier for an open Player.
// The zero Handle is never issued and is always invalid.
type Handle uint64

// Registry is the process-wide set of live Players, guarded by its own
// mutex. Lock order everywhere in this package is registry mutex then
// player mutex, never the reverse (spec.md section 4.7).
type Registry struct {
	mu      sync.Mutex
	next    Handle
	players map[Handle]*Player
}

// NewRegistry returns an empty Registry. Callers typically keep one
// Registry per process, but nothing here relies on package-level state —
// tests can instantiate as many independent registries as they like.
func NewRegistry() *Registry {
	return &Registry{players: make(map[Handle]*Player)}
}

// Add registers p and returns the handle callers use to refer to it.
func (r *Registry) Add(p *Player) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.players[h] = p
	return h
}

// Lookup returns the Player for h and whether h is currently registered.
// Per spec.md section 4.7, every public operation must call this (or
// Remove) before touching the player, under the registry mutex, so that
// a concurrent Close cannot be observed mid-teardown.
func (r *Registry) Lookup(h Handle) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[h]
	return p, ok
}

// Remove deregisters h, if present, and returns the Player that was
// removed (nil if h was not registered). Removal happens exactly once:
// a second Remove of the same handle returns (nil, false).
func (r *Registry) Remove(h Handle) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[h]
	if !ok {
		return nil, false
	}
	delete(r.players, h)
	return p, true
}

// Len reports the number of currently registered handles; used by tests
// asserting the registry is empty after a sequence of closes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Close removes h from the registry (if present) and drives its player to
// STOPPED and SHUTDOWN. Safe to call on an invalid handle: a no-op.
// Matches spec.md's close(h) contract exactly, including the ordering
// rule that deregistration precedes teardown.
func (r *Registry) Close(h Handle) {
	p, ok := r.Remove(h)
	if !ok {
		return
	}
	p.shutdown()
}

// Release deregisters h and stops its player, but does not shut the
// worker goroutine down — unlike Close, the Player is left usable so a
// pool can rebind it to a new Source. Returns the Player and whether h
// was registered.
func (r *Registry) Release(h Handle) (*Player, bool) {
	p, ok := r.Remove(h)
	if !ok {
		return nil, false
	}
	p.Stop()
	return p, true
}

// Play, Stop, Pause, Resume, SetLooping, IsPlaying, IsPaused, IsStopped,
// and IsLooping are the registry-checked wrappers around the
// corresponding Player methods, translating an invalid handle into
// InvalidParam (for control ops) or false (for predicates) per spec.md
// section 7's error taxonomy.

func (r *Registry) Play(h Handle) Status {
	p, ok := r.Lookup(h)
	if !ok {
		return InvalidParam
	}
	return p.Play()
}

func (r *Registry) Stop(h Handle) Status {
	p, ok := r.Lookup(h)
	if !ok {
		return InvalidParam
	}
	return p.Stop()
}

func (r *Registry) Pause(h Handle) Status {
	p, ok := r.Lookup(h)
	if !ok {
		return InvalidParam
	}
	return p.Pause()
}

func (r *Registry) Resume(h Handle) Status {
	p, ok := r.Lookup(h)
	if !ok {
		return InvalidParam
	}
	return p.Resume()
}

func (r *Registry) SetLooping(h Handle, looping bool) Status {
	p, ok := r.Lookup(h)
	if !ok {
		return InvalidParam
	}
	p.SetLooping(looping)
	return OK
}

func (r *Registry) IsPlaying(h Handle) bool {
	p, ok := r.Lookup(h)
	return ok && p.IsPlaying()
}

func (r *Registry) IsPaused(h Handle) bool {
	p, ok := r.Lookup(h)
	return ok && p.IsPaused()
}

func (r *Registry) IsStopped(h Handle) bool {
	p, ok := r.Lookup(h)
	return ok && p.IsStopped()
}

func (r *Registry) IsLooping(h Handle) bool {
	p, ok := r.Lookup(h)
	return ok && p.IsLooping()
}
