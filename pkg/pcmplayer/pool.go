package pcmplayer

import (
	"log/slog"
	"sync"

	"github.com/zurustar/vintage-audio/pkg/engine"
)

// Pool is a free-list of idle Player shells, so opening a new short sound
// effect can reuse an already-running worker goroutine instead of paying
// goroutine-creation and buffer-allocation latency on every Open. This is
// the optional component spec.md section 2 lists as "Player pool (PCM
// only)"; MIDI and MUS scores are long-lived enough that the latency
// this amortizes does not matter for them.
type Pool struct {
	mu   sync.Mutex
	idle []*engine.Player
	max  int
}

// NewPool returns an empty Pool that retains at most max idle shells.
// A max of 0 means unbounded.
func NewPool(max int) *Pool {
	return &Pool{max: max}
}

// take returns an idle shell rebound to source, or constructs a new one
// if the pool is empty.
func (p *Pool) take(source engine.Source, driver engine.Driver, deviceID int, notify engine.NotifyFunc, log *slog.Logger) *engine.Player {
	p.mu.Lock()
	n := len(p.idle)
	var shell *engine.Player
	if n > 0 {
		shell = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if shell == nil {
		return engine.NewPlayer(source, driver, deviceID, notify, log)
	}
	if err := shell.Rebind(source, driver, deviceID, notify); err != nil {
		// Should not happen: shells only return to the pool once STOPPED.
		// Fall back to a fresh shell rather than propagating the error.
		return engine.NewPlayer(source, driver, deviceID, notify, log)
	}
	return shell
}

// give returns player to the free list if there is room and reports
// whether it was kept. It does not check the player's state; Engine.Close
// hands a player over only after Registry.Release has stopped it. If the
// pool is full, give returns false and the caller shuts the player's
// worker goroutine down.
func (p *Pool) give(player *engine.Player) (kept bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.max > 0 && len(p.idle) >= p.max {
		return false
	}
	p.idle = append(p.idle, player)
	return true
}
