package pcmplayer

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/zurustar/vintage-audio/pkg/engine"
)

type fakeStream struct {
	mu           sync.Mutex
	onBufferDone func()
	closed       bool
}

func (s *fakeStream) SetTimebase(uint32) error { return nil }
func (s *fakeStream) Prepare([]byte) error     { return nil }
func (s *fakeStream) Unprepare([]byte) error   { return nil }
func (s *fakeStream) Enqueue(buf []byte) error {
	go func() {
		s.mu.Lock()
		cb, closed := s.onBufferDone, s.closed
		s.mu.Unlock()
		if !closed && cb != nil {
			cb()
		}
	}()
	return nil
}
func (s *fakeStream) Pause() error   { return nil }
func (s *fakeStream) Restart() error { return nil }
func (s *fakeStream) Reset() error   { return nil }
func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeDriver struct{ mu sync.Mutex }

func (d *fakeDriver) OpenStream(deviceID int, onBufferDone func()) (engine.Stream, error) {
	return &fakeStream{onBufferDone: onBufferDone}, nil
}
func (d *fakeDriver) Volume() (uint16, uint16, error) { return 0xFFFF, 0xFFFF, nil }
func (d *fakeDriver) SetVolume(l, r uint16) error     { return nil }

func buildDMX(samples []byte) []byte {
	var b []byte
	b = append(b, 3, 0) // format = 3
	b = append(b, 0x11, 0x2B) // sample rate 11025 little-endian
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(len(samples)+32))
	b = append(b, length...)
	b = append(b, make([]byte, 16)...)
	b = append(b, samples...)
	b = append(b, make([]byte, 16)...)
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestOpenPlayCloseScenario5(t *testing.T) {
	drv := &fakeDriver{}
	e := New(drv, nil, nil)

	h1, err := e.Open(buildDMX(make([]byte, 256)), 8, 1, 0, nil)
	if err != nil {
		t.Fatalf("Open h1: %v", err)
	}
	h2, err := e.Open(buildDMX(make([]byte, 256)), 8, 1, 0, nil)
	if err != nil {
		t.Fatalf("Open h2: %v", err)
	}

	e.Play(h1)
	e.Play(h2)
	waitFor(t, func() bool { return e.IsPlaying(h1) && e.IsPlaying(h2) })

	e.Stop(h1)
	if !e.IsStopped(h1) {
		t.Error("h1 should be stopped")
	}
	if !e.IsPlaying(h2) {
		t.Error("h2 should be unaffected")
	}

	e.Close(h1)
	e.Close(h2)
	if e.IsPlaying(h1) || e.IsPlaying(h2) {
		t.Error("closed handles must not report playing")
	}
}

func TestPerStreamVolume(t *testing.T) {
	e := New(&fakeDriver{}, nil, nil)
	h, err := e.Open(buildDMX(make([]byte, 64)), 8, 1, 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e.SetVolume(h, 0x1000, 0x2000)
	l, r, st := e.Volume(h)
	if st != engine.OK || l != 0x1000 || r != 0x2000 {
		t.Errorf("Volume(h) = (%d, %d, %v), want (0x1000, 0x2000, OK)", l, r, st)
	}
}

func TestPoolReusesShell(t *testing.T) {
	pool := NewPool(4)
	e := New(&fakeDriver{}, nil, pool)

	h1, err := e.Open(buildDMX(make([]byte, 64)), 8, 1, 0, nil)
	if err != nil {
		t.Fatalf("Open h1: %v", err)
	}
	e.Play(h1)
	waitFor(t, func() bool { return e.IsStopped(h1) })
	e.Close(h1)

	if len(pool.idle) != 1 {
		t.Fatalf("pool has %d idle shells, want 1 after close", len(pool.idle))
	}

	h2, err := e.Open(buildDMX(make([]byte, 64)), 8, 1, 0, nil)
	if err != nil {
		t.Fatalf("Open h2: %v", err)
	}
	if len(pool.idle) != 0 {
		t.Errorf("pool has %d idle shells, want 0 after reopen", len(pool.idle))
	}
	e.Play(h2)
	waitFor(t, func() bool { return e.IsStopped(h2) })
	e.Close(h2)
}
