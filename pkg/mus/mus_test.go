package mus

import (
	"encoding/binary"
	"testing"

	"github.com/zurustar/vintage-audio/pkg/midievent"
)

func u16le(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// buildMUS assembles a minimal MUS file: header + instrument list (empty)
// + the given score bytes.
func buildMUS(score []byte) []byte {
	const headerLen = 16
	var b []byte
	b = append(b, 'M', 'U', 'S', 0x1A)
	b = append(b, u16le(uint16(len(score)))...) // score length
	b = append(b, u16le(headerLen)...)          // score start (no instruments)
	b = append(b, u16le(1)...)                  // primary channels
	b = append(b, u16le(0)...)                  // secondary channels
	b = append(b, u16le(0)...)                  // instrument count
	b = append(b, u16le(0)...)                  // reserved
	b = append(b, score...)
	return b
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := Parse([]byte("not a mus file at all....."))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	data := buildMUS([]byte{0x60 | 6}) // score-end, but we'll corrupt the length below
	binary.LittleEndian.PutUint16(data[4:6], 99)
	_, err := Parse(data)
	if err == nil {
		t.Fatal("expected error for score_start+score_len mismatch")
	}
}

func TestEndToEndScenario3(t *testing.T) {
	// channel 0, Play note 60 velocity 64, last=1, VLQ 0x00, then score-end.
	var score []byte
	score = append(score, 0x80|0x10|0x00) // last=1, command=1(play), chan=0
	score = append(score, 60|0x80)        // note 60, velocity-attached bit set
	score = append(score, 64)             // velocity 64
	score = append(score, 0x00)           // VLQ delta = 0
	score = append(score, 0x60)           // command 6 (score end), chan 0, last=0

	data := buildMUS(score)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Timebase() != PPQN {
		t.Errorf("Timebase() = %d, want %d", s.Timebase(), PPQN)
	}

	buf := make([]byte, s.BufferSize())
	n, atEnd := s.Fill(buf)
	if n != midievent.RecordSize {
		t.Fatalf("Fill() wrote %d bytes, want %d", n, midievent.RecordSize)
	}
	if !atEnd {
		t.Error("expected atEnd after score-end command")
	}
	packed := binary.LittleEndian.Uint32(buf[8:12])
	status := byte(packed >> 16)
	note := byte(packed >> 8)
	vel := byte(packed)
	if status != 0x90 {
		t.Errorf("status = 0x%02X, want 0x90 (Note On, MIDI channel 0)", status)
	}
	if note != 60 {
		t.Errorf("note = %d, want 60", note)
	}
	if vel != 64 {
		t.Errorf("velocity = %d, want 64", vel)
	}
}

func TestReservedCommandsRejected(t *testing.T) {
	for _, cmd := range []byte{5, 7} {
		score := []byte{0x80 | (cmd << 4)}
		data := buildMUS(score)
		s, err := Parse(data)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		buf := make([]byte, s.BufferSize())
		_, atEnd := s.Fill(buf)
		if !atEnd {
			t.Errorf("command %d: expected score to end on reserved command", cmd)
		}
	}
}

func TestChannel15AlwaysMapsToDrums(t *testing.T) {
	var score []byte
	score = append(score, 0x80|0x10|0x0F) // chan 15, play, last
	score = append(score, 60)
	score = append(score, 0x00)
	score = append(score, 0x60)

	data := buildMUS(score)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	buf := make([]byte, s.BufferSize())
	n, _ := s.Fill(buf)
	if n == 0 {
		t.Fatal("expected one event")
	}
	packed := binary.LittleEndian.Uint32(buf[8:12])
	status := byte(packed >> 16)
	if status&0x0F != 9 {
		t.Errorf("MUS channel 15 mapped to MIDI channel %d, want 9", status&0x0F)
	}
}

func TestCachedVelocity(t *testing.T) {
	var score []byte
	// First play: note 60 with attached velocity 100.
	score = append(score, 0x10|0x00) // command=1(play), chan=0, last=0
	score = append(score, 60|0x80)
	score = append(score, 100)
	// Second play: note 61, no attached velocity -> must reuse 100.
	score = append(score, 0x80|0x10|0x00) // last=1
	score = append(score, 61)
	score = append(score, 0x00)
	score = append(score, 0x60)

	data := buildMUS(score)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	buf := make([]byte, s.BufferSize())
	n, _ := s.Fill(buf)
	if n != 2*midievent.RecordSize {
		t.Fatalf("Fill() wrote %d bytes, want %d", n, 2*midievent.RecordSize)
	}
	packed2 := binary.LittleEndian.Uint32(buf[20:24])
	vel2 := byte(packed2)
	if vel2 != 100 {
		t.Errorf("second Note On velocity = %d, want 100 (cached from first)", vel2)
	}
}

func TestRewindReplaysIdentically(t *testing.T) {
	var score []byte
	score = append(score, 0x80|0x10|0x00)
	score = append(score, 60|0x80)
	score = append(score, 64)
	score = append(score, 0x00)
	score = append(score, 0x60)

	data := buildMUS(score)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	buf1 := make([]byte, s.BufferSize())
	n1, _ := s.Fill(buf1)

	s.Rewind()
	buf2 := make([]byte, s.BufferSize())
	n2, _ := s.Fill(buf2)

	if n1 != n2 {
		t.Fatalf("n1=%d n2=%d, want equal after rewind", n1, n2)
	}
	for i := 0; i < n1; i++ {
		if buf1[i] != buf2[i] {
			t.Fatalf("byte %d differs after rewind", i)
		}
	}
}
