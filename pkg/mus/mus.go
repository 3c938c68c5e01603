// Package mus transcodes id Software's MUS format (DOOM's compact MIDI
// variant) into the engine's packed MIDI event-block records, per the
// MUS->MIDI command table and channel map spec.md section 4.3 describes.
package mus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zurustar/vintage-audio/pkg/midievent"
	"github.com/zurustar/vintage-audio/pkg/vlq"
)

// BufferSize is the engine.Source buffer capacity for MUS scores.
const BufferSize = 12 * 1024

// PPQN is MUS's fixed timebase (see spec.md section 4.3).
const PPQN = 70

// drumChannel is the MIDI channel MUS channel 15 always maps to.
const drumChannel = 9

var (
	ErrBadHeader      = errors.New("mus: not a MUS file (bad magic or length)")
	ErrReservedCommand = errors.New("mus: reserved command 5 or 7 encountered")
	ErrTruncated      = errors.New("mus: truncated event stream")
	ErrTooManyChannels = errors.New("mus: score uses more than 16 distinct MUS channels")
)

// controllerMap translates a MUS controller number (as seen in command 3
// and command 4 events) to the MIDI continuous-controller number.
var controllerMap = [...]byte{
	0:  0,  // Program Change is handled specially by the caller, not via this table
	1:  0,  // Bank select
	2:  1,  // Modulation
	3:  7,  // Volume
	4:  10, // Pan
	5:  11, // Expression
	6:  91, // Reverb depth
	7:  93, // Chorus depth
	8:  64, // Sustain pedal
	9:  67, // Soft pedal
	10: 120, // All sounds off
	11: 123, // All notes off
	12: 126, // Mono
	13: 127, // Poly
	14: 121, // Reset all controllers
}

// Score is a parsed MUS score, ready to replay into the engine's packed
// event-block buffer format.
type Score struct {
	data       []byte
	scoreStart int
	scoreLen   int

	pos           int
	pendingDelta  uint32
	havePending   bool

	channelMap   [16]int8 // MUS channel -> MIDI channel, -1 if unassigned
	nextMIDIChan int
	lastVelocity [16]byte // per-MUS-channel cached velocity for Play-without-attached-velocity
	ended        bool
}

// Timebase always returns the fixed 70 PPQN MUS uses.
func (s *Score) Timebase() uint32 { return PPQN }

// BufferSize returns the fixed MUS source buffer size.
func (s *Score) BufferSize() int { return BufferSize }

// Parse validates a MUS file's header and returns a Score positioned at
// the start of playback.
func Parse(data []byte) (*Score, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("%w: file shorter than header", ErrBadHeader)
	}
	if data[0] != 'M' || data[1] != 'U' || data[2] != 'S' || data[3] != 0x1A {
		return nil, ErrBadHeader
	}
	scoreLen := int(binary.LittleEndian.Uint16(data[4:6]))
	scoreStart := int(binary.LittleEndian.Uint16(data[6:8]))
	// primary channels, secondary channels, instrument count at 8,10,12
	instrumentCount := int(binary.LittleEndian.Uint16(data[12:14]))
	instrumentsEnd := 16 + 2*instrumentCount
	if instrumentsEnd > len(data) {
		return nil, fmt.Errorf("%w: instrument patch list runs past end", ErrBadHeader)
	}
	if scoreStart+scoreLen != len(data) {
		return nil, fmt.Errorf("%w: score_start+score_len (%d) != file length (%d)", ErrBadHeader, scoreStart+scoreLen, len(data))
	}

	s := &Score{data: data, scoreStart: scoreStart, scoreLen: scoreLen}
	s.resetCursor()
	return s, nil
}

func (s *Score) resetCursor() {
	s.pos = s.scoreStart
	s.pendingDelta = 0
	s.havePending = false
	s.ended = false
	for i := range s.channelMap {
		s.channelMap[i] = -1
	}
	s.channelMap[15] = drumChannel
	s.nextMIDIChan = 0
	for i := range s.lastVelocity {
		s.lastVelocity[i] = 64
	}
}

// Rewind resets the score to its first event, per spec.md section 3's
// Score (MUS) invariant.
func (s *Score) Rewind() {
	s.resetCursor()
}

// midiChannelFor returns the MIDI channel assigned to a MUS channel,
// assigning the next free channel (skipping 9, which is reserved for MUS
// channel 15) on first appearance.
func (s *Score) midiChannelFor(musChan byte) (int8, error) {
	if c := s.channelMap[musChan]; c >= 0 {
		return c, nil
	}
	for s.nextMIDIChan == drumChannel {
		s.nextMIDIChan++
	}
	if s.nextMIDIChan > 15 {
		// Per the reimplementation decision: cap and reject rather than
		// silently overrun, matching spec.md's open-question guidance.
		return 0, ErrTooManyChannels
	}
	c := int8(s.nextMIDIChan)
	s.nextMIDIChan++
	s.channelMap[musChan] = c
	return c, nil
}

// Fill packs as many event-block records as fit into buf. It returns the
// number of bytes written and whether the score has reached its end
// (the score-end command was decoded and no more events remain pending).
func (s *Score) Fill(buf []byte) (n int, atEnd bool) {
	for n+midievent.RecordSize <= len(buf) {
		if s.ended {
			return n, true
		}
		ev, delta, err := s.nextEvent()
		if err != nil {
			// Malformed tail: stop emitting further events, as if the
			// score ended here.
			s.ended = true
			return n, true
		}
		if ev == nil {
			// score-end: nothing further to emit.
			s.ended = true
			return n, true
		}
		rec := midievent.Pack(nil, delta, *ev)
		copy(buf[n:n+midievent.RecordSize], rec)
		n += midievent.RecordSize
	}
	return n, false
}

// nextEvent decodes one MUS event into its MIDI equivalent and the
// delta-ticks that precede it. A nil Event with a nil error signals
// score-end. The delta for an event is the pending inter-event tick
// count accumulated from the *previous* event's continuation VLQ.
func (s *Score) nextEvent() (*midievent.Event, uint32, error) {
	delta := s.pendingDelta
	s.pendingDelta = 0
	s.havePending = false

	for {
		if s.pos >= len(s.data) {
			return nil, 0, fmt.Errorf("%w: ran off end of file", ErrTruncated)
		}
		eventByte := s.data[s.pos]
		s.pos++

		last := eventByte&0x80 != 0
		command := (eventByte >> 4) & 0x07
		musChan := eventByte & 0x0F

		var ev *midievent.Event
		var err error
		switch command {
		case 0: // release note
			ev, err = s.decodeRelease(musChan)
		case 1: // play note
			ev, err = s.decodePlay(musChan)
		case 2: // pitch wheel
			ev, err = s.decodePitchWheel(musChan)
		case 3: // controller, value 0
			ev, err = s.decodeControllerZero(musChan)
		case 4: // controller with value
			ev, err = s.decodeController(musChan)
		case 6: // score end
			return nil, 0, nil
		case 5, 7:
			return nil, 0, fmt.Errorf("%w: command %d", ErrReservedCommand, command)
		default:
			return nil, 0, fmt.Errorf("mus: impossible command %d", command)
		}
		if err != nil {
			return nil, 0, err
		}

		if last {
			v, consumed, verr := vlq.Read(s.data[s.pos:])
			if verr != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, verr)
			}
			s.pos += consumed
			s.pendingDelta = v
			s.havePending = true
		}

		if ev != nil {
			return ev, delta, nil
		}
		// ev == nil with no error only happens for score-end above, which
		// already returned; every other command path produces an event.
	}
}

func (s *Score) decodeRelease(musChan byte) (*midievent.Event, error) {
	if s.pos >= len(s.data) {
		return nil, ErrTruncated
	}
	note := s.data[s.pos] & 0x7F
	s.pos++
	ch, err := s.midiChannelFor(musChan)
	if err != nil {
		return nil, err
	}
	ev := midievent.ShortMessage(0x80|byte(ch), note, 0, true)
	return &ev, nil
}

func (s *Score) decodePlay(musChan byte) (*midievent.Event, error) {
	if s.pos >= len(s.data) {
		return nil, ErrTruncated
	}
	b := s.data[s.pos]
	s.pos++
	note := b & 0x7F
	ch, err := s.midiChannelFor(musChan)
	if err != nil {
		return nil, err
	}
	velocity := s.lastVelocity[musChan]
	if b&0x80 != 0 {
		if s.pos >= len(s.data) {
			return nil, ErrTruncated
		}
		velocity = s.data[s.pos] & 0x7F
		s.pos++
		s.lastVelocity[musChan] = velocity
	}
	ev := midievent.ShortMessage(0x90|byte(ch), note, velocity, true)
	return &ev, nil
}

func (s *Score) decodePitchWheel(musChan byte) (*midievent.Event, error) {
	if s.pos >= len(s.data) {
		return nil, ErrTruncated
	}
	v := s.data[s.pos]
	s.pos++
	ch, err := s.midiChannelFor(musChan)
	if err != nil {
		return nil, err
	}
	bend := uint16(v) * 64
	lo := byte(bend & 0x7F)
	hi := byte((bend >> 7) & 0x7F)
	ev := midievent.ShortMessage(0xE0|byte(ch), lo, hi, true)
	return &ev, nil
}

func (s *Score) decodeControllerZero(musChan byte) (*midievent.Event, error) {
	if s.pos >= len(s.data) {
		return nil, ErrTruncated
	}
	ctrl := s.data[s.pos] & 0x7F
	s.pos++
	ch, err := s.midiChannelFor(musChan)
	if err != nil {
		return nil, err
	}
	midiCtrl := mapController(ctrl)
	ev := midievent.ShortMessage(0xB0|byte(ch), midiCtrl, 0, true)
	return &ev, nil
}

func (s *Score) decodeController(musChan byte) (*midievent.Event, error) {
	if s.pos+1 >= len(s.data) {
		return nil, ErrTruncated
	}
	ctrl := s.data[s.pos] & 0x7F
	value := s.data[s.pos+1] & 0x7F
	s.pos += 2
	ch, err := s.midiChannelFor(musChan)
	if err != nil {
		return nil, err
	}
	if ctrl == 0 {
		ev := midievent.ShortMessage(0xC0|byte(ch), value, 0, false)
		return &ev, nil
	}
	midiCtrl := mapController(ctrl)
	ev := midievent.ShortMessage(0xB0|byte(ch), midiCtrl, value, true)
	return &ev, nil
}

func mapController(musCtrl byte) byte {
	if int(musCtrl) < len(controllerMap) {
		return controllerMap[musCtrl]
	}
	return musCtrl
}
