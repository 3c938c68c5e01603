// Package midifile parses Standard MIDI Files into the engine's packed
// event-block wire format (see pkg/midievent), implementing the
// multi-track merge and tempo-map-free tick accounting spec.md section 4.1
// describes.
package midifile

import (
	"errors"
	"fmt"

	"github.com/zurustar/vintage-audio/pkg/midievent"
	"github.com/zurustar/vintage-audio/pkg/vlq"
)

// BufferSize is the engine.Source buffer capacity for MIDI scores: enough
// packed event-block records to absorb a busy tick without starving the
// double buffer.
const BufferSize = 48 * 1024

var (
	ErrBadHeader     = errors.New("midifile: not a Standard MIDI File (missing MThd)")
	ErrBadTrackChunk = errors.New("midifile: malformed MTrk chunk")
	ErrTruncated     = errors.New("midifile: truncated track data")
	ErrUnsupportedFormat = errors.New("midifile: unsupported SMF format (want 0, 1, or 2)")
)

// track holds one MTrk chunk's raw event bytes plus the cursor's replay
// state: the current read offset, accumulated absolute tick, running
// status byte, and the single decoded-but-not-yet-emitted event it is
// holding (if any).
type track struct {
	data []byte
	pos  int

	absTick       uint32
	runningStatus byte

	havePending bool
	pendingTick uint32
	pendingEv   midievent.Event
	ended       bool
}

func (t *track) reset() {
	t.pos = 0
	t.absTick = 0
	t.runningStatus = 0
	t.havePending = false
	t.pendingTick = 0
	t.ended = false
}

// Score is a parsed Standard MIDI File ready to be replayed into the
// engine's packed event-block buffer format.
type Score struct {
	format   uint16
	ppqn     uint32
	tracks   []*track
	lastTick uint32 // tick of the most recently emitted event, for delta computation
}

// Timebase returns the file's pulses-per-quarter-note division. Parse
// rejects SMPTE time division, so this is always a PPQN value.
func (s *Score) Timebase() uint32 { return s.ppqn }

// BufferSize returns the fixed MIDI source buffer size.
func (s *Score) BufferSize() int { return BufferSize }

// Parse reads a Standard MIDI File from data and returns a Score
// positioned at the start of playback.
func Parse(data []byte) (*Score, error) {
	pos := 0
	chunkID, chunkLen, body, next, err := readChunk(data, pos)
	if err != nil {
		return nil, err
	}
	if chunkID != "MThd" {
		return nil, ErrBadHeader
	}
	if chunkLen < 6 {
		return nil, fmt.Errorf("%w: MThd chunk too short", ErrBadHeader)
	}
	format := vlq.BigEndianU16(body[0:2])
	numTracks := vlq.BigEndianU16(body[2:4])
	division := vlq.BigEndianU16(body[4:6])
	if format > 2 {
		return nil, ErrUnsupportedFormat
	}
	if division&0x8000 != 0 {
		// SMPTE time division (frames/ticks-per-frame): not produced by
		// any of the DOS-era score assets this engine targets.
		return nil, fmt.Errorf("%w: SMPTE time division unsupported", ErrUnsupportedFormat)
	}

	s := &Score{format: format, ppqn: uint32(division)}
	pos = next
	for i := 0; i < int(numTracks); i++ {
		id, _, trackBody, n, err := readChunk(data, pos)
		if err != nil {
			return nil, fmt.Errorf("%w: track %d: %v", ErrBadTrackChunk, i, err)
		}
		if id != "MTrk" {
			return nil, fmt.Errorf("%w: track %d: expected MTrk, got %q", ErrBadTrackChunk, i, id)
		}
		s.tracks = append(s.tracks, &track{data: trackBody})
		pos = n
	}
	return s, nil
}

func readChunk(data []byte, pos int) (id string, length int, body []byte, next int, err error) {
	if pos+8 > len(data) {
		return "", 0, nil, 0, fmt.Errorf("midifile: truncated chunk header at offset %d", pos)
	}
	id = string(data[pos : pos+4])
	length = int(vlq.BigEndianU32(data[pos+4 : pos+8]))
	start := pos + 8
	if start+length > len(data) {
		return "", 0, nil, 0, fmt.Errorf("midifile: chunk %q length %d exceeds file", id, length)
	}
	return id, length, data[start : start+length], start + length, nil
}

// Rewind resets every track cursor to the start of the file.
func (s *Score) Rewind() {
	s.lastTick = 0
	for _, t := range s.tracks {
		t.reset()
	}
}

// refreshPending decodes events from t until it finds one worth emitting
// (a tempo meta-event, a channel-voice short message, or end-of-track),
// skipping and discarding anything else (SysEx, non-tempo meta events) as
// it goes. It is a no-op if t already has a pending event or has ended.
func (t *track) refreshPending() error {
	if t.havePending || t.ended {
		return nil
	}
	for t.pos < len(t.data) {
		delta, n, err := vlq.Read(t.data[t.pos:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		t.pos += n
		t.absTick += delta

		if t.pos >= len(t.data) {
			return fmt.Errorf("%w: event status byte missing", ErrTruncated)
		}
		b := t.data[t.pos]

		switch {
		case b == 0xFF:
			t.runningStatus = 0
			t.pos++
			if t.pos >= len(t.data) {
				return fmt.Errorf("%w: meta-event type missing", ErrTruncated)
			}
			metaType := t.data[t.pos]
			t.pos++
			length, ln, err := vlq.Read(t.data[t.pos:])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			t.pos += ln
			if t.pos+int(length) > len(t.data) {
				return fmt.Errorf("%w: meta-event data runs past end", ErrTruncated)
			}
			metaData := t.data[t.pos : t.pos+int(length)]
			t.pos += int(length)

			switch metaType {
			case 0x51: // Set Tempo
				if length != 3 {
					return fmt.Errorf("%w: tempo meta-event length %d, want 3", ErrBadTrackChunk, length)
				}
				micros := uint32(metaData[0])<<16 | uint32(metaData[1])<<8 | uint32(metaData[2])
				t.pendingTick = t.absTick
				t.pendingEv = midievent.Tempo(micros)
				t.havePending = true
				return nil
			case 0x2F: // End of Track
				t.ended = true
				return nil
			default:
				// Other meta events (track name, lyrics, markers, ...) carry
				// no playback-relevant information for this engine.
			}

		case b == 0xF0 || b == 0xF1 || b == 0xF7:
			// SysEx / escape sequences: consume and discard the payload.
			t.pos++
			length, ln, err := vlq.Read(t.data[t.pos:])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			t.pos += ln
			if t.pos+int(length) > len(t.data) {
				return fmt.Errorf("%w: sysex data runs past end", ErrTruncated)
			}
			t.pos += int(length)
			t.runningStatus = 0

		case b&0x80 != 0:
			// A new status byte; channel-voice message.
			t.runningStatus = b
			t.pos++
			if err := t.emitShortMessage(); err != nil {
				return err
			}
			return nil

		default:
			// Running status: b is the first data byte of a repeated
			// channel-voice message, status byte omitted.
			if t.runningStatus == 0 {
				return fmt.Errorf("%w: running status used before any status byte seen", ErrBadTrackChunk)
			}
			if err := t.emitShortMessage(); err != nil {
				return err
			}
			return nil
		}
	}
	// Ran off the end of the chunk without a 0xFF 0x2F 0x00: treat as
	// an implicit end-of-track rather than an error, matching readers
	// that tolerate missing end markers.
	t.ended = true
	return nil
}

// emitShortMessage reads the data bytes for the current running status
// (t.pos already past the status byte if one was just read) and stages
// the decoded event as pending.
func (t *track) emitShortMessage() error {
	status := t.runningStatus
	nData := midievent.DataBytesFor(status)
	if t.pos+nData > len(t.data) {
		return fmt.Errorf("%w: channel message data runs past end", ErrTruncated)
	}
	var d1, d2 byte
	hasD2 := nData == 2
	d1 = t.data[t.pos]
	t.pos++
	if hasD2 {
		d2 = t.data[t.pos]
		t.pos++
	}
	t.pendingTick = t.absTick
	t.pendingEv = midievent.ShortMessage(status, d1, d2, hasD2)
	t.havePending = true
	return nil
}

// Fill packs as many event-block records as fit into buf, merging all
// tracks by absolute tick order (lowest pending tick first; ties broken
// by track index, matching the file's track order). It returns the
// number of bytes written and whether every track has reached its end.
func (s *Score) Fill(buf []byte) (n int, atEnd bool) {
	for n+midievent.RecordSize <= len(buf) {
		best := -1
		var bestTick uint32
		for i, t := range s.tracks {
			if t.ended {
				continue
			}
			if err := t.refreshPending(); err != nil {
				// A malformed tail is treated as an early end-of-track;
				// the engine still plays everything decoded so far.
				t.ended = true
				continue
			}
			if t.ended || !t.havePending {
				continue
			}
			if best == -1 || t.pendingTick < bestTick {
				best = i
				bestTick = t.pendingTick
			}
		}
		if best == -1 {
			return n, true
		}
		t := s.tracks[best]
		delta := bestTick - s.lastTick
		s.lastTick = bestTick
		rec := midievent.Pack(nil, delta, t.pendingEv)
		copy(buf[n:n+midievent.RecordSize], rec)
		n += midievent.RecordSize
		t.havePending = false
	}
	return n, s.allEnded()
}

func (s *Score) allEnded() bool {
	for _, t := range s.tracks {
		if !t.ended || t.havePending {
			return false
		}
	}
	return true
}
