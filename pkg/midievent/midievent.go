// Package midievent defines the wire format the concurrent playback engine
// consumes: fixed 12-byte event-block records, and the tagged Event value
// that both the MIDI file parser and the MUS transcoder produce before
// serializing.
//
// The reference implementation this engine is modeled on overlaid a packed
// byte with a channel/command/marker bitfield struct to build these records.
// Here the union is a proper Go sum type (Event) with an explicit Pack
// method, per the engine's own redesign notes: no aliased memory layout,
// no platform-dependent struct packing.
package midievent

import "encoding/binary"

// RecordSize is the size in bytes of one packed event-block record:
// u32 delta-ticks, u32 stream id (always 0), u32 packed event.
const RecordSize = 12

// Event kinds, matching the high byte of the packed_event field.
const (
	KindShortMsg byte = 0x01
	KindTempo    byte = 0x80
)

// Event is a single decoded MIDI-ish event ready to be packed into a record.
// Exactly one of the Short/Tempo views is meaningful, selected by Kind.
type Event struct {
	Kind byte // KindShortMsg or KindTempo

	// Short message fields, valid when Kind == KindShortMsg.
	Status byte // status byte, channel in the low nibble where applicable
	Data1  byte
	Data2  byte // unused for 1-data-byte messages (Program Change, Channel Pressure)
	Data2N bool // true if Data2 is present

	// Tempo fields, valid when Kind == KindTempo.
	MicrosPerQuarter uint32 // 24-bit value: microseconds per quarter note
}

// ShortMessage builds a channel-voice event. hasData2 indicates whether data2
// is meaningful (false for Program Change / Channel Pressure).
func ShortMessage(status, data1, data2 byte, hasData2 bool) Event {
	return Event{Kind: KindShortMsg, Status: status, Data1: data1, Data2: data2, Data2N: hasData2}
}

// Tempo builds a tempo meta-event carrying microseconds-per-quarter-note.
func Tempo(microsPerQuarter uint32) Event {
	return Event{Kind: KindTempo, MicrosPerQuarter: microsPerQuarter & 0x00ffffff}
}

// packedWord returns the packed_event field: high 8 bits are the event
// kind, low 24 bits carry the status+data (short message) or the
// microseconds-per-quarter-note value (tempo).
func (e Event) packedWord() uint32 {
	switch e.Kind {
	case KindShortMsg:
		payload := uint32(e.Status)<<16 | uint32(e.Data1)<<8 | uint32(e.Data2)
		return uint32(KindShortMsg)<<24 | (payload & 0x00ffffff)
	case KindTempo:
		return uint32(KindTempo)<<24 | (e.MicrosPerQuarter & 0x00ffffff)
	default:
		return 0
	}
}

// Pack serializes one event into a 12-byte record and appends it to dst,
// returning the extended slice. deltaTicks is the tick distance since the
// previous emitted event; streamID is always 0 in this engine.
func Pack(dst []byte, deltaTicks uint32, event Event) []byte {
	var rec [RecordSize]byte
	binary.LittleEndian.PutUint32(rec[0:4], deltaTicks)
	binary.LittleEndian.PutUint32(rec[4:8], 0)
	binary.LittleEndian.PutUint32(rec[8:12], event.packedWord())
	return append(dst, rec[:]...)
}

// DataBytesFor reports how many data bytes follow a channel-voice status
// byte: 1 for Program Change (0xCn) and Channel Pressure (0xDn), 2 for
// every other channel message family.
func DataBytesFor(status byte) int {
	switch status & 0xf0 {
	case 0xC0, 0xD0:
		return 1
	default:
		return 2
	}
}
