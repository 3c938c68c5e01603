package midievent

import (
	"encoding/binary"
	"testing"
)

func TestPackShortMessage(t *testing.T) {
	ev := ShortMessage(0x90, 60, 64, true)
	buf := Pack(nil, 96, ev)
	if len(buf) != RecordSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), RecordSize)
	}
	delta := binary.LittleEndian.Uint32(buf[0:4])
	streamID := binary.LittleEndian.Uint32(buf[4:8])
	packed := binary.LittleEndian.Uint32(buf[8:12])

	if delta != 96 {
		t.Errorf("delta = %d, want 96", delta)
	}
	if streamID != 0 {
		t.Errorf("streamID = %d, want 0", streamID)
	}
	if kind := byte(packed >> 24); kind != KindShortMsg {
		t.Errorf("kind = 0x%02X, want 0x%02X", kind, KindShortMsg)
	}
	if status := byte(packed >> 16); status != 0x90 {
		t.Errorf("status = 0x%02X, want 0x90", status)
	}
	if d1 := byte(packed >> 8); d1 != 60 {
		t.Errorf("data1 = %d, want 60", d1)
	}
	if d2 := byte(packed); d2 != 64 {
		t.Errorf("data2 = %d, want 64", d2)
	}
}

func TestPackTempo(t *testing.T) {
	ev := Tempo(500000)
	buf := Pack(nil, 0, ev)
	packed := binary.LittleEndian.Uint32(buf[8:12])
	if kind := byte(packed >> 24); kind != KindTempo {
		t.Errorf("kind = 0x%02X, want 0x%02X", kind, KindTempo)
	}
	if micros := packed & 0x00ffffff; micros != 500000 {
		t.Errorf("micros = %d, want 500000", micros)
	}
}

func TestPackAppends(t *testing.T) {
	buf := Pack(nil, 0, ShortMessage(0x90, 1, 2, true))
	buf = Pack(buf, 10, ShortMessage(0x80, 1, 0, true))
	if len(buf) != 2*RecordSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), 2*RecordSize)
	}
}

func TestDataBytesFor(t *testing.T) {
	cases := []struct {
		status byte
		want   int
	}{
		{0xC0, 1}, {0xCF, 1},
		{0xD0, 1}, {0xDF, 1},
		{0x80, 2}, {0x90, 2}, {0xA0, 2}, {0xB0, 2}, {0xE0, 2},
	}
	for _, c := range cases {
		if got := DataBytesFor(c.status); got != c.want {
			t.Errorf("DataBytesFor(0x%02X) = %d, want %d", c.status, got, c.want)
		}
	}
}
