package transfers

import (
	"encoding/binary"
)

// Header sizes permitted by the UVC payload header format: a length byte, a
// flag byte, then optional PTS (4 bytes) and SCR (6 bytes).
const (
	MinHeaderLength = 2
	MaxHeaderLength = 12
)

// Header is the parsed UVC payload header of one isochronous packet.
type Header struct {
	HeaderInfoBitmask uint8
	PTS               uint32
	SCR               struct {
		SourceTimeClock uint32
		TokenCounter    uint16
	}
}

func (h *Header) FrameID() bool {
	return h.HeaderInfoBitmask&0b00000001 != 0
}

func (h *Header) EndOfFrame() bool {
	return h.HeaderInfoBitmask&0b00000010 != 0
}

func (h *Header) HasPTS() bool {
	return h.HeaderInfoBitmask&0b00000100 != 0
}

func (h *Header) HasSCR() bool {
	return h.HeaderInfoBitmask&0b00001000 != 0
}

func (h *Header) PayloadSpecificBit() bool {
	return h.HeaderInfoBitmask&0b00010000 != 0
}

func (h *Header) StillImage() bool {
	return h.HeaderInfoBitmask&0b00100000 != 0
}

func (h *Header) Error() bool {
	return h.HeaderInfoBitmask&0b01000000 != 0
}

func (h *Header) EndOfHeader() bool {
	return h.HeaderInfoBitmask&0b10000000 != 0
}

// ParseHeader applies the relaxed header validation this engine uses against
// non-conformant cameras: the header is accepted only if the end-of-header
// bit is set and the declared length is within 2..12 and does not exceed the
// packet. No other bit is checked, since many devices set reserved bits
// incorrectly. On success it returns the header and the number of bytes to
// strip. On failure ok is false and the whole packet is payload.
func ParseHeader(pkt []byte) (h Header, n int, ok bool) {
	if len(pkt) < MinHeaderLength {
		return Header{}, 0, false
	}
	declared := int(pkt[0])
	if pkt[1]&0x80 == 0 || declared < MinHeaderLength || declared > MaxHeaderLength || declared > len(pkt) {
		return Header{}, 0, false
	}

	h.HeaderInfoBitmask = pkt[1]
	offset := 2
	// Only trust the optional fields the declared length actually covers;
	// some devices set the presence bits without carrying the bytes.
	if h.HasPTS() && offset+4 <= declared {
		h.PTS = binary.LittleEndian.Uint32(pkt[offset : offset+4])
		offset += 4
	}
	if h.HasSCR() && offset+6 <= declared {
		h.SCR.SourceTimeClock = binary.LittleEndian.Uint32(pkt[offset : offset+4])
		h.SCR.TokenCounter = binary.LittleEndian.Uint16(pkt[offset+4 : offset+6])
	}
	return h, declared, true
}

// PacketMeta records what one isochronous packet contributed to a payload.
type PacketMeta struct {
	FrameID    bool
	EndOfFrame bool
	Error      bool
	Length     int
	Offset     int
}

// Payload is the header-stripped byte payload of one completed transfer plus
// the per-packet metadata extracted alongside it. Sequence numbers are
// assigned at extraction time and are strictly monotonic; the ordering queue
// uses them to apply payloads to the frame buffer in order even when
// completions race.
type Payload struct {
	Sequence uint64
	Data     []byte
	Packets  []PacketMeta
}
