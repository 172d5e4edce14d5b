package transfers

import "sync/atomic"

// Extractor walks the packets of completed transfers and produces
// sequence-tagged payloads for the ordering queue.
type Extractor struct {
	next atomic.Uint64

	packetErrors atomic.Uint64
	emptyPackets atomic.Uint64
	zeroFilled   atomic.Uint64
	headerless   atomic.Uint64
}

// ExtractorStats is a snapshot of the extractor's packet counters.
type ExtractorStats struct {
	PacketErrors uint64
	EmptyPackets uint64
	ZeroFilled   uint64
	Headerless   uint64
}

func (e *Extractor) Stats() ExtractorStats {
	return ExtractorStats{
		PacketErrors: e.packetErrors.Load(),
		EmptyPackets: e.emptyPackets.Load(),
		ZeroFilled:   e.zeroFilled.Load(),
		Headerless:   e.headerless.Load(),
	}
}

// NextSequence returns the sequence number the next extracted payload will
// receive.
func (e *Extractor) NextSequence() uint64 {
	return e.next.Load()
}

// Extract processes one completed transfer. Bytes are copied out of the
// transfer buffers, so the completion may be resubmitted as soon as Extract
// returns. If raw is true the stream format is already known to be
// uncompressed and header parsing is skipped entirely: every byte is payload.
// Returns nil, without consuming a sequence number, when the transfer
// contributed nothing.
//
// Heuristic: a payload longer than 8 bytes whose first 8 bytes are all zero
// is discarded as filler. Cheap cameras emit stray zero-filled packets that
// would otherwise shear row alignment; the cost is that genuine all-black
// payload starts are dropped too.
func (e *Extractor) Extract(c *Completion, raw bool) *Payload {
	p := &Payload{}
	for _, pkt := range c.Packets {
		if pkt.Status != 0 {
			e.packetErrors.Add(1)
			p.Packets = append(p.Packets, PacketMeta{Error: true, Offset: len(p.Data)})
			continue
		}
		if pkt.Length == 0 || len(pkt.Data) == 0 {
			e.emptyPackets.Add(1)
			continue
		}

		data := pkt.Data
		if pkt.Length < len(data) {
			data = data[:pkt.Length]
		}

		var meta PacketMeta
		haveMeta := false
		if !raw {
			if h, n, ok := ParseHeader(data); ok {
				meta.FrameID = h.FrameID()
				meta.EndOfFrame = h.EndOfFrame()
				meta.Error = h.Error()
				haveMeta = true
				data = data[n:]
			} else {
				e.headerless.Add(1)
			}
		}

		if zeroFilled(data) {
			e.zeroFilled.Add(1)
			continue
		}

		if len(data) == 0 && !haveMeta {
			continue
		}
		meta.Offset = len(p.Data)
		meta.Length = len(data)
		p.Data = append(p.Data, data...)
		p.Packets = append(p.Packets, meta)
	}

	if len(p.Data) == 0 && len(p.Packets) == 0 {
		return nil
	}
	p.Sequence = e.next.Add(1) - 1
	return p
}

func zeroFilled(data []byte) bool {
	if len(data) <= 8 {
		return false
	}
	for _, b := range data[:8] {
		if b != 0 {
			return false
		}
	}
	return true
}
