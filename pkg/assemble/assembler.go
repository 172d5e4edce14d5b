// Package assemble reconstructs complete video frames from ordered UVC
// payload bytes. The stream format is detected from the first accumulated
// bytes and cached: MJPEG frames close on the end-of-frame bit with the
// buffer bracketed by JPEG SOI/EOI markers, raw 4:2:2 frames close purely
// by byte count.
package assemble

import (
	"fmt"
	"log"
	"strings"

	"github.com/laurigates/CleanScope/pkg/transfers"
)

// maxFrameBuffer caps accumulation for streams whose frame boundary never
// arrives (a lost end-of-frame bit, or a raw stream with no usable frame
// size). Past this the buffer cannot be one frame and is discarded.
const maxFrameBuffer = 8 << 20

// Format tags the byte layout of an assembled frame.
type Format int

const (
	FormatUnknown Format = iota
	FormatMJPEG
	FormatYUY2
)

func (f Format) String() string {
	switch f {
	case FormatMJPEG:
		return "mjpeg"
	case FormatYUY2:
		return "yuy2"
	default:
		return "unknown"
	}
}

// ParseFormat maps a format name to its tag. Empty and "auto" select
// detection from the first stream bytes.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatUnknown, nil
	case "mjpeg", "jpeg":
		return FormatMJPEG, nil
	case "yuy2", "yuyv", "uyvy", "raw":
		return FormatYUY2, nil
	}
	return FormatUnknown, fmt.Errorf("assemble: unknown format %q", s)
}

// Frame is one completed video frame. Data ownership transfers to the
// receiver; the assembler keeps no reference to it.
type Frame struct {
	Data   []byte
	Format Format
	Width  int
	Height int
	Number uint64
}

// Config carries the negotiated stream parameters the assembler needs.
type Config struct {
	Width  int
	Height int

	// ExpectedFrameSize overrides the derived raw frame size
	// (width*height*2 for packed 4:2:2). Ignored for MJPEG.
	ExpectedFrameSize int

	// Format pins the stream format instead of detecting it from the
	// first bytes. Callers that negotiated a specific descriptor format
	// should pin it; detection exists for streams of unknown provenance.
	Format Format
}

// Stats counts assembly outcomes since stream start.
type Stats struct {
	Frames          uint64
	EOFBoundaries   uint64
	FIDBoundaries   uint64
	RecoveredStarts uint64
	DiscardedBytes  uint64
	ErrorPackets    uint64
}

// Assembler grows a frame buffer from ordered payloads and cuts it at
// format-specific boundaries. It is not safe for concurrent use; callers
// hold the same lock that serializes the rest of assembly.
type Assembler struct {
	buffer   []byte
	format   Format
	lastFID  bool
	haveFID  bool
	synced   bool
	expected int
	width    int
	height   int
	stats    Stats
}

func New(cfg Config) *Assembler {
	expected := cfg.ExpectedFrameSize
	if expected == 0 {
		expected = cfg.Width * cfg.Height * 2
	}
	a := &Assembler{
		format:   cfg.Format,
		expected: expected,
		width:    cfg.Width,
		height:   cfg.Height,
	}
	if a.format == FormatYUY2 {
		// Raw streams carry no start marker; alignment comes from
		// counting bytes from stream start.
		a.synced = true
	}
	return a
}

// DetectedFormat reports the cached stream format, FormatUnknown until the
// first two payload bytes have been seen.
func (a *Assembler) DetectedFormat() Format {
	return a.format
}

// Raw reports whether the stream is known to be uncompressed. The extractor
// uses this to stop parsing payload headers, which raw pixel data can
// accidentally satisfy.
func (a *Assembler) Raw() bool {
	return a.format == FormatYUY2
}

// Synced reports whether the buffer is currently aligned to a frame start.
func (a *Assembler) Synced() bool {
	return a.synced
}

// BufferLen reports how many bytes are accumulated toward the next frame.
func (a *Assembler) BufferLen() int {
	return len(a.buffer)
}

func (a *Assembler) Stats() Stats {
	return a.stats
}

// Reset clears the buffer and boundary state, keeping the detected format
// and frame counter.
func (a *Assembler) Reset() {
	a.buffer = nil
	a.haveFID = false
	a.synced = a.format == FormatYUY2
}

// Apply feeds one payload into the frame buffer and returns any frames it
// completed. Payloads must arrive in sequence order; the ordering queue
// guarantees that.
func (a *Assembler) Apply(p *transfers.Payload) []*Frame {
	var frames []*Frame
	for _, meta := range p.Packets {
		if meta.Error {
			a.stats.ErrorPackets++
			if a.format == FormatMJPEG {
				// The rest of this frame cannot be trusted.
				a.discard("packet error")
			}
			continue
		}

		if a.format == FormatMJPEG {
			if f := a.fidToggle(meta.FrameID); f != nil {
				frames = append(frames, f)
			}
		}

		a.buffer = append(a.buffer, p.Data[meta.Offset:meta.Offset+meta.Length]...)

		if a.format == FormatUnknown && len(a.buffer) >= 2 {
			a.detectFormat()
		}
		if len(a.buffer) > maxFrameBuffer {
			a.discard("buffer overrun")
			continue
		}

		switch a.format {
		case FormatYUY2:
			for a.expected > 0 && len(a.buffer) >= a.expected {
				frames = append(frames, a.drainRaw())
			}
		case FormatMJPEG:
			if meta.EndOfFrame && len(a.buffer) > 0 {
				if f := a.finishMJPEG(); f != nil {
					a.stats.EOFBoundaries++
					frames = append(frames, f)
				}
			}
		}
	}
	return frames
}

func (a *Assembler) detectFormat() {
	if hasSOI(a.buffer) {
		a.format = FormatMJPEG
		a.synced = true
		log.Printf("assemble: detected MJPEG stream")
	} else {
		a.format = FormatYUY2
		a.synced = true
		log.Printf("assemble: detected raw 4:2:2 stream, frame size %d", a.expected)
	}
}

// fidToggle closes the previous frame when the frame-id bit flips without
// the end-of-frame bit having fired. Cheap cameras delay the toggle by a
// frame, so it only confirms a boundary the markers agree on; it is never
// the sole trigger.
func (a *Assembler) fidToggle(fid bool) *Frame {
	defer func() {
		a.haveFID = true
		a.lastFID = fid
	}()
	if !a.haveFID || fid == a.lastFID {
		return nil
	}
	if len(a.buffer) == 0 {
		a.synced = true
		return nil
	}
	if hasSOI(a.buffer) && hasEOI(a.buffer) {
		data := a.buffer
		a.buffer = nil
		a.synced = true
		a.stats.FIDBoundaries++
		log.Printf("assemble: complete MJPEG frame, %d bytes (frame id toggle)", len(data))
		return a.emit(data)
	}
	a.discard("frame id toggled mid-frame")
	a.synced = true
	return nil
}

// finishMJPEG cuts the buffer at an end-of-frame bit. The buffer must be a
// complete JPEG; a start marker buried in the first bytes recovers streams
// joined mid-frame. Either way the buffer is empty afterwards, so the next
// packet starts a fresh frame.
func (a *Assembler) finishMJPEG() *Frame {
	j := 0
	if !hasSOI(a.buffer) {
		j = scanSOI(a.buffer)
		if j < 0 {
			a.discard("no start marker at end of frame")
			return nil
		}
		a.stats.RecoveredStarts++
		log.Printf("assemble: found JPEG start at offset %d in %d byte frame", j, len(a.buffer))
	}
	if !hasEOI(a.buffer) {
		a.discard("no end marker at end of frame")
		return nil
	}
	data := a.buffer[j:]
	a.buffer = nil
	a.synced = true
	return a.emit(data)
}

// drainRaw removes exactly one expected frame from the front of the buffer.
// Overflow bytes belong to the next frame and are preserved byte for byte;
// clearing them would shear every following row.
func (a *Assembler) drainRaw() *Frame {
	data := a.buffer[:a.expected:a.expected]
	rest := a.buffer[a.expected:]
	a.buffer = append([]byte(nil), rest...)
	return a.emit(data)
}

func (a *Assembler) emit(data []byte) *Frame {
	f := &Frame{
		Data:   data,
		Format: a.format,
		Width:  a.width,
		Height: a.height,
		Number: a.stats.Frames,
	}
	a.stats.Frames++
	return f
}

func (a *Assembler) discard(reason string) {
	if n := len(a.buffer); n > 0 {
		a.stats.DiscardedBytes += uint64(n)
		log.Printf("assemble: dropped %d buffered bytes (%s)", n, reason)
	}
	a.buffer = a.buffer[:0]
	a.synced = false
}

func hasSOI(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8
}

func hasEOI(data []byte) bool {
	n := len(data)
	return n >= 2 && data[n-2] == 0xFF && data[n-1] == 0xD9
}

// scanSOI looks for a JPEG start marker within the first bytes of the
// buffer, returning its offset or -1. The search window is small; a marker
// deeper than this is scan data, not a frame start.
func scanSOI(data []byte) int {
	limit := len(data) - 1
	if limit > 100 {
		limit = 100
	}
	for j := 1; j < limit; j++ {
		if data[j] == 0xFF && data[j+1] == 0xD8 {
			return j
		}
	}
	return -1
}
