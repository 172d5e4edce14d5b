// Package testpattern generates synthetic UVC packet streams with known
// pixel content, so the assembly pipeline can be exercised without hardware.
package testpattern

import (
	"encoding/binary"
	"math"
)

// DefaultMaxPayload is a common isochronous packet payload size for USB 2.0
// high-speed endpoints.
const DefaultMaxPayload = 3072

// RGB is a color used to build test frames.
type RGB struct {
	R, G, B uint8
}

var (
	Red     = RGB{255, 0, 0}
	Green   = RGB{0, 255, 0}
	Blue    = RGB{0, 0, 255}
	White   = RGB{255, 255, 255}
	Black   = RGB{0, 0, 0}
	Gray    = RGB{128, 128, 128}
	Yellow  = RGB{255, 255, 0}
	Cyan    = RGB{0, 255, 255}
	Magenta = RGB{255, 0, 255}
)

// YUV converts the color to BT.601 limited-range Y, U, V.
func (c RGB) YUV() (y, u, v uint8) {
	r := float64(c.R)
	g := float64(c.G)
	b := float64(c.B)

	y = clampU8(16.0+65.481*r/255.0+128.553*g/255.0+24.966*b/255.0, 16, 235)
	u = clampU8(128.0-37.797*r/255.0-74.203*g/255.0+112.0*b/255.0, 16, 240)
	v = clampU8(128.0+112.0*r/255.0-93.786*g/255.0-18.214*b/255.0, 16, 240)
	return y, u, v
}

func clampU8(f, lo, hi float64) uint8 {
	f = math.Round(f)
	if f < lo {
		f = lo
	}
	if f > hi {
		f = hi
	}
	return uint8(f)
}

// Header describes a UVC payload header to prepend to a synthetic packet.
type Header struct {
	Length byte
	FID    bool
	EOF    bool
	HasPTS bool
	PTS    uint32
	HasSCR bool
	SCR    [6]byte
}

// MinimalHeader returns the 2-byte header form.
func MinimalHeader(fid, eof bool) Header {
	return Header{Length: 2, FID: fid, EOF: eof}
}

// FullHeader returns the 12-byte form carrying a PTS and a zero SCR.
func FullHeader(fid, eof bool, pts uint32) Header {
	return Header{Length: 12, FID: fid, EOF: eof, HasPTS: true, PTS: pts, HasSCR: true}
}

// Bytes serializes the header. Byte 0 is the declared length, byte 1 the
// flag byte with EOH always set.
func (h Header) Bytes() []byte {
	buf := make([]byte, 0, h.Length)
	buf = append(buf, h.Length)

	flags := byte(0x80) // EOH
	if h.FID {
		flags |= 0x01
	}
	if h.EOF {
		flags |= 0x02
	}
	if h.HasPTS {
		flags |= 0x04
	}
	if h.HasSCR {
		flags |= 0x08
	}
	buf = append(buf, flags)

	if h.HasPTS {
		buf = binary.LittleEndian.AppendUint32(buf, h.PTS)
	}
	if h.HasSCR {
		buf = append(buf, h.SCR[:]...)
	}
	return buf
}

// Generator packetizes synthetic frames, toggling the FID bit per frame the
// way a conformant camera would.
type Generator struct {
	MaxPayload int
	fid        bool
}

// NewGenerator returns a generator with the given max payload size per
// packet. Zero selects DefaultMaxPayload.
func NewGenerator(maxPayload int) *Generator {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Generator{MaxPayload: maxPayload}
}

// SolidYUY2 returns raw YUY2 frame bytes of a single color.
func SolidYUY2(width, height int, c RGB) []byte {
	y, u, v := c.YUV()
	frame := make([]byte, 0, width*height*2)
	for row := 0; row < height; row++ {
		for x := 0; x < width/2; x++ {
			frame = append(frame, y, u, y, v)
		}
	}
	return frame
}

// GradientYUY2 returns a horizontal black-to-white gradient, useful for
// spotting column misalignment.
func GradientYUY2(width, height int) []byte {
	frame := make([]byte, 0, width*height*2)
	for row := 0; row < height; row++ {
		for x := 0; x < width/2; x++ {
			intensity := uint8(float64(x)/float64(width/2)*219.0 + 16.0)
			frame = append(frame, intensity, 128, intensity, 128)
		}
	}
	return frame
}

// VerticalGradientYUY2 returns a top-to-bottom gradient, useful for spotting
// row and stride misalignment.
func VerticalGradientYUY2(width, height int) []byte {
	frame := make([]byte, 0, width*height*2)
	for row := 0; row < height; row++ {
		intensity := uint8(float64(row)/float64(height)*219.0 + 16.0)
		for x := 0; x < width/2; x++ {
			frame = append(frame, intensity, 128, intensity, 128)
		}
	}
	return frame
}

// CheckerboardYUY2 returns alternating 8x8 black and white blocks, useful for
// spotting interlacing and frame boundary errors.
func CheckerboardYUY2(width, height int) []byte {
	const blockSize = 8
	yw, uw, vw := White.YUV()
	yb, ub, vb := Black.YUV()

	frame := make([]byte, 0, width*height*2)
	for row := 0; row < height; row++ {
		for x := 0; x < width/2; x++ {
			blockX := (x * 2) / blockSize
			blockY := row / blockSize
			if (blockX+blockY)%2 == 0 {
				frame = append(frame, yw, uw, yw, vw)
			} else {
				frame = append(frame, yb, ub, yb, vb)
			}
		}
	}
	return frame
}

// ColorBarsYUY2 returns eight SMPTE-style vertical bars: white, yellow, cyan,
// green, magenta, red, blue, black.
func ColorBarsYUY2(width, height int) []byte {
	colors := []RGB{White, Yellow, Cyan, Green, Magenta, Red, Blue, Black}
	type yuv struct{ y, u, v uint8 }
	bars := make([]yuv, len(colors))
	for i, c := range colors {
		y, u, v := c.YUV()
		bars[i] = yuv{y, u, v}
	}
	barWidth := width / len(colors)

	frame := make([]byte, 0, width*height*2)
	for row := 0; row < height; row++ {
		for x := 0; x < width/2; x++ {
			idx := (x * 2) / barWidth
			if idx >= len(bars) {
				idx = len(bars) - 1
			}
			b := bars[idx]
			frame = append(frame, b.y, b.u, b.y, b.v)
		}
	}
	return frame
}

// CrosshatchYUY2 returns a white grid on black with the given line spacing.
// Stride misalignment shows up as diagonal or jagged lines.
func CrosshatchYUY2(width, height, spacing int) []byte {
	yw, uw, vw := White.YUV()
	yb, ub, vb := Black.YUV()

	frame := make([]byte, 0, width*height*2)
	for row := 0; row < height; row++ {
		horizontal := row%spacing == 0
		for x := 0; x < width/2; x++ {
			if horizontal || (x*2)%spacing == 0 {
				frame = append(frame, yw, uw, yw, vw)
			} else {
				frame = append(frame, yb, ub, yb, vb)
			}
		}
	}
	return frame
}

// MinimalJPEG returns a small but marker-complete JPEG (SOI through EOI) for
// exercising the MJPEG paths. The scan data does not encode the color
// faithfully; only the structure matters for assembly tests.
func MinimalJPEG() []byte {
	jpeg := []byte{
		0xFF, 0xD8, // SOI
		0xFF, 0xE0, 0x00, 0x10, // APP0
		0x4A, 0x46, 0x49, 0x46, 0x00, // "JFIF\0"
		0x01, 0x01, // version
		0x00,       // aspect ratio units
		0x00, 0x01, // X density
		0x00, 0x01, // Y density
		0x00, 0x00, // thumbnail size
	}

	// quantization table
	jpeg = append(jpeg, 0xFF, 0xDB, 0x00, 0x43, 0x00)
	for i := 0; i < 64; i++ {
		jpeg = append(jpeg, 16)
	}

	// SOF0, 8x8, YCbCr
	jpeg = append(jpeg,
		0xFF, 0xC0, 0x00, 0x11,
		0x08,       // precision
		0x00, 0x08, // height
		0x00, 0x08, // width
		0x03,             // components
		0x01, 0x11, 0x00, // Y
		0x02, 0x11, 0x00, // Cb
		0x03, 0x11, 0x00, // Cr
	)

	// DC huffman table
	jpeg = append(jpeg,
		0xFF, 0xC4, 0x00, 0x1F, 0x00,
		0x00, 0x01, 0x05, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B,
	)

	// AC huffman table, two codes of length one
	jpeg = append(jpeg, 0xFF, 0xC4, 0x00, 0xB5, 0x10)
	counts := make([]byte, 16)
	counts[0] = 0x02
	jpeg = append(jpeg, counts...)
	jpeg = append(jpeg, 0x01, 0x02)

	// SOS
	jpeg = append(jpeg,
		0xFF, 0xDA, 0x00, 0x0C,
		0x03,
		0x01, 0x00,
		0x02, 0x00,
		0x03, 0x00,
		0x00, 0x3F, 0x00,
	)

	jpeg = append(jpeg, 0x7F, 0xFF) // scan data
	jpeg = append(jpeg, 0xFF, 0xD9) // EOI
	return jpeg
}

// Packetize splits frame bytes into UVC packets with minimal 2-byte headers,
// toggling the FID bit for the new frame and setting EOF on the last packet.
func (g *Generator) Packetize(frame []byte) [][]byte {
	g.fid = !g.fid

	var packets [][]byte
	for offset := 0; offset < len(frame); {
		n := len(frame) - offset
		if n > g.MaxPayload {
			n = g.MaxPayload
		}
		last := offset+n >= len(frame)

		pkt := MinimalHeader(g.fid, last).Bytes()
		pkt = append(pkt, frame[offset:offset+n]...)
		packets = append(packets, pkt)
		offset += n
	}
	return packets
}

// SolidFrame packetizes one solid-color YUY2 frame.
func (g *Generator) SolidFrame(width, height int, c RGB) [][]byte {
	return g.Packetize(SolidYUY2(width, height, c))
}

// GradientFrame packetizes one horizontal-gradient YUY2 frame.
func (g *Generator) GradientFrame(width, height int) [][]byte {
	return g.Packetize(GradientYUY2(width, height))
}

// CheckerboardFrame packetizes one checkerboard YUY2 frame.
func (g *Generator) CheckerboardFrame(width, height int) [][]byte {
	return g.Packetize(CheckerboardYUY2(width, height))
}

// ColorBarsFrame packetizes one color-bar YUY2 frame.
func (g *Generator) ColorBarsFrame(width, height int) [][]byte {
	return g.Packetize(ColorBarsYUY2(width, height))
}

// MJPEGFrame packetizes one minimal JPEG frame.
func (g *Generator) MJPEGFrame() [][]byte {
	return g.Packetize(MinimalJPEG())
}
