package testpattern

import (
	"bytes"
	"testing"
)

func TestYUVBlack(t *testing.T) {
	y, u, v := Black.YUV()
	if y != 16 {
		t.Errorf("got Y %d, want 16", y)
	}
	if u != 128 {
		t.Errorf("got U %d, want 128", u)
	}
	if v != 128 {
		t.Errorf("got V %d, want 128", v)
	}
}

func TestYUVWhite(t *testing.T) {
	y, u, v := White.YUV()
	if y != 235 {
		t.Errorf("got Y %d, want 235", y)
	}
	// U and V should be neutral, allowing for rounding.
	if d := int(u) - 128; d < -1 || d > 1 {
		t.Errorf("got U %d, want ~128", u)
	}
	if d := int(v) - 128; d < -1 || d > 1 {
		t.Errorf("got V %d, want ~128", v)
	}
}

func TestHeaderMinimal(t *testing.T) {
	got := MinimalHeader(true, false).Bytes()
	if len(got) != 2 {
		t.Fatalf("got %d bytes, want 2", len(got))
	}
	if got[0] != 2 {
		t.Errorf("got length byte %d, want 2", got[0])
	}
	if got[1]&0x80 == 0 {
		t.Errorf("EOH bit not set in flags %#02x", got[1])
	}
	if got[1]&0x01 == 0 {
		t.Errorf("FID bit not set in flags %#02x", got[1])
	}
	if got[1]&0x02 != 0 {
		t.Errorf("EOF bit set in flags %#02x", got[1])
	}
}

func TestHeaderFull(t *testing.T) {
	got := FullHeader(false, true, 12345).Bytes()
	if len(got) != 12 {
		t.Fatalf("got %d bytes, want 12", len(got))
	}
	if got[0] != 12 {
		t.Errorf("got length byte %d, want 12", got[0])
	}
	if got[1]&0x01 != 0 {
		t.Errorf("FID bit set in flags %#02x", got[1])
	}
	if got[1]&0x02 == 0 {
		t.Errorf("EOF bit not set in flags %#02x", got[1])
	}
	if got[1]&0x04 == 0 || got[1]&0x08 == 0 {
		t.Errorf("PTS/SCR bits not set in flags %#02x", got[1])
	}
	// 0x39 0x30 0x00 0x00 = 12345 little-endian
	if got[2] != 0x39 || got[3] != 0x30 {
		t.Errorf("got PTS bytes % 02x, want 39 30 00 00", got[2:6])
	}
}

func TestSolidYUY2(t *testing.T) {
	frame := SolidYUY2(640, 480, Red)
	if len(frame) != 640*480*2 {
		t.Fatalf("got %d bytes, want %d", len(frame), 640*480*2)
	}

	y, u, v := Red.YUV()
	want := []byte{y, u, y, v}
	if !bytes.Equal(frame[:4], want) {
		t.Errorf("got first macropixel % 02x, want % 02x", frame[:4], want)
	}
}

func TestPacketizeSmallFrame(t *testing.T) {
	gen := NewGenerator(1024)
	packets := gen.SolidFrame(8, 8, Gray)

	// 8x8 YUY2 is 128 bytes, fits one packet.
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if packets[0][0] != 2 {
		t.Errorf("got header length %d, want 2", packets[0][0])
	}
	if packets[0][1]&0x82 != 0x82 {
		t.Errorf("got flags %#02x, want EOH and EOF set", packets[0][1])
	}
	if len(packets[0]) != 130 {
		t.Errorf("got packet length %d, want 130", len(packets[0]))
	}
}

func TestPacketizeLargeFrame(t *testing.T) {
	gen := NewGenerator(1024)
	packets := gen.SolidFrame(640, 480, Blue)

	// 614400 bytes at 1024 per packet.
	if len(packets) != 600 {
		t.Fatalf("got %d packets, want 600", len(packets))
	}
	if packets[0][1]&0x02 != 0 {
		t.Errorf("first packet has EOF set")
	}
	if packets[599][1]&0x02 == 0 {
		t.Errorf("last packet missing EOF")
	}
}

func TestFIDTogglesBetweenFrames(t *testing.T) {
	gen := NewGenerator(1024)

	fid1 := gen.SolidFrame(8, 8, Red)[0][1] & 0x01
	fid2 := gen.SolidFrame(8, 8, Green)[0][1] & 0x01
	fid3 := gen.SolidFrame(8, 8, Blue)[0][1] & 0x01

	if fid1 == fid2 {
		t.Errorf("FID did not toggle between frames: %d, %d", fid1, fid2)
	}
	if fid1 != fid3 {
		t.Errorf("FID did not return after two frames: %d, %d", fid1, fid3)
	}
}

func TestMJPEGFrameMarkers(t *testing.T) {
	gen := NewGenerator(1024)
	packets := gen.MJPEGFrame()

	var frame []byte
	for _, pkt := range packets {
		frame = append(frame, pkt[pkt[0]:]...)
	}

	if len(frame) < 4 {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	if frame[0] != 0xFF || frame[1] != 0xD8 {
		t.Errorf("got leading bytes % 02x, want ff d8", frame[:2])
	}
	if frame[len(frame)-2] != 0xFF || frame[len(frame)-1] != 0xD9 {
		t.Errorf("got trailing bytes % 02x, want ff d9", frame[len(frame)-2:])
	}
}

func TestColorBars(t *testing.T) {
	frame := ColorBarsYUY2(64, 8)
	if len(frame) != 64*8*2 {
		t.Fatalf("got %d bytes, want %d", len(frame), 64*8*2)
	}

	yWhite, _, _ := White.YUV()
	if frame[0] != yWhite {
		t.Errorf("got first bar Y %d, want white %d", frame[0], yWhite)
	}
	yBlack, _, _ := Black.YUV()
	last := 64*2 - 4 // first Y of the last macropixel in row 0
	if frame[last] != yBlack {
		t.Errorf("got last bar Y %d, want black %d", frame[last], yBlack)
	}
}

func TestVerticalGradient(t *testing.T) {
	width, height := 64, 64
	frame := VerticalGradientYUY2(width, height)

	top := frame[0]
	bottom := frame[(height-1)*width*2]
	if top >= 32 {
		t.Errorf("top row Y = %d, want dark", top)
	}
	if bottom <= 200 {
		t.Errorf("bottom row Y = %d, want light", bottom)
	}

	// every row is uniform
	for row := 0; row < height; row++ {
		start := row * width * 2
		want := frame[start]
		for x := 0; x < width/2; x++ {
			off := start + x*4
			if frame[off] != want || frame[off+2] != want {
				t.Fatalf("row %d not uniform at macropixel %d", row, x)
			}
		}
	}
}

func TestCrosshatch(t *testing.T) {
	width, height, spacing := 64, 64, 16
	frame := CrosshatchYUY2(width, height, spacing)

	yWhite, _, _ := White.YUV()
	yBlack, _, _ := Black.YUV()

	if frame[0] != yWhite {
		t.Errorf("row 0 should be a horizontal line, got Y %d", frame[0])
	}
	row1 := width * 2
	if frame[row1] != yWhite {
		t.Errorf("column 0 should be a vertical line, got Y %d", frame[row1])
	}
	if frame[row1+4] != yBlack {
		t.Errorf("interior pixel should be black, got Y %d", frame[row1+4])
	}
}
