package replay

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/capture"
)

func TestFrameIterator_YieldsFramesThenEOF(t *testing.T) {
	data := pattern(32)
	path := filepath.Join(t.TempDir(), "packets_1.bin")
	err := capture.WritePackets(path, [][]byte{
		uvcPacket(false, false, data[0:8]),
		data[8:16],
		data[16:24],
		data[24:32],
	})
	if err != nil {
		t.Fatal(err)
	}

	it, err := NewFrameIterator(path, Options{ExpectedFrameSize: 16})
	if err != nil {
		t.Fatalf("NewFrameIterator() = %v", err)
	}

	f, err := it.Next()
	if err != nil {
		t.Fatalf("Next() = %v", err)
	}
	if !bytes.Equal(f.Data, data[0:16]) {
		t.Error("frame 0 does not match the recorded stream")
	}
	f, err = it.Next()
	if err != nil {
		t.Fatalf("Next() = %v", err)
	}
	if !bytes.Equal(f.Data, data[16:32]) {
		t.Error("frame 1 does not match the recorded stream")
	}

	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() past end = %v, want io.EOF", err)
	}
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("repeated Next() past end = %v, want io.EOF", err)
	}
}

func TestFrameIterator_LoopWrapsAround(t *testing.T) {
	data := pattern(16)
	p := &Player{
		packets: []capture.TimedPacket{
			{Data: data[0:8]},
			{Data: data[8:16]},
		},
		opts: Options{Loop: true, Format: assemble.FormatYUY2, ExpectedFrameSize: 16},
	}
	it := p.Iterator()

	for i := 0; i < 3; i++ {
		f, err := it.Next()
		if err != nil {
			t.Fatalf("pass %d: Next() = %v", i, err)
		}
		if f.Number != uint64(i) {
			t.Errorf("pass %d: frame number = %d", i, f.Number)
		}
		if !bytes.Equal(f.Data, data) {
			t.Errorf("pass %d: frame does not match the recorded stream", i)
		}
	}
}

func TestFrameIterator_LoopWithoutFramesEnds(t *testing.T) {
	p := &Player{
		packets: []capture.TimedPacket{{Data: uvcPacket(false, false, pattern(4))}},
		opts:    Options{Loop: true},
	}
	it := p.Iterator()
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() = %v, want io.EOF when a pass yields nothing", err)
	}
}

func TestAllFrames(t *testing.T) {
	data := pattern(32)
	path := filepath.Join(t.TempDir(), "packets_1.bin")
	err := capture.WritePackets(path, [][]byte{
		uvcPacket(false, false, data[0:8]),
		data[8:16],
		data[16:24],
		data[24:32],
	})
	if err != nil {
		t.Fatal(err)
	}

	// Loop is ignored so the call terminates.
	frames, err := AllFrames(path, Options{ExpectedFrameSize: 16, Loop: true})
	if err != nil {
		t.Fatalf("AllFrames() = %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("AllFrames() returned %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0].Data, data[0:16]) || !bytes.Equal(frames[1].Data, data[16:32]) {
		t.Error("frames do not match the recorded stream")
	}
}

func TestAllFrames_EmptyCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packets_1.bin")
	if err := capture.WritePackets(path, nil); err != nil {
		t.Fatal(err)
	}
	frames, err := AllFrames(path, Options{})
	if err != nil {
		t.Fatalf("AllFrames() = %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("AllFrames() returned %d frames from an empty capture", len(frames))
	}
}
