package replay

import (
	"io"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/capture"
	"github.com/laurigates/CleanScope/pkg/transfers"
)

// FrameIterator steps through a capture one frame at a time, with no
// pacing.
type FrameIterator struct {
	packets    []capture.TimedPacket
	i          int
	ext        transfers.Extractor
	assembler  *assemble.Assembler
	pending    []*assemble.Frame
	loop       bool
	passFrames int
}

// Iterator returns a frame iterator over the player's packets.
func (p *Player) Iterator() *FrameIterator {
	return &FrameIterator{
		packets:   p.packets,
		assembler: assemble.New(p.assemblerConfig()),
		loop:      p.opts.Loop,
	}
}

// NewFrameIterator loads a capture and returns an iterator over its
// frames.
func NewFrameIterator(path string, opts Options) (*FrameIterator, error) {
	p, err := Load(path, opts)
	if err != nil {
		return nil, err
	}
	return p.Iterator(), nil
}

// Next returns the next assembled frame, or io.EOF when the capture is
// exhausted. With the loop option set, playback wraps around instead,
// unless a full pass produced no frames at all.
func (it *FrameIterator) Next() (*assemble.Frame, error) {
	for {
		if len(it.pending) > 0 {
			f := it.pending[0]
			it.pending = it.pending[1:]
			return f, nil
		}
		if it.i >= len(it.packets) {
			if !it.loop || it.passFrames == 0 {
				return nil, io.EOF
			}
			it.i = 0
			it.passFrames = 0
			it.assembler.Reset()
			continue
		}

		pkt := it.packets[it.i]
		it.i++
		payload := it.ext.Extract(completionFor(pkt), it.assembler.Raw())
		if payload == nil {
			continue
		}
		if frames := it.assembler.Apply(payload); len(frames) > 0 {
			it.passFrames += len(frames)
			it.pending = frames
		}
	}
}

// AllFrames replays a capture synchronously and returns every assembled
// frame. The loop option is ignored.
func AllFrames(path string, opts Options) ([]*assemble.Frame, error) {
	opts.Loop = false
	it, err := NewFrameIterator(path, opts)
	if err != nil {
		return nil, err
	}
	var frames []*assemble.Frame
	for {
		f, err := it.Next()
		if err == io.EOF {
			return frames, nil
		}
		frames = append(frames, f)
	}
}
