// Package decode converts assembled frames into image.Image values for
// display and analysis.
package decode

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/laurigates/CleanScope/pkg/assemble"
)

// ErrNeedMoreData is returned by ReadFrame when no decoded image is
// buffered yet.
var ErrNeedMoreData = errors.New("decode: need more data")

// VideoDecoder decodes a stream of assembled frames. Write accepts one
// complete frame's bytes; ReadFrame returns buffered images until
// ErrNeedMoreData.
type VideoDecoder interface {
	ReadFrame() (image.Image, error)
	Write(buf []byte) (int, error)
	WriteFrame(f *assemble.Frame) error
	Close() error
}

// NewFormatDecoder returns a decoder for an assembled stream format.
func NewFormatDecoder(format assemble.Format, width, height int) (VideoDecoder, error) {
	switch format {
	case assemble.FormatMJPEG:
		return NewMJPEGDecoder(), nil
	case assemble.FormatYUY2:
		return NewUncompressedDecoder("YUY2", width, height)
	}
	return nil, fmt.Errorf("decode: no decoder for format %v", format)
}

// StreamDecoder pulls assembled frames from a channel and decodes them on
// demand.
type StreamDecoder struct {
	frames <-chan *assemble.Frame
	dec    VideoDecoder
}

func NewStreamDecoder(frames <-chan *assemble.Frame, format assemble.Format, width, height int) (*StreamDecoder, error) {
	dec, err := NewFormatDecoder(format, width, height)
	if err != nil {
		return nil, err
	}
	return &StreamDecoder{frames: frames, dec: dec}, nil
}

// ReadFrame blocks until a frame decodes or the channel closes, which
// surfaces as io.EOF. A decode failure consumes the bad frame, so callers
// can log it and keep reading.
func (d *StreamDecoder) ReadFrame() (image.Image, error) {
	for {
		img, err := d.dec.ReadFrame()
		if err == nil {
			return img, nil
		}
		if !errors.Is(err, ErrNeedMoreData) {
			return nil, err
		}
		f, ok := <-d.frames
		if !ok {
			return nil, io.EOF
		}
		if err := d.dec.WriteFrame(f); err != nil {
			return nil, err
		}
	}
}

func (d *StreamDecoder) Close() error {
	return d.dec.Close()
}
