package decode

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/laurigates/CleanScope/pkg/assemble"
)

// MJPEGDecoder decodes motion JPEG frames with the standard library's
// baseline decoder.
type MJPEGDecoder struct {
	imagesBuf []image.Image
}

func NewMJPEGDecoder() *MJPEGDecoder {
	return &MJPEGDecoder{}
}

func (d *MJPEGDecoder) Write(buf []byte) (int, error) {
	img, err := jpeg.Decode(bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	d.imagesBuf = append(d.imagesBuf, img)
	return len(buf), nil
}

func (d *MJPEGDecoder) WriteFrame(f *assemble.Frame) error {
	_, err := d.Write(f.Data)
	return err
}

func (d *MJPEGDecoder) ReadFrame() (image.Image, error) {
	if len(d.imagesBuf) == 0 {
		return nil, ErrNeedMoreData
	}
	img := d.imagesBuf[0]
	d.imagesBuf = d.imagesBuf[1:]
	return img, nil
}

func (d *MJPEGDecoder) Close() error {
	return nil
}
