package decode

import (
	"fmt"
	"image"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/formats"
)

// UncompressedDecoder deinterleaves packed 4:2:2 frames into image.YCbCr.
// YUY2 packs pixel pairs as [Y0 Cb Y1 Cr], UYVY as [Cb Y0 Cr Y1].
type UncompressedDecoder struct {
	images        []image.Image
	fourcc        string
	width, height int
}

func NewUncompressedDecoder(fourcc string, width, height int) (*UncompressedDecoder, error) {
	if !formats.Packed422(fourcc) {
		return nil, fmt.Errorf("decode: no uncompressed decoder for FourCC %q", fourcc)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("decode: invalid dimensions %dx%d", width, height)
	}
	if width%2 != 0 {
		return nil, fmt.Errorf("decode: packed 4:2:2 width %d must be even", width)
	}
	return &UncompressedDecoder{fourcc: fourcc, width: width, height: height}, nil
}

func (d *UncompressedDecoder) ReadFrame() (image.Image, error) {
	if len(d.images) == 0 {
		return nil, ErrNeedMoreData
	}
	img := d.images[0]
	d.images = d.images[1:]
	return img, nil
}

func (d *UncompressedDecoder) Write(buf []byte) (int, error) {
	need := d.width * d.height * 2
	if len(buf) < need {
		return 0, fmt.Errorf("decode: %s frame is %d bytes, %dx%d needs %d",
			d.fourcc, len(buf), d.width, d.height, need)
	}
	img := image.NewYCbCr(image.Rect(0, 0, d.width, d.height), image.YCbCrSubsampleRatio422)
	for row := 0; row < d.height; row++ {
		src := buf[row*d.width*2 : (row+1)*d.width*2]
		yi := row * img.YStride
		ci := row * img.CStride
		if d.fourcc == "YUY2" {
			for x := 0; x < d.width/2; x++ {
				img.Y[yi+2*x] = src[4*x]
				img.Cb[ci+x] = src[4*x+1]
				img.Y[yi+2*x+1] = src[4*x+2]
				img.Cr[ci+x] = src[4*x+3]
			}
		} else {
			for x := 0; x < d.width/2; x++ {
				img.Cb[ci+x] = src[4*x]
				img.Y[yi+2*x] = src[4*x+1]
				img.Cr[ci+x] = src[4*x+2]
				img.Y[yi+2*x+1] = src[4*x+3]
			}
		}
	}
	d.images = append(d.images, img)
	return need, nil
}

func (d *UncompressedDecoder) WriteFrame(f *assemble.Frame) error {
	_, err := d.Write(f.Data)
	return err
}

func (d *UncompressedDecoder) Close() error {
	return nil
}
