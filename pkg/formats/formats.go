// Package formats maps the GUIDs carried by UVC uncompressed format
// descriptors to their FourCC names, for capture metadata and diagnostics.
package formats

import "github.com/google/uuid"

type CompressionFormat [16]byte

var (
	CompressionFormatYUY2 = CompressionFormat(uuid.MustParse("32595559-0000-0010-8000-00AA00389B71"))
	CompressionFormatUYVY = CompressionFormat(uuid.MustParse("59565955-0000-0010-8000-00AA00389B71"))
	CompressionFormatNV12 = CompressionFormat(uuid.MustParse("3231564E-0000-0010-8000-00AA00389B71"))
	CompressionFormatM420 = CompressionFormat(uuid.MustParse("3032344D-0000-0010-8000-00AA00389B71"))
	CompressionFormatI420 = CompressionFormat(uuid.MustParse("30323449-0000-0010-8000-00AA00389B71"))
)

var fourccs = map[CompressionFormat]string{
	CompressionFormatYUY2: "YUY2",
	CompressionFormatUYVY: "UYVY",
	CompressionFormatNV12: "NV12",
	CompressionFormatM420: "M420",
	CompressionFormatI420: "I420",
}

// FourCC returns the FourCC name for a known format GUID, or "" if the GUID
// is not in the registry.
func (f CompressionFormat) FourCC() string {
	return fourccs[f]
}

func (f CompressionFormat) String() string {
	if cc := f.FourCC(); cc != "" {
		return cc
	}
	return uuid.UUID(f).String()
}

func (f CompressionFormat) GUID() string {
	return uuid.UUID(f).String()
}

// ByFourCC looks up a format GUID by its FourCC name.
func ByFourCC(cc string) (CompressionFormat, bool) {
	for f, name := range fourccs {
		if name == cc {
			return f, true
		}
	}
	return CompressionFormat{}, false
}

// Packed422 reports whether the FourCC names a packed 4:2:2 layout the
// assembler can delimit by size (two bytes per pixel).
func Packed422(cc string) bool {
	return cc == "YUY2" || cc == "UYVY"
}
