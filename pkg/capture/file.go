package capture

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// legacyMaxPacketLen rejects records whose length field points into pixel
// data, which happens when a reader loses framing in a corrupt file.
const legacyMaxPacketLen = 1 << 20

// TimedPacket is one record of the legacy single-file format.
type TimedPacket struct {
	Timestamp time.Duration
	Endpoint  uint8
	Data      []byte
}

// WritePackets writes repeated [u32 LE length][data] records.
func WritePackets(path string, packets [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("capture: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	var lenBuf [4]byte
	for _, pkt := range packets {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(pkt)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			f.Close()
			return fmt.Errorf("capture: write %s: %w", path, err)
		}
		if _, err := w.Write(pkt); err != nil {
			f.Close()
			return fmt.Errorf("capture: write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("capture: write %s: %w", path, err)
	}
	return f.Close()
}

// ReadPackets reads a packets_<ts>.bin file. Trailing bytes too short to
// form a length prefix are ignored; a record whose data is cut off is an
// error.
func ReadPackets(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var packets [][]byte
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("capture: read %s: %w", path, err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		pkt := make([]byte, n)
		if _, err := io.ReadFull(r, pkt); err != nil {
			return nil, fmt.Errorf("capture: read %s: truncated %d byte packet: %w", path, n, err)
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// WriteLegacy writes the timestamped single-file format, repeated
// [u64 LE timestamp_µs][u32 LE length][u8 endpoint][data] records, plus a
// sibling capture_<ts>.json with the session metadata.
func WriteLegacy(dir string, packets []TimedPacket, meta Metadata) (*Result, error) {
	ts := time.Now().Unix()
	binPath := filepath.Join(dir, fmt.Sprintf("capture_%d.bin", ts))
	jsonPath := filepath.Join(dir, fmt.Sprintf("capture_%d.json", ts))

	f, err := os.Create(binPath)
	if err != nil {
		return nil, fmt.Errorf("capture: create %s: %w", binPath, err)
	}
	w := bufio.NewWriter(f)
	var hdr [13]byte
	var totalBytes uint64
	for _, pkt := range packets {
		binary.LittleEndian.PutUint64(hdr[:8], uint64(pkt.Timestamp.Microseconds()))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(pkt.Data)))
		hdr[12] = pkt.Endpoint
		if _, err := w.Write(hdr[:]); err != nil {
			f.Close()
			return nil, fmt.Errorf("capture: write %s: %w", binPath, err)
		}
		if _, err := w.Write(pkt.Data); err != nil {
			f.Close()
			return nil, fmt.Errorf("capture: write %s: %w", binPath, err)
		}
		totalBytes += uint64(len(pkt.Data))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: write %s: %w", binPath, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("capture: write %s: %w", binPath, err)
	}

	meta.TotalPackets = uint64(len(packets))
	meta.TotalBytes = totalBytes
	if err := WriteMetadata(jsonPath, meta); err != nil {
		return nil, err
	}

	return &Result{
		PacketsPath:  binPath,
		MetadataPath: jsonPath,
		Metadata:     meta,
	}, nil
}

// ReadLegacy reads a capture_<ts>.bin file. The stream ends cleanly at a
// record boundary; a record cut off mid-header or mid-data is an error,
// as is a length beyond the per-packet bound.
func ReadLegacy(path string) ([]TimedPacket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var packets []TimedPacket
	var offset int64
	var hdr [13]byte
	for {
		if _, err := io.ReadFull(r, hdr[:8]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("capture: read %s: %w", path, err)
		}
		tsMicros := binary.LittleEndian.Uint64(hdr[:8])

		if _, err := io.ReadFull(r, hdr[8:13]); err != nil {
			return nil, fmt.Errorf("capture: read %s: offset %d: truncated record header: %w", path, offset, err)
		}
		n := binary.LittleEndian.Uint32(hdr[8:12])
		if n > legacyMaxPacketLen {
			return nil, fmt.Errorf("capture: read %s: offset %d: packet length %d exceeds %d byte bound",
				path, offset, n, legacyMaxPacketLen)
		}

		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("capture: read %s: offset %d: truncated %d byte packet: %w", path, offset, n, err)
		}

		packets = append(packets, TimedPacket{
			Timestamp: time.Duration(tsMicros) * time.Microsecond,
			Endpoint:  hdr[12],
			Data:      data,
		})
		offset += 13 + int64(n)
	}
	return packets, nil
}

// WriteMetadata writes the session metadata as indented JSON.
func WriteMetadata(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("capture: encode metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("capture: write %s: %w", path, err)
	}
	return nil
}

// ReadMetadata reads a metadata JSON file.
func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("capture: read %s: %w", path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("capture: parse %s: %w", path, err)
	}
	return meta, nil
}

// FindMetadata locates the JSON file saved alongside a packet file: first
// the same name with a .json extension, then the capture_/packets_ to
// metadata_ filename convention. Unreadable metadata counts as absent.
func FindMetadata(binPath string) (Metadata, bool) {
	ext := filepath.Ext(binPath)
	if meta, err := ReadMetadata(strings.TrimSuffix(binPath, ext) + ".json"); err == nil {
		return meta, true
	}
	dir, name := filepath.Split(binPath)
	for _, prefix := range []string{"capture_", "packets_"} {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		alt := "metadata_" + strings.TrimPrefix(name, prefix)
		alt = strings.TrimSuffix(alt, filepath.Ext(alt)) + ".json"
		if meta, err := ReadMetadata(filepath.Join(dir, alt)); err == nil {
			return meta, true
		}
	}
	return Metadata{}, false
}
