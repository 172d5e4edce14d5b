// Package capture records raw isochronous packet streams to disk for
// offline analysis and replay. Packets are stored exactly as the device
// sent them, payload headers included, so a replayed stream goes through
// the same extraction path as a live one.
package capture

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotActive is returned when stopping a recorder that is not
	// capturing.
	ErrNotActive = errors.New("capture: not active")

	// ErrAlreadyActive is returned when starting a recorder that is
	// already capturing.
	ErrAlreadyActive = errors.New("capture: already active")
)

// Metadata describes a capture session. The JSON field names are part of
// the on-disk format; recordings made by older tooling parse with the
// supplemental fields left zero.
type Metadata struct {
	VendorID      uint16 `json:"vendor_id"`
	ProductID     uint16 `json:"product_id"`
	FormatType    string `json:"format_type"`
	FormatGUID    string `json:"format_guid,omitempty"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Endpoint      uint8  `json:"endpoint,omitempty"`
	MaxPacketSize int    `json:"max_packet_size,omitempty"`
	TotalPackets  uint64 `json:"total_packets"`
	TotalFrames   uint64 `json:"total_frames"`
	DurationMS    uint64 `json:"duration_ms"`
	TotalBytes    uint64 `json:"total_bytes"`
	CapturedAt    string `json:"captured_at,omitempty"`
	Description   string `json:"description"`
}

// Result reports where a stopped capture was saved.
type Result struct {
	PacketsPath  string
	MetadataPath string
	Metadata     Metadata
}

// Status is a point-in-time view of a running capture.
type Status struct {
	Capturing bool
	Packets   uint64
	Bytes     uint64
	Duration  time.Duration
}

// Recorder buffers packets in memory during a capture session and writes
// them out when the session stops. The counters are atomic so the USB
// event goroutine records without contending with status polls.
type Recorder struct {
	capturing   atomic.Bool
	packetCount atomic.Uint64
	byteCount   atomic.Uint64

	mu      sync.Mutex
	packets [][]byte
	started time.Time
	meta    Metadata
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Capturing reports whether a session is active.
func (r *Recorder) Capturing() bool {
	return r.capturing.Load()
}

// PacketCount returns the number of packets recorded so far.
func (r *Recorder) PacketCount() uint64 {
	return r.packetCount.Load()
}

// ByteCount returns the number of bytes recorded so far.
func (r *Recorder) ByteCount() uint64 {
	return r.byteCount.Load()
}

// Start begins a new session, discarding anything left from the previous
// one.
func (r *Recorder) Start(meta Metadata) error {
	if !r.capturing.CompareAndSwap(false, true) {
		return ErrAlreadyActive
	}
	r.mu.Lock()
	r.packets = nil
	r.started = time.Now()
	r.meta = meta
	r.mu.Unlock()
	r.packetCount.Store(0)
	r.byteCount.Store(0)
	log.Printf("capture: started")
	return nil
}

// RecordPacket stores a copy of one packet. Outside an active session it
// returns immediately, so the hook can stay installed across captures.
func (r *Recorder) RecordPacket(data []byte) {
	if !r.capturing.Load() {
		return
	}
	r.packetCount.Add(1)
	r.byteCount.Add(uint64(len(data)))

	// The caller's buffer belongs to an in-flight transfer and is reused
	// after resubmission.
	buf := make([]byte, len(data))
	copy(buf, data)

	r.mu.Lock()
	r.packets = append(r.packets, buf)
	r.mu.Unlock()
}

// RecordFrame bumps the completed-frame counter in the session metadata.
func (r *Recorder) RecordFrame() {
	if !r.capturing.Load() {
		return
	}
	r.mu.Lock()
	r.meta.TotalFrames++
	r.mu.Unlock()
}

// Status reports the running session counters.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	var d time.Duration
	if !started.IsZero() {
		d = time.Since(started)
	}
	return Status{
		Capturing: r.capturing.Load(),
		Packets:   r.packetCount.Load(),
		Bytes:     r.byteCount.Load(),
		Duration:  d,
	}
}

// Stop ends the session and writes packets_<ts>.bin plus
// metadata_<ts>.json into outputDir.
func (r *Recorder) Stop(outputDir string) (*Result, error) {
	if !r.capturing.CompareAndSwap(true, false) {
		return nil, ErrNotActive
	}
	if _, err := os.Stat(outputDir); err != nil {
		return nil, fmt.Errorf("capture: output directory: %w", err)
	}

	r.mu.Lock()
	packets := r.packets
	r.packets = nil
	meta := r.meta
	started := r.started
	r.mu.Unlock()

	if !started.IsZero() {
		meta.DurationMS = uint64(time.Since(started).Milliseconds())
	}
	meta.TotalPackets = r.packetCount.Load()
	meta.TotalBytes = r.byteCount.Load()
	meta.CapturedAt = started.UTC().Format(time.RFC3339)

	ts := time.Now().Unix()
	packetsPath := filepath.Join(outputDir, fmt.Sprintf("packets_%d.bin", ts))
	if err := WritePackets(packetsPath, packets); err != nil {
		return nil, err
	}
	metadataPath := filepath.Join(outputDir, fmt.Sprintf("metadata_%d.json", ts))
	if err := WriteMetadata(metadataPath, meta); err != nil {
		return nil, err
	}

	log.Printf("capture: stopped after %dms, %d packets, %d bytes",
		meta.DurationMS, meta.TotalPackets, meta.TotalBytes)

	return &Result{
		PacketsPath:  packetsPath,
		MetadataPath: metadataPath,
		Metadata:     meta,
	}, nil
}

// StopBuffered ends the session and hands back the packets instead of
// writing files. Per-packet arrival times are not tracked, so timestamps
// are spread evenly across the session duration.
func (r *Recorder) StopBuffered() []TimedPacket {
	r.capturing.Store(false)

	r.mu.Lock()
	packets := r.packets
	r.packets = nil
	started := r.started
	r.mu.Unlock()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}

	out := make([]TimedPacket, len(packets))
	for i, data := range packets {
		var ts time.Duration
		if len(packets) > 1 {
			ts = elapsed * time.Duration(i) / time.Duration(len(packets)-1)
		}
		out[i] = TimedPacket{Timestamp: ts, Data: data}
	}
	log.Printf("capture: stopped, %d packets buffered", len(out))
	return out
}

// Cancel abandons the session without saving.
func (r *Recorder) Cancel() {
	r.capturing.Store(false)
	r.mu.Lock()
	r.packets = nil
	r.mu.Unlock()
	log.Printf("capture: cancelled")
}
