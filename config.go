package cleanscope

import (
	"errors"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/sink"
	"github.com/laurigates/CleanScope/pkg/transfers"
	"github.com/laurigates/CleanScope/pkg/validate"
)

// PacketRecorder observes every successfully received isochronous packet
// before extraction, raw bytes with payload headers intact, so a recorded
// stream replays exactly as the device sent it. Implementations must not
// block; they run on the USB event thread.
type PacketRecorder interface {
	RecordPacket(data []byte)
}

// Config carries the stream parameters negotiated by the device-setup
// layer. The engine does no descriptor parsing or format negotiation of
// its own.
type Config struct {
	// Endpoint is the isochronous IN endpoint address of the streaming
	// alternate setting.
	Endpoint uint8

	// Width and Height are the negotiated frame dimensions, required for
	// raw streams.
	Width  int
	Height int

	// Format pins the stream format. FormatUnknown detects it from the
	// first payload bytes; callers that negotiated a concrete descriptor
	// format should pin it instead.
	Format assemble.Format

	// ExpectedFrameSize overrides the raw frame byte size derived from
	// Width and Height (width*height*2 for packed 4:2:2).
	ExpectedFrameSize int

	// MaxPacketSize is the endpoint's per-packet byte capacity from the
	// negotiated alternate setting. Required.
	MaxPacketSize int

	// Transfers and PacketsPerTransfer shape the transfer pool. Zero
	// selects 4 transfers of 32 packets.
	Transfers          int
	PacketsPerTransfer int

	// SinkCapacity bounds the outgoing frame channel. Zero selects the
	// sink default.
	SinkCapacity int

	// Validation selects frame validation strictness. The zero value is
	// Strict; pass validate.LevelFromEnv() to honor the environment.
	Validation validate.Level

	// Recorder, when set, is handed every received packet.
	Recorder PacketRecorder
}

func (c Config) withDefaults() (Config, error) {
	if c.MaxPacketSize <= 0 {
		return c, errors.New("cleanscope: max packet size is required")
	}
	if c.ExpectedFrameSize <= 0 {
		c.ExpectedFrameSize = c.Width * c.Height * 2
	}
	if c.ExpectedFrameSize <= 0 && c.Format != assemble.FormatMJPEG {
		return c, errors.New("cleanscope: frame dimensions are required for raw streams")
	}
	if c.Transfers <= 0 {
		c.Transfers = transfers.DefaultNumTransfers
	}
	if c.PacketsPerTransfer <= 0 {
		c.PacketsPerTransfer = transfers.DefaultPacketsPerTransfer
	}
	if c.SinkCapacity <= 0 {
		c.SinkCapacity = sink.DefaultCapacity
	}
	return c, nil
}
