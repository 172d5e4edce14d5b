// Package replay feeds recorded packet streams through the live assembly
// pipeline, so captures stand in for a physical camera during development
// and regression testing.
package replay

import (
	"errors"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/capture"
	"github.com/laurigates/CleanScope/pkg/sequence"
	"github.com/laurigates/CleanScope/pkg/transfers"
)

var (
	// ErrAlreadyRunning is returned by Start while a replay is in
	// progress.
	ErrAlreadyRunning = errors.New("replay: already running")

	// ErrNotRunning is returned by Stop when no replay is in progress.
	ErrNotRunning = errors.New("replay: not running")
)

// microframeInterval paces captures that carry no timing of their own.
// High-speed USB delivers one isochronous packet per 125µs microframe.
const microframeInterval = 125 * time.Microsecond

// frameBuffer is the capacity of the outgoing frame channel.
const frameBuffer = 8

// Options controls playback.
type Options struct {
	// Speed is the playback rate: 1.0 replays at recorded timing, 2.0 at
	// double rate, 0 as fast as possible.
	Speed float64

	// Loop restarts playback from the first packet after the last.
	Loop bool

	// ExpectedFrameSize overrides the raw frame byte size.
	ExpectedFrameSize int

	// Format pins the stream format instead of selecting one from the
	// capture metadata.
	Format assemble.Format
}

// Player replays a loaded capture on a background goroutine.
type Player struct {
	packets []capture.TimedPacket
	meta    *capture.Metadata
	opts    Options

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Load reads a capture file and its companion metadata. The packets_
// filename prefix selects the length-prefixed layout; anything else is
// read as the timestamped single-file layout.
func Load(path string, opts Options) (*Player, error) {
	packets, err := loadPackets(path)
	if err != nil {
		return nil, err
	}
	p := &Player{packets: packets, opts: opts}
	if meta, ok := capture.FindMetadata(path); ok {
		p.meta = &meta
		log.Printf("replay: metadata %dx%d %s, %d frames, %dms",
			meta.Width, meta.Height, meta.FormatType, meta.TotalFrames, meta.DurationMS)
	}
	log.Printf("replay: loaded %d packets from %s", len(packets), path)
	return p, nil
}

func loadPackets(path string) ([]capture.TimedPacket, error) {
	if strings.HasPrefix(filepath.Base(path), "packets_") {
		raw, err := capture.ReadPackets(path)
		if err != nil {
			return nil, err
		}
		packets := make([]capture.TimedPacket, len(raw))
		for i, data := range raw {
			packets[i] = capture.TimedPacket{
				Timestamp: time.Duration(i) * microframeInterval,
				Data:      data,
			}
		}
		return packets, nil
	}
	return capture.ReadLegacy(path)
}

// Metadata returns the capture metadata, or nil if none was found.
func (p *Player) Metadata() *capture.Metadata {
	return p.meta
}

// PacketCount returns the number of loaded packets.
func (p *Player) PacketCount() int {
	return len(p.packets)
}

// Duration returns the recorded length of the capture.
func (p *Player) Duration() time.Duration {
	if len(p.packets) == 0 {
		return 0
	}
	return p.packets[len(p.packets)-1].Timestamp
}

// Running reports whether a replay goroutine is active.
func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches playback. Frames arrive on the returned channel, which
// closes when the capture ends or Stop is called.
func (p *Player) Start() (<-chan *assemble.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, ErrAlreadyRunning
	}
	p.running = true
	p.stop = make(chan struct{})

	frames := make(chan *assemble.Frame, frameBuffer)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(frames)
		p.play(frames)
	}()
	log.Printf("replay: started")
	return frames, nil
}

// Stop ends playback and waits for the replay goroutine to exit.
func (p *Player) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	stop := p.stop
	p.mu.Unlock()

	close(stop)
	p.wg.Wait()
	log.Printf("replay: stopped")
	return nil
}

func (p *Player) play(frames chan<- *assemble.Frame) {
	a := assemble.New(p.assemblerConfig())
	var ext transfers.Extractor
	q := sequence.NewQueue()
	var next uint64

	for {
		start := time.Now()
		var last time.Duration
		for _, pkt := range p.packets {
			select {
			case <-p.stop:
				return
			default:
			}

			if p.opts.Speed > 0 && pkt.Timestamp > last {
				expected := time.Duration(float64(pkt.Timestamp) / p.opts.Speed)
				if !p.sleepUntil(start, expected) {
					return
				}
			}
			last = pkt.Timestamp

			payload := ext.Extract(completionFor(pkt), a.Raw())
			if payload == nil {
				continue
			}
			q.Insert(payload)
			var ready []*transfers.Payload
			ready, next = q.DrainReady(next)
			for _, pl := range ready {
				for _, f := range a.Apply(pl) {
					select {
					case frames <- f:
					case <-p.stop:
						return
					}
				}
			}
		}

		if !p.opts.Loop {
			return
		}
		a.Reset()
	}
}

// sleepUntil waits until expected playback time has elapsed since start,
// in short slices so a stop request is honored promptly.
func (p *Player) sleepUntil(start time.Time, expected time.Duration) bool {
	const slice = 10 * time.Millisecond
	for {
		remaining := expected - time.Since(start)
		if remaining <= 0 {
			return true
		}
		if remaining > slice {
			remaining = slice
		}
		select {
		case <-p.stop:
			return false
		case <-time.After(remaining):
		}
	}
}

// assemblerConfig resolves the assembly parameters: an explicit option
// wins, then capture metadata, then inference from the recorded stream.
func (p *Player) assemblerConfig() assemble.Config {
	if p.opts.Format == assemble.FormatMJPEG {
		return assemble.Config{Format: assemble.FormatMJPEG}
	}
	cfg := assemble.Config{Format: p.opts.Format, ExpectedFrameSize: p.opts.ExpectedFrameSize}
	if cfg.ExpectedFrameSize > 0 {
		if w, h, ok := assemble.InferDimensions(cfg.ExpectedFrameSize); ok {
			cfg.Width, cfg.Height = w, h
		}
		return cfg
	}
	if m := p.meta; m != nil {
		format := strings.ToLower(m.FormatType)
		if strings.Contains(format, "mjpeg") || strings.Contains(format, "jpeg") {
			return assemble.Config{Format: assemble.FormatMJPEG}
		}
		if m.Width > 0 && m.Height > 0 {
			return assemble.Config{Format: assemble.FormatYUY2, Width: m.Width, Height: m.Height}
		}
	}
	if size := p.inferFrameSize(); size > 0 {
		cfg.ExpectedFrameSize = size
		if w, h, ok := assemble.InferDimensions(size); ok {
			cfg.Width, cfg.Height = w, h
		}
	}
	return cfg
}

// inferFrameSize estimates the raw frame size by measuring payload runs
// between end-of-frame markers. The first run is usually a partial frame
// joined mid-stream, so the largest of the first few runs wins before
// being snapped to a known resolution.
func (p *Player) inferFrameSize() int {
	var ext transfers.Extractor
	run, best, complete := 0, 0, 0
	for _, pkt := range p.packets {
		payload := ext.Extract(completionFor(pkt), false)
		if payload == nil {
			continue
		}
		run += len(payload.Data)
		eof := false
		for _, m := range payload.Packets {
			if m.EndOfFrame {
				eof = true
			}
		}
		if !eof {
			continue
		}
		if run > best {
			best = run
		}
		run = 0
		if complete++; complete >= 8 {
			break
		}
	}
	if best == 0 {
		return 0
	}
	return assemble.RoundToFrameSize(best)
}

func completionFor(pkt capture.TimedPacket) *transfers.Completion {
	return &transfers.Completion{
		Packets: []transfers.Packet{{Length: len(pkt.Data), Data: pkt.Data}},
	}
}
