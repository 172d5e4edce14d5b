// Package cleanscope assembles video frames from UVC isochronous
// transfers. It is the core between an externally negotiated USB device
// handle and a frame consumer: transfer pool, payload extraction,
// completion reordering, frame-boundary detection, corruption validation
// and non-blocking frame handoff. Setup, negotiation and display live in
// the layers around it.
package cleanscope

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	usb "github.com/kevmo314/go-usb"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/sequence"
	"github.com/laurigates/CleanScope/pkg/sink"
	"github.com/laurigates/CleanScope/pkg/transfers"
	"github.com/laurigates/CleanScope/pkg/validate"
)

// completionSource is what the event loop consumes. The transfer pool is
// the production implementation; tests substitute their own.
type completionSource interface {
	Next() (*transfers.Completion, error)
	Cancel()
	Close() error
}

// Engine runs the frame-assembly pipeline for one stream. All assembly
// state is guarded by one mutex, acquired briefly per completed transfer
// on the event goroutine and never held across a resubmission.
type Engine struct {
	cfg    Config
	source completionSource
	out    *sink.Sink

	mu        sync.Mutex
	extractor transfers.Extractor
	queue     *sequence.Queue
	assembler *assemble.Assembler
	next      uint64
	throttle  validate.Throttle

	stopped   atomic.Bool
	done      chan struct{}
	runErr    error
	closeOnce sync.Once
	closeErr  error

	invalid atomic.Uint64
	panics  atomic.Uint64
}

// Start allocates the transfer pool against the configured endpoint,
// submits all transfers and spawns the event loop. The handle must already
// be claimed on the streaming interface with the negotiated alternate
// setting selected.
func Start(handle *usb.DeviceHandle, cfg Config) (*Engine, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	pool, err := transfers.NewPool(handle, cfg.Endpoint, cfg.Transfers, cfg.PacketsPerTransfer, cfg.MaxPacketSize)
	if err != nil {
		return nil, &DeviceError{Op: "start stream", Err: err}
	}
	return startWithSource(pool, cfg), nil
}

func startWithSource(src completionSource, cfg Config) *Engine {
	e := &Engine{
		cfg:    cfg,
		source: src,
		out:    sink.New(cfg.SinkCapacity),
		queue:  sequence.NewQueue(),
		assembler: assemble.New(assemble.Config{
			Width:             cfg.Width,
			Height:            cfg.Height,
			ExpectedFrameSize: cfg.ExpectedFrameSize,
			Format:            cfg.Format,
		}),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

// Frames is the stream of completed frames, validated but never filtered.
// The channel closes when the stream ends, whether by Stop or by a device
// error.
func (e *Engine) Frames() <-chan *assemble.Frame {
	return e.out.Frames()
}

// Done closes when the event loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Stop cancels streaming and blocks until every cancellation has been
// acknowledged by the USB layer; the transfer buffers cannot be released
// while the kernel still writes into them. Safe to call more than once.
// It returns the error that ended the event loop, if any.
func (e *Engine) Stop() error {
	if e.stopped.CompareAndSwap(false, true) {
		e.source.Cancel()
	}
	<-e.done
	e.closeOnce.Do(func() {
		e.closeErr = e.source.Close()
	})
	if e.runErr != nil {
		return e.runErr
	}
	return e.closeErr
}

func (e *Engine) run() {
	defer func() {
		e.out.Close()
		close(e.done)
	}()
	for !e.stopped.Load() {
		c, err := e.source.Next()
		if err != nil {
			if errors.Is(err, transfers.ErrClosed) || e.stopped.Load() {
				return
			}
			e.runErr = &DeviceError{Op: "wait for transfer", Err: err}
			log.Printf("cleanscope: event loop exiting: %v", err)
			return
		}
		e.process(c)
	}
}

// process runs one completion through the pipeline. A panic in here must
// not take down the event loop: the deferred unlock releases the mutex
// during unwinding, the recover below eats the panic, and the next
// completion continues from whatever partial state survived.
func (e *Engine) process(c *transfers.Completion) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			log.Printf("cleanscope: recovered panic while processing completion: %v", r)
		}
	}()

	if rec := e.cfg.Recorder; rec != nil {
		for _, pkt := range c.Packets {
			if pkt.Status == 0 && pkt.Length > 0 && len(pkt.Data) > 0 {
				n := pkt.Length
				if n > len(pkt.Data) {
					n = len(pkt.Data)
				}
				rec.RecordPacket(pkt.Data[:n])
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.extractor.Extract(c, e.assembler.Raw())
	if p == nil {
		return
	}
	e.queue.Insert(p)

	ready, next := e.queue.DrainReady(e.next)
	e.next = next
	for _, payload := range ready {
		for _, f := range e.assembler.Apply(payload) {
			e.deliver(f)
		}
	}
}

// deliver validates a raw frame and forwards it either way. Validation
// flags corruption, it never filters; the consumer sees every frame the
// camera produced.
func (e *Engine) deliver(f *assemble.Frame) {
	if f.Format == assemble.FormatYUY2 {
		r := validate.YUY2(f.Data, f.Width, f.Height, e.cfg.ExpectedFrameSize, e.cfg.Validation)
		if !r.Valid {
			e.invalid.Add(1)
			if e.throttle.Allow() {
				log.Printf("cleanscope: frame %d failed validation (occurrence %d): %s",
					f.Number, e.throttle.Count(), r.FailureReason)
			}
		}
	}
	e.out.TrySend(f)
}

// CheckStall reports a *StallError when assembly is blocked behind a
// sequence number that never arrived. The engine does not skip gaps; a
// supervising watchdog polls this and restarts the stream when a stall
// persists.
func (e *Engine) CheckStall() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	oldest, ok := e.queue.MinPending()
	if !ok {
		return nil
	}
	return &StallError{Expected: e.next, Oldest: oldest, Parked: e.queue.Len()}
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Extractor       transfers.ExtractorStats
	Assembler       assemble.Stats
	NextSequence    uint64
	QueueDepth      int
	StaleDrops      uint64
	FramesDelivered uint64
	FramesDropped   uint64
	InvalidFrames   uint64
	RecoveredPanics uint64
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Extractor:       e.extractor.Stats(),
		Assembler:       e.assembler.Stats(),
		NextSequence:    e.next,
		QueueDepth:      e.queue.Len(),
		StaleDrops:      e.queue.StaleDrops(),
		FramesDelivered: e.out.Delivered(),
		FramesDropped:   e.out.Dropped(),
		InvalidFrames:   e.invalid.Load(),
		RecoveredPanics: e.panics.Load(),
	}
}
