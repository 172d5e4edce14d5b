package cleanscope

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/sequence"
	"github.com/laurigates/CleanScope/pkg/transfers"
	"github.com/laurigates/CleanScope/pkg/validate"
)

// fakeSource feeds canned completions to the event loop, then blocks like
// a pool with no traffic until cancelled.
type fakeSource struct {
	mu          sync.Mutex
	completions []*transfers.Completion
	i           int
	cancelled   chan struct{}
	cancelOnce  sync.Once
	drained     chan struct{}
	drainOnce   sync.Once
}

func newFakeSource(completions ...*transfers.Completion) *fakeSource {
	return &fakeSource{
		completions: completions,
		cancelled:   make(chan struct{}),
		drained:     make(chan struct{}),
	}
}

// Next hands out the canned completions in order. The event loop calls it
// again only after the previous completion was fully processed, so closing
// drained here means every completion went through the pipeline.
func (f *fakeSource) Next() (*transfers.Completion, error) {
	f.mu.Lock()
	if f.i < len(f.completions) {
		c := f.completions[f.i]
		f.i++
		f.mu.Unlock()
		return c, nil
	}
	f.mu.Unlock()
	f.drainOnce.Do(func() { close(f.drained) })
	<-f.cancelled
	return nil, transfers.ErrClosed
}

func (f *fakeSource) Cancel() {
	f.cancelOnce.Do(func() { close(f.cancelled) })
}

func (f *fakeSource) Close() error { return nil }

func rawPacket(data []byte) transfers.Packet {
	return transfers.Packet{Status: 0, Length: len(data), Data: data}
}

func completionOf(pkts ...transfers.Packet) *transfers.Completion {
	return &transfers.Completion{Packets: pkts}
}

// pattern fills n bytes with a deterministic non-zero sequence.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i%251) + 1
	}
	return data
}

func startTestEngine(t *testing.T, src completionSource, cfg Config) *Engine {
	t.Helper()
	cfg, err := cfg.withDefaults()
	if err != nil {
		t.Fatal(err)
	}
	e := startWithSource(src, cfg)
	t.Cleanup(func() { e.Stop() })
	return e
}

func TestEngine_AssemblesRawFrameEndToEnd(t *testing.T) {
	// A pinned raw session: pure pixel packets, no payload headers. The
	// header-shaped byte pair planted mid-stream must come out untouched.
	const frameSize = 4096
	data := pattern(frameSize)
	data[100], data[101] = 0x02, 0x80

	var comps []*transfers.Completion
	for off := 0; off < frameSize; off += 256 {
		comps = append(comps, completionOf(rawPacket(data[off:off+256])))
	}

	e := startTestEngine(t, newFakeSource(comps...), Config{
		Format:            assemble.FormatYUY2,
		ExpectedFrameSize: frameSize,
		MaxPacketSize:     3072,
		Validation:        validate.Off,
	})

	f := <-e.Frames()
	if f == nil {
		t.Fatal("frame channel closed before a frame arrived")
	}
	if !bytes.Equal(f.Data, data) {
		t.Error("assembled frame does not match the input byte stream")
	}
	if f.Format != assemble.FormatYUY2 {
		t.Errorf("frame format = %v, want yuy2", f.Format)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if _, ok := <-e.Frames(); ok {
		t.Error("frame channel still open after Stop")
	}
}

func TestPipeline_ReversedCompletionOrder(t *testing.T) {
	// Four transfers of 32 packets, each packet a 188-byte payload behind
	// a minimal header. Extraction runs in submission order, but the
	// payloads reach the queue newest first, the way racing completions
	// would. The drain must still rebuild the exact input concatenation.
	const numTransfers, packetsPer, payloadLen = 4, 32, 188
	const total = numTransfers * packetsPer * payloadLen
	data := pattern(total)

	var ext transfers.Extractor
	payloads := make([]*transfers.Payload, 0, numTransfers)
	off := 0
	for i := 0; i < numTransfers; i++ {
		pkts := make([]transfers.Packet, 0, packetsPer)
		for j := 0; j < packetsPer; j++ {
			pkt := append([]byte{2, 0x80}, data[off:off+payloadLen]...)
			pkts = append(pkts, rawPacket(pkt))
			off += payloadLen
		}
		p := ext.Extract(&transfers.Completion{Slot: i, Packets: pkts}, false)
		if p == nil || p.Sequence != uint64(i) {
			t.Fatalf("extraction %d: payload %+v, want sequence %d", i, p, i)
		}
		payloads = append(payloads, p)
	}

	q := sequence.NewQueue()
	a := assemble.New(assemble.Config{ExpectedFrameSize: total})

	var frames []*assemble.Frame
	next := uint64(0)
	for i := numTransfers - 1; i >= 0; i-- {
		q.Insert(payloads[i])
		var ready []*transfers.Payload
		ready, next = q.DrainReady(next)
		for _, p := range ready {
			frames = append(frames, a.Apply(p)...)
		}
		if i > 0 && len(frames) != 0 {
			t.Fatalf("frames emitted while sequence 0 still missing")
		}
	}

	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Data, data) {
		t.Error("assembled frame does not match the submission-order concatenation")
	}
	if a.DetectedFormat() != assemble.FormatYUY2 {
		t.Errorf("DetectedFormat() = %v, want yuy2", a.DetectedFormat())
	}
	if next != numTransfers {
		t.Errorf("next = %d, want %d", next, numTransfers)
	}
}

func TestEngine_InvalidFrameStillDelivered(t *testing.T) {
	// Alternating bright and dark rows fail Strict validation; the frame
	// must reach the consumer anyway.
	const width, height = 64, 48
	stride := width * 2
	data := make([]byte, stride*height)
	for row := 0; row < height; row++ {
		val := byte(16)
		if row%2 != 0 {
			val = 235
		}
		for x := 0; x < stride; x++ {
			data[row*stride+x] = val
		}
	}

	e := startTestEngine(t, newFakeSource(completionOf(rawPacket(data))), Config{
		Width:         width,
		Height:        height,
		Format:        assemble.FormatYUY2,
		MaxPacketSize: 3072,
		Validation:    validate.Strict,
	})

	f := <-e.Frames()
	if f == nil {
		t.Fatal("invalid frame was not delivered")
	}
	if !bytes.Equal(f.Data, data) {
		t.Error("delivered frame bytes differ from input")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if got := e.Stats().InvalidFrames; got != 1 {
		t.Errorf("InvalidFrames = %d, want 1", got)
	}
	if got := e.Stats().FramesDelivered; got != 1 {
		t.Errorf("FramesDelivered = %d, want 1", got)
	}
}

type panicRecorder struct {
	calls int
}

func (p *panicRecorder) RecordPacket([]byte) {
	p.calls++
	if p.calls == 1 {
		panic("recorder exploded")
	}
}

func TestEngine_RecoversFromPanicAndContinues(t *testing.T) {
	rec := &panicRecorder{}
	half := pattern(128)

	src := newFakeSource(
		completionOf(rawPacket(half)),
		completionOf(rawPacket(half)),
	)
	e := startTestEngine(t, src, Config{
		Format:            assemble.FormatYUY2,
		ExpectedFrameSize: 4096,
		MaxPacketSize:     3072,
		Recorder:          rec,
	})

	<-src.drained
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	stats := e.Stats()
	if stats.RecoveredPanics != 1 {
		t.Errorf("RecoveredPanics = %d, want 1", stats.RecoveredPanics)
	}
	// The panic aborted the first completion, but the second one was still
	// extracted and sequenced.
	if stats.NextSequence != 1 {
		t.Errorf("NextSequence = %d, want 1", stats.NextSequence)
	}
	if rec.calls != 2 {
		t.Errorf("recorder calls = %d, want 2", rec.calls)
	}
}

func TestEngine_StopIdempotent(t *testing.T) {
	e := startTestEngine(t, newFakeSource(), Config{
		Format:            assemble.FormatYUY2,
		ExpectedFrameSize: 1024,
		MaxPacketSize:     3072,
	})
	if err := e.Stop(); err != nil {
		t.Fatalf("first Stop() = %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second Stop() = %v", err)
	}
	select {
	case <-e.Done():
	default:
		t.Error("Done() not closed after Stop")
	}
}

func TestEngine_CheckStall(t *testing.T) {
	e := startTestEngine(t, newFakeSource(), Config{
		Format:            assemble.FormatYUY2,
		ExpectedFrameSize: 1024,
		MaxPacketSize:     3072,
	})
	if err := e.CheckStall(); err != nil {
		t.Fatalf("CheckStall() on healthy engine = %v, want nil", err)
	}

	// A payload parked beyond the cursor means its predecessor was lost.
	e.mu.Lock()
	e.queue.Insert(&transfers.Payload{Sequence: 5, Data: []byte{1}})
	e.mu.Unlock()

	err := e.CheckStall()
	var stall *StallError
	if !errors.As(err, &stall) {
		t.Fatalf("CheckStall() = %v, want *StallError", err)
	}
	if stall.Expected != 0 || stall.Oldest != 5 || stall.Parked != 1 {
		t.Errorf("StallError = %+v, want {Expected: 0, Oldest: 5, Parked: 1}", stall)
	}
}

func TestConfig_Validation(t *testing.T) {
	if _, err := (Config{Width: 640, Height: 480}).withDefaults(); err == nil {
		t.Error("missing max packet size accepted, want error")
	}
	if _, err := (Config{MaxPacketSize: 3072}).withDefaults(); err == nil {
		t.Error("raw stream without dimensions accepted, want error")
	}
	if _, err := (Config{MaxPacketSize: 3072, Format: assemble.FormatMJPEG}).withDefaults(); err != nil {
		t.Errorf("MJPEG without dimensions rejected: %v", err)
	}

	cfg, err := (Config{Width: 640, Height: 480, MaxPacketSize: 3072}).withDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExpectedFrameSize != 614400 {
		t.Errorf("ExpectedFrameSize = %d, want 614400", cfg.ExpectedFrameSize)
	}
	if cfg.Transfers != 4 || cfg.PacketsPerTransfer != 32 {
		t.Errorf("pool shape = %dx%d, want 4x32", cfg.Transfers, cfg.PacketsPerTransfer)
	}
	if cfg.Validation != validate.Strict {
		t.Errorf("Validation = %v, want strict default", cfg.Validation)
	}
}
