package transfers

import (
	"errors"
	"fmt"
	"sync/atomic"

	usb "github.com/kevmo314/go-usb"
)

const (
	// DefaultNumTransfers is how many isochronous transfers the pool keeps
	// in flight. Four is enough to ride out scheduling hiccups without the
	// memory cost libuvc pays for its default of 100.
	DefaultNumTransfers = 4

	// DefaultPacketsPerTransfer is the number of isochronous packets each
	// transfer carries.
	DefaultPacketsPerTransfer = 32
)

// ErrClosed is returned by Next once the pool has been cancelled.
var ErrClosed = errors.New("transfers: pool closed")

// Packet is the view of one isochronous packet from a completed transfer.
// Data points into the transfer's buffer and is only valid until the next
// call to Pool.Next; callers keep bytes by copying them out.
type Packet struct {
	Status int32
	Length int
	Data   []byte
}

// Completion is one finished transfer's worth of packets.
type Completion struct {
	Slot    int
	Packets []Packet
}

// Pool keeps a fixed set of isochronous transfers perpetually in flight
// against a streaming endpoint. All transfers are submitted up front; Next
// waits for them round-robin in submission order and resubmits each one once
// its packets have been consumed.
type Pool struct {
	handle    *usb.DeviceHandle
	transfers []*usb.IsochronousTransfer
	current   int
	resubmit  int // slot awaiting resubmission, -1 if none
	closed    atomic.Bool
}

// NewPool allocates numTransfers isochronous transfers of packetsPerTransfer
// packets each and submits them all. Zero counts select the defaults.
func NewPool(handle *usb.DeviceHandle, endpointAddress uint8, numTransfers, packetsPerTransfer, packetSize int) (*Pool, error) {
	if numTransfers <= 0 {
		numTransfers = DefaultNumTransfers
	}
	if packetsPerTransfer <= 0 {
		packetsPerTransfer = DefaultPacketsPerTransfer
	}
	if packetSize <= 0 {
		return nil, fmt.Errorf("transfers: invalid packet size %d", packetSize)
	}
	if handle == nil {
		return nil, fmt.Errorf("transfers: nil device handle")
	}

	p := &Pool{
		handle:    handle,
		transfers: make([]*usb.IsochronousTransfer, numTransfers),
		resubmit:  -1,
	}
	for i := 0; i < numTransfers; i++ {
		tx, err := handle.NewIsochronousTransfer(endpointAddress, packetsPerTransfer, packetSize)
		if err != nil {
			for j := 0; j < i; j++ {
				p.transfers[j].Cancel()
			}
			return nil, fmt.Errorf("transfers: create isochronous transfer: %w", err)
		}
		if err := tx.Submit(); err != nil {
			for j := 0; j < i; j++ {
				p.transfers[j].Cancel()
			}
			return nil, fmt.Errorf("transfers: submit isochronous transfer: %w", err)
		}
		p.transfers[i] = tx
	}
	return p, nil
}

// Next blocks until the next in-flight transfer completes and returns its
// packets. The previous completion's transfer is resubmitted first, so the
// packet buffers handed out by the previous call stay valid exactly until
// this one.
func (p *Pool) Next() (*Completion, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if p.resubmit >= 0 {
		if err := p.transfers[p.resubmit].Submit(); err != nil {
			return nil, fmt.Errorf("transfers: resubmit transfer %d: %w", p.resubmit, err)
		}
		p.resubmit = -1
	}

	tx := p.transfers[p.current]
	if err := tx.Wait(); err != nil {
		if p.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("transfers: isochronous transfer failed: %w", err)
	}
	if p.closed.Load() {
		return nil, ErrClosed
	}

	pkts := tx.Packets()
	c := &Completion{Slot: p.current, Packets: make([]Packet, 0, len(pkts))}
	for i, pkt := range pkts {
		view := Packet{Status: int32(pkt.Status), Length: int(pkt.ActualLength)}
		if view.Status == 0 && view.Length > 0 {
			data, err := tx.IsoPacketBuffer(i)
			if err != nil {
				view.Length = 0
			} else {
				view.Data = data
			}
		}
		c.Packets = append(c.Packets, view)
	}

	p.resubmit = p.current
	p.current = (p.current + 1) % len(p.transfers)
	return c, nil
}

// Cancel aborts all in-flight transfers without waiting for the USB layer to
// acknowledge the cancellations. Any blocked Next call returns ErrClosed.
func (p *Pool) Cancel() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, tx := range p.transfers {
		tx.Cancel()
	}
}

// Close cancels outstanding transfers and waits for every cancellation to
// complete. The transfer buffers must not be freed while the USB layer still
// holds them, so Close must run to completion before teardown.
func (p *Pool) Close() error {
	p.Cancel()
	for _, tx := range p.transfers {
		tx.Wait() // ignore error, draining cancellations
	}
	return nil
}
