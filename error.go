package cleanscope

import "fmt"

// DeviceError is fatal to the stream but not the process: transfer
// allocation or submission failed, or the device stopped answering. The
// caller tears the stream down and may recreate it; the engine never
// retries internally.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("cleanscope: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// StallError reports that assembly is blocked behind a sequence number
// that never arrived. The engine does not skip the gap; a supervising
// watchdog decides when a stall means the stream is dead.
type StallError struct {
	Expected uint64
	Oldest   uint64
	Parked   int
}

func (e *StallError) Error() string {
	return fmt.Sprintf("cleanscope: assembly stalled waiting for sequence %d (%d payloads parked from %d)",
		e.Expected, e.Parked, e.Oldest)
}
