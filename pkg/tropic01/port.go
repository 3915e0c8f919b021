package tropic01

import "time"

// Port abstracts the chip-select gated SPI link for real hardware, the
// model server and in-process test doubles.
//
// Transfer is full duplex and in place: the bytes in buf are clocked out and
// replaced with the bytes clocked in.
type Port interface {
	CSNLow() error
	CSNHigh() error
	Transfer(buf []byte, timeout time.Duration) error
	Delay(d time.Duration) error
}

// InterruptWaiter is implemented by ports wired to the chip's interrupt pin.
// The link waits on it instead of sleeping between polls.
type InterruptWaiter interface {
	WaitInterrupt(timeout time.Duration) error
}
