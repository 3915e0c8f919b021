//go:build !linux

package tropic01

import (
	"errors"
	"time"
)

// DefaultDongleBaud is used when no baud rate is configured.
const DefaultDongleBaud = 115200

// DonglePort is only available on Linux.
type DonglePort struct {
	Path string
}

// OpenDongle always fails on this platform.
func OpenDongle(path string, baud int) (*DonglePort, error) {
	return nil, &TransportError{Op: "open", Cause: errors.New("USB dongle is only supported on linux")}
}

func (p *DonglePort) Close() error {
	return nil
}

func (p *DonglePort) CSNLow() error {
	return errors.ErrUnsupported
}

func (p *DonglePort) CSNHigh() error {
	return errors.ErrUnsupported
}

func (p *DonglePort) Transfer(buf []byte, timeout time.Duration) error {
	return errors.ErrUnsupported
}

func (p *DonglePort) Delay(d time.Duration) error {
	time.Sleep(d)
	return nil
}
