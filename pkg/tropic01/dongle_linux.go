//go:build linux

package tropic01

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultDongleBaud is used when no baud rate is configured.
const DefaultDongleBaud = 115200

// dongleSettle is the pause between writing a transfer and reading the echo.
const dongleSettle = 10 * time.Millisecond

var dongleBauds = map[int]uint32{
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	115200: unix.B115200,
}

// DonglePort is a Port over the USB serial dongle. Chip select is asserted
// by the dongle for the duration of a transfer and released with "CS=0".
type DonglePort struct {
	fd   int
	Path string
}

// OpenDongle opens the dongle's serial device in raw mode.
//
// Parameters:
//   - path: serial device, e.g. /dev/ttyACM0
//   - baud: 4800, 9600, 19200, 38400 or 115200; anything else falls back to 9600
//
// Returns:
//   - DonglePort ready for New
//   - *TransportError if the device cannot be opened or configured
func OpenDongle(path string, baud int) (*DonglePort, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, &TransportError{Op: "open", Cause: fmt.Errorf("%s: %w", path, err)}
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		slog.Warn("serial flush failed", "device", path, "error", err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, &TransportError{Op: "tcgetattr", Cause: err}
	}
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.ONLCR | unix.OCRNL
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	// read returns on the first byte or after 100 ms
	t.Cc[unix.VTIME] = 1
	t.Cc[unix.VMIN] = 0

	speed, ok := dongleBauds[baud]
	if !ok {
		slog.Warn("baud rate not supported, using 9600", "baud", baud)
		speed = unix.B9600
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, &TransportError{Op: "tcsetattr", Cause: err}
	}
	return &DonglePort{fd: fd, Path: path}, nil
}

// Close closes the serial device.
func (p *DonglePort) Close() error {
	if p == nil || p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

func (p *DonglePort) write(b []byte) error {
	n, err := unix.Write(p.fd, b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(b))
	}
	return nil
}

// read collects up to n bytes, stopping early when the port times out.
func (p *DonglePort) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		r, err := unix.Read(p.fd, buf[got:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, err
		}
		if r == 0 {
			break
		}
		got += r
	}
	return buf[:got], nil
}

// CSNLow is a no-op; the dongle asserts chip select on each transfer.
func (p *DonglePort) CSNLow() error {
	return nil
}

func (p *DonglePort) CSNHigh() error {
	if err := p.write([]byte("CS=0\n")); err != nil {
		return &TransportError{Op: "csn-high", Cause: err}
	}
	resp, err := p.read(4)
	if err != nil {
		return &TransportError{Op: "csn-high", Cause: err}
	}
	if !bytes.Equal(resp, []byte("OK\r\n")) {
		return &TransportError{Op: "csn-high", Cause: fmt.Errorf("unexpected reply %q", resp)}
	}
	return nil
}

func (p *DonglePort) Transfer(buf []byte, timeout time.Duration) error {
	line := strings.ToUpper(hex.EncodeToString(buf)) + "x\n"
	if err := p.write([]byte(line)); err != nil {
		return &TransportError{Op: "transfer", Cause: err}
	}
	time.Sleep(dongleSettle)

	want := 2*len(buf) + 2
	resp, err := p.read(want)
	if err != nil {
		return &TransportError{Op: "transfer", Cause: err}
	}
	if len(resp) != want {
		return &TransportError{Op: "transfer", Cause: fmt.Errorf("read %d bytes, want %d", len(resp), want)}
	}
	if _, err := hex.Decode(buf, resp[:2*len(buf)]); err != nil {
		return &TransportError{Op: "transfer", Cause: err}
	}
	return nil
}

func (p *DonglePort) Delay(d time.Duration) error {
	time.Sleep(d)
	return nil
}
