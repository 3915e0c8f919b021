package tropic01

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// Mode is the chip's operating mode as reported by the STARTUP status bit.
type Mode int

const (
	ModeApplication Mode = iota
	ModeMaintenance
)

func (m Mode) String() string {
	if m == ModeMaintenance {
		return "maintenance"
	}
	return "application"
}

// Link is the L1 transport adapter. It frames single SPI transactions with
// chip select and polls the chip until a response is ready.
type Link struct {
	port Port
	cfg  *config
	mode Mode
	buf  [MaxFrameSize]byte
}

func newLink(port Port, cfg *config) *Link {
	return &Link{port: port, cfg: cfg}
}

// Mode returns the mode observed on the most recent poll.
func (l *Link) Mode() Mode {
	return l.mode
}

// Write clocks one request frame out to the chip.
func (l *Link) Write(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrInvalidParameter, len(frame), MaxFrameSize)
	}
	buf := append([]byte(nil), frame...)
	if err := l.port.CSNLow(); err != nil {
		return &TransportError{Op: "csn-low", Cause: err}
	}
	if err := l.port.Transfer(buf, l.cfg.timeout); err != nil {
		_ = l.port.CSNHigh()
		return &TransportError{Op: "transfer", Cause: err}
	}
	if err := l.port.CSNHigh(); err != nil {
		return &TransportError{Op: "csn-high", Cause: err}
	}
	slog.Debug("l1 write", "frame", hexUpper(frame))
	return nil
}

// Read polls the chip until it holds a response and returns the raw frame
// (chip status, status, length, data, CRC).
//
// Fail states:
//   - ErrChipAlarm as soon as the ALARM bit is seen
//   - ErrChipBusy after the configured number of polls
//   - *TransportError on any port failure
func (l *Link) Read() ([]byte, error) {
	for try := 0; try < l.cfg.readMaxTries; try++ {
		l.cfg.metrics.observePoll()

		chip, err := l.pollStatus(false)
		if err != nil {
			return nil, err
		}
		if chip&ChipStatusReady != 0 {
			buf := l.buf[:]
			buf[1], buf[2] = 0, 0
			if err := l.port.Transfer(buf[1:3], l.cfg.timeout); err != nil {
				_ = l.port.CSNHigh()
				return nil, &TransportError{Op: "transfer", Cause: err}
			}
			if Status(buf[1]) != StatusNoResp {
				n := int(buf[2])
				if n > ChunkSize {
					_ = l.port.CSNHigh()
					return nil, fmt.Errorf("%w: response length %d exceeds %d", ErrFrameCorrupt, n, ChunkSize)
				}
				clear(buf[3 : 3+n+2])
				if err := l.port.Transfer(buf[3:3+n+2], l.cfg.timeout); err != nil {
					_ = l.port.CSNHigh()
					return nil, &TransportError{Op: "transfer", Cause: err}
				}
				if err := l.port.CSNHigh(); err != nil {
					return nil, &TransportError{Op: "csn-high", Cause: err}
				}
				frame := append([]byte(nil), buf[:3+n+2]...)
				slog.Debug("l1 read", "frame", hexUpper(frame), "tries", try+1)
				return frame, nil
			}
		}
		if err := l.port.CSNHigh(); err != nil {
			return nil, &TransportError{Op: "csn-high", Cause: err}
		}
		if err := l.wait(); err != nil {
			return nil, err
		}
	}
	return nil, ErrChipBusy
}

// ChipStatus issues a single status poll and releases chip select.
func (l *Link) ChipStatus() (byte, error) {
	return l.pollStatus(true)
}

// pollStatus clocks out GET_RESPONSE and returns the chip status byte,
// leaving chip select asserted unless release is set or an error occurs.
func (l *Link) pollStatus(release bool) (byte, error) {
	buf := l.buf[:1]
	buf[0] = GetResponse
	if err := l.port.CSNLow(); err != nil {
		return 0, &TransportError{Op: "csn-low", Cause: err}
	}
	if err := l.port.Transfer(buf, l.cfg.timeout); err != nil {
		_ = l.port.CSNHigh()
		return 0, &TransportError{Op: "transfer", Cause: err}
	}
	chip := buf[0]
	if chip&ChipStatusAlarm != 0 {
		_ = l.port.CSNHigh()
		return chip, ErrChipAlarm
	}
	if chip&ChipStatusStartup != 0 {
		l.mode = ModeMaintenance
	} else {
		l.mode = ModeApplication
	}
	if release {
		if err := l.port.CSNHigh(); err != nil {
			return chip, &TransportError{Op: "csn-high", Cause: err}
		}
	}
	return chip, nil
}

func (l *Link) wait() error {
	if w, ok := l.port.(InterruptWaiter); ok {
		// A timeout here only means the pin never fired; the next poll decides.
		_ = w.WaitInterrupt(l.cfg.retryDelay)
		return nil
	}
	if err := l.port.Delay(l.cfg.retryDelay); err != nil {
		return &TransportError{Op: "delay", Cause: err}
	}
	return nil
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
