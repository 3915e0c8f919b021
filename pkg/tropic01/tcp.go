package tropic01

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultModelAddr is where the chip model listens by default.
const DefaultModelAddr = "127.0.0.1:28992"

// Model server message tags. A reply echoes the request tag, or carries
// TagInvalid / TagUnsupported.
const (
	TagCSNLow      byte = 0x01
	TagCSNHigh     byte = 0x02
	TagSPISend     byte = 0x03
	TagPowerOn     byte = 0x04
	TagPowerOff    byte = 0x05
	TagWait        byte = 0x06
	TagResetTarget byte = 0x10
	TagInvalid     byte = 0xFD
	TagUnsupported byte = 0xFE
)

// TCPMaxPayload bounds the payload of one model server message.
const TCPMaxPayload = MaxFrameSize + 2

// WriteTCPMessage writes tag | len (u16 LE) | payload.
func WriteTCPMessage(w io.Writer, tag byte, payload []byte) error {
	if len(payload) > TCPMaxPayload {
		return fmt.Errorf("%w: tcp payload of %d bytes", ErrInvalidParameter, len(payload))
	}
	msg := make([]byte, 3+len(payload))
	msg[0] = tag
	binary.LittleEndian.PutUint16(msg[1:3], uint16(len(payload)))
	copy(msg[3:], payload)
	_, err := w.Write(msg)
	return err
}

// ReadTCPMessage reads one tag | len | payload message.
func ReadTCPMessage(r io.Reader) (byte, []byte, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[1:3]))
	if n > TCPMaxPayload {
		return 0, nil, fmt.Errorf("%w: tcp payload of %d bytes", ErrFrameCorrupt, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}

// TCPPort is a Port speaking the model server protocol.
type TCPPort struct {
	conn    net.Conn
	Addr    string
	timeout time.Duration
}

// DialTCP connects to a model server and resets the simulated chip.
//
// Parameters:
//   - addr: host:port, DefaultModelAddr when empty
//   - timeout: dial and per-message I/O deadline
//
// Returns:
//   - TCPPort ready for New
//   - *TransportError if the server is unreachable or rejects the reset
func DialTCP(addr string, timeout time.Duration) (*TCPPort, error) {
	if addr == "" {
		addr = DefaultModelAddr
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &TransportError{Op: "dial", Cause: err}
	}
	p := &TCPPort{conn: conn, Addr: addr, timeout: timeout}
	if _, err := p.exchange("reset", TagResetTarget, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// Close closes the connection.
func (p *TCPPort) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func (p *TCPPort) exchange(op string, tag byte, payload []byte) ([]byte, error) {
	if p == nil || p.conn == nil {
		return nil, &TransportError{Op: op, Cause: net.ErrClosed}
	}
	if p.timeout > 0 {
		_ = p.conn.SetDeadline(time.Now().Add(p.timeout))
	}
	if err := WriteTCPMessage(p.conn, tag, payload); err != nil {
		return nil, &TransportError{Op: op, Cause: err}
	}
	rtag, resp, err := ReadTCPMessage(p.conn)
	if err != nil {
		return nil, &TransportError{Op: op, Cause: err}
	}
	switch rtag {
	case tag:
		return resp, nil
	case TagInvalid:
		return nil, &TransportError{Op: op, Cause: fmt.Errorf("tag 0x%02X not known by the server", tag)}
	case TagUnsupported:
		return nil, &TransportError{Op: op, Cause: fmt.Errorf("tag 0x%02X not supported by the server", tag)}
	default:
		return nil, &TransportError{Op: op, Cause: fmt.Errorf("expected tag 0x%02X, received 0x%02X", tag, rtag)}
	}
}

func (p *TCPPort) CSNLow() error {
	_, err := p.exchange("csn-low", TagCSNLow, nil)
	return err
}

func (p *TCPPort) CSNHigh() error {
	_, err := p.exchange("csn-high", TagCSNHigh, nil)
	return err
}

func (p *TCPPort) Transfer(buf []byte, timeout time.Duration) error {
	resp, err := p.exchange("transfer", TagSPISend, buf)
	if err != nil {
		return err
	}
	if len(resp) != len(buf) {
		return &TransportError{Op: "transfer", Cause: fmt.Errorf("sent %d bytes, received %d", len(buf), len(resp))}
	}
	copy(buf, resp)
	return nil
}

// Delay asks the server to wait; the simulated chip advances its clock.
func (p *TCPPort) Delay(d time.Duration) error {
	var us [4]byte
	binary.LittleEndian.PutUint32(us[:], uint32(d/time.Microsecond))
	_, err := p.exchange("wait", TagWait, us[:])
	return err
}

// PowerCycle turns the simulated chip off and on again.
func (p *TCPPort) PowerCycle() error {
	if _, err := p.exchange("power-off", TagPowerOff, nil); err != nil {
		return err
	}
	_, err := p.exchange("power-on", TagPowerOn, nil)
	return err
}
