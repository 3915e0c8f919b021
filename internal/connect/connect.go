// Package connect opens a TROPIC01 device from the tool configuration.
package connect

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/barnettlynn/tropictools/internal/config"
	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// Connection is an initialized device and the port under it.
type Connection struct {
	Device *tropic01.Device
	Port   io.Closer
	Label  string
}

// Close aborts an established session, then releases the port.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Device != nil {
		if err := c.Device.Close(); err != nil {
			errs = append(errs, fmt.Errorf("abort session: %w", err))
		}
	}
	if c.Port != nil {
		errs = append(errs, c.Port.Close())
	}
	return errors.Join(errs...)
}

type closablePort interface {
	tropic01.Port
	io.Closer
}

// Open dials the configured transport and runs Init.
//
// Parameters:
//   - t: transport section of a validated config
//   - metrics: optional, may be nil
func Open(t config.TransportConfig, metrics *tropic01.Metrics) (*Connection, error) {
	var (
		port  closablePort
		label string
	)
	switch t.Kind {
	case config.TransportTCP:
		p, err := tropic01.DialTCP(t.Address, 5*time.Second)
		if err != nil {
			return nil, err
		}
		port, label = p, "model "+p.Addr
	case config.TransportDongle:
		baud := tropic01.DefaultDongleBaud
		if t.BaudRate != nil {
			baud = *t.BaudRate
		}
		p, err := tropic01.OpenDongle(t.Device, baud)
		if err != nil {
			return nil, err
		}
		port, label = p, "dongle "+t.Device
	default:
		return nil, fmt.Errorf("unsupported transport %q", t.Kind)
	}

	opts := []tropic01.Option{tropic01.WithMetrics(metrics)}
	if t.ReadMaxTries != nil {
		opts = append(opts, tropic01.WithReadMaxTries(*t.ReadMaxTries))
	}
	if t.RetryDelayMS != nil {
		opts = append(opts, tropic01.WithRetryDelay(time.Duration(*t.RetryDelayMS)*time.Millisecond))
	}
	if t.MaxResends != nil {
		opts = append(opts, tropic01.WithMaxResends(*t.MaxResends))
	}
	conn := &Connection{Device: tropic01.New(port, opts...), Port: port, Label: label}
	if err := conn.Device.Init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init %s: %w", label, err)
	}
	slog.Debug("device ready", "port", label, "revision", conn.Device.Revision().String())
	return conn, nil
}

// ChipPublicKey returns STPUB from the pinned key file, or from the
// certificate store when none is configured.
func (c *Connection) ChipPublicKey(s config.SessionConfig) (*ecdh.PublicKey, error) {
	if s.ChipPublicKeyFile != "" {
		return tropic01.LoadPublicKeyFile(s.ChipPublicKeyFile)
	}
	store, err := c.Device.GetCertStore()
	if err != nil {
		return nil, fmt.Errorf("read certificate store: %w", err)
	}
	return store.StaticPublicKey()
}

// PairingKey returns the host key for the session. TROPIC01_SHIPRIV in
// the environment overrides the configured key file and slot.
func PairingKey(s config.SessionConfig) (*tropic01.PairingKey, error) {
	if os.Getenv("TROPIC01_SHIPRIV") != "" {
		slog.Debug("pairing key taken from environment")
		return tropic01.PairingKeyFromEnv()
	}
	return tropic01.LoadPairingKey(s.PairingPrivateKeyFile, tropic01.PairingSlot(*s.PairingSlot))
}

// StartSession loads the pairing key and runs the handshake.
func (c *Connection) StartSession(s config.SessionConfig) error {
	key, err := PairingKey(s)
	if err != nil {
		return fmt.Errorf("pairing key: %w", err)
	}
	stpub, err := c.ChipPublicKey(s)
	if err != nil {
		return err
	}
	if err := c.Device.StartSession(stpub, key); err != nil {
		return err
	}
	slog.Info("secure session established", "slot", key.Slot, "port", c.Label)
	return nil
}
