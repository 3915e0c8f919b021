package tropic01_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
	"github.com/barnettlynn/tropictools/pkg/tropic01/model"
)

func newChip(t *testing.T, opts ...model.Option) *model.Chip {
	t.Helper()
	chip, err := model.New(opts...)
	require.NoError(t, err)
	return chip
}

func engineeringKey(t *testing.T) *tropic01.PairingKey {
	t.Helper()
	key, err := tropic01.NewPairingKey(0, model.EngineeringPairingKey)
	require.NoError(t, err)
	return key
}

// newDevice wraps port in an initialized Device that polls without delay.
func newDevice(t *testing.T, port tropic01.Port, opts ...tropic01.Option) *tropic01.Device {
	t.Helper()
	dev := tropic01.New(port, append([]tropic01.Option{tropic01.WithRetryDelay(0)}, opts...)...)
	require.NoError(t, dev.Init())
	return dev
}

// openSession returns a device with a session on pairing slot 0.
func openSession(t *testing.T, opts ...model.Option) (*tropic01.Device, *model.Chip) {
	t.Helper()
	chip := newChip(t, opts...)
	dev := newDevice(t, chip)
	require.NoError(t, dev.StartSession(chip.StaticPublicKey(), engineeringKey(t)))
	return dev, chip
}

// gatedPort blocks the first transaction after arm until release is closed.
type gatedPort struct {
	tropic01.Port
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedPort(p tropic01.Port) *gatedPort {
	return &gatedPort{Port: p, entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *gatedPort) CSNLow() error {
	if p.armed.Load() {
		p.once.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	return p.Port.CSNLow()
}
