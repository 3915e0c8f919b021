package connect

import (
	"context"
	"encoding/hex"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/internal/config"
	"github.com/barnettlynn/tropictools/pkg/tropic01"
	"github.com/barnettlynn/tropictools/pkg/tropic01/model"
)

func serveModel(t *testing.T) (*model.Chip, string) {
	t.Helper()
	chip, err := model.New()
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- model.Serve(ctx, ln, chip) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return chip, ln.Addr().String()
}

func intp(v int) *int { return &v }

func TestOpenAndStartSession(t *testing.T) {
	chip, addr := serveModel(t)
	keyPath := filepath.Join(t.TempDir(), "sh0priv.hex")
	require.NoError(t, tropic01.WriteKeyHexFile(keyPath, model.EngineeringPairingKey))

	conn, err := Open(config.TransportConfig{Kind: config.TransportTCP, Address: addr, RetryDelayMS: intp(0)}, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, tropic01.RevisionACAB, conn.Device.Revision())

	sess := config.SessionConfig{PairingSlot: intp(0), PairingPrivateKeyFile: keyPath}
	stpub, err := conn.ChipPublicKey(sess)
	require.NoError(t, err)
	assert.True(t, stpub.Equal(chip.StaticPublicKey()))

	require.NoError(t, conn.StartSession(sess))
	resp, err := conn.Device.Ping([]byte("connected"))
	require.NoError(t, err)
	assert.Equal(t, []byte("connected"), resp.Message)
}

func TestCloseAbortsSession(t *testing.T) {
	chip, addr := serveModel(t)
	keyPath := filepath.Join(t.TempDir(), "sh0priv.hex")
	require.NoError(t, tropic01.WriteKeyHexFile(keyPath, model.EngineeringPairingKey))

	conn, err := Open(config.TransportConfig{Kind: config.TransportTCP, Address: addr, RetryDelayMS: intp(0)}, nil)
	require.NoError(t, err)
	require.NoError(t, conn.StartSession(config.SessionConfig{PairingSlot: intp(0), PairingPrivateKeyFile: keyPath}))
	require.True(t, chip.SessionActive())

	require.NoError(t, conn.Close())
	assert.False(t, chip.SessionActive())
	assert.Equal(t, tropic01.SessionAborted, conn.Device.Session().State())
}

func TestPinnedChipKeyMismatch(t *testing.T) {
	_, addr := serveModel(t)
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "sh0priv.hex")
	require.NoError(t, tropic01.WriteKeyHexFile(keyPath, model.EngineeringPairingKey))
	other, err := model.New(model.WithSeed([]byte("someone else")))
	require.NoError(t, err)
	pinPath := filepath.Join(dir, "stpub.hex")
	require.NoError(t, tropic01.WriteKeyHexFile(pinPath, other.StaticPublicKey().Bytes()))

	conn, err := Open(config.TransportConfig{Kind: config.TransportTCP, Address: addr, RetryDelayMS: intp(0)}, nil)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.StartSession(config.SessionConfig{PairingSlot: intp(0), PairingPrivateKeyFile: keyPath, ChipPublicKeyFile: pinPath})
	require.ErrorIs(t, err, tropic01.ErrHandshakeFailed)
}

func TestOpenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Open(config.TransportConfig{Kind: config.TransportTCP, Address: addr}, nil)
	require.Error(t, err)
	assert.True(t, tropic01.IsTransportError(err))
}

func TestPairingKeyFromEnvironment(t *testing.T) {
	t.Setenv("TROPIC01_SHIPRIV", hex.EncodeToString(model.EngineeringPairingKey))
	t.Setenv("TROPIC01_PAIRING_SLOT", "2")

	key, err := PairingKey(config.SessionConfig{PairingSlot: intp(0), PairingPrivateKeyFile: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, tropic01.PairingSlot(2), key.Slot)
	assert.Equal(t, model.EngineeringPairingKey, key.Private.Bytes())
}
