package tropic01_test

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

func TestPingOverSession(t *testing.T) {
	dev, chip := openSession(t)

	resp, err := dev.Ping([]byte("hello tropic"))
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultOK, resp.Result)
	assert.Equal(t, []byte("hello tropic"), resp.Message)

	send, recv := dev.Session().Counters()
	assert.Equal(t, uint32(1), send)
	assert.Equal(t, uint32(1), recv)
	assert.Equal(t, []uint32{0}, chip.ObservedNonces())
}

func TestPingMaxSpansManyFrames(t *testing.T) {
	dev, _ := openSession(t)
	msg := make([]byte, tropic01.PingMax)
	_, _ = rand.Read(msg)

	resp, err := dev.Ping(msg)
	require.NoError(t, err)
	assert.Equal(t, msg, resp.Message)

	_, err = dev.Ping(make([]byte, tropic01.PingMax+1))
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestNoncesStrictlyIncrease(t *testing.T) {
	dev, chip := openSession(t)
	for range 10 {
		_, err := dev.Ping([]byte{0x42})
		require.NoError(t, err)
	}
	nonces := chip.ObservedNonces()
	require.Len(t, nonces, 10)
	for i, n := range nonces {
		assert.Equal(t, uint32(i), n)
	}
}

func TestHandshakeRerunResetsCounters(t *testing.T) {
	dev, chip := openSession(t)
	for range 3 {
		_, err := dev.Ping([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, dev.StartSession(chip.StaticPublicKey(), engineeringKey(t)))
	send, recv := dev.Session().Counters()
	assert.Zero(t, send)
	assert.Zero(t, recv)

	_, err := dev.Ping([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 0}, chip.ObservedNonces())
}

func TestHandshakeOnBlankSlotFails(t *testing.T) {
	chip := newChip(t)
	dev := newDevice(t, chip)
	key, err := tropic01.NewPairingKey(1, engineeringKey(t).Private.Bytes())
	require.NoError(t, err)

	err = dev.StartSession(chip.StaticPublicKey(), key)
	require.ErrorIs(t, err, tropic01.ErrHandshakeFailed)
	assert.True(t, tropic01.IsStatus(err, tropic01.StatusHskErr))
	step, slot, ok := tropic01.ClassifyHandshakeError(err)
	require.True(t, ok)
	assert.Equal(t, "request", step)
	assert.Equal(t, tropic01.PairingSlot(1), slot)
	assert.Equal(t, tropic01.SessionAborted, dev.Session().State())
}

func TestHandshakeWithWrongChipKeyFailsVerify(t *testing.T) {
	chip := newChip(t)
	dev := newDevice(t, chip)
	impostor, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)

	err = dev.StartSession(impostor.PublicKey(), engineeringKey(t))
	require.ErrorIs(t, err, tropic01.ErrHandshakeFailed)
	step, _, _ := tropic01.ClassifyHandshakeError(err)
	assert.Equal(t, "verify", step)

	_, err = dev.Ping([]byte("x"))
	require.ErrorIs(t, err, tropic01.ErrNoSession)
}

func TestTamperedResponseAbortsSession(t *testing.T) {
	dev, chip := openSession(t)
	chip.TamperNextTag()

	_, err := dev.Ping([]byte("x"))
	require.ErrorIs(t, err, tropic01.ErrAuthenticationFailed)
	assert.Equal(t, tropic01.SessionAborted, dev.Session().State())

	_, err = dev.Ping([]byte("x"))
	require.ErrorIs(t, err, tropic01.ErrNoSession)

	require.NoError(t, dev.StartSession(chip.StaticPublicKey(), engineeringKey(t)))
	_, err = dev.Ping([]byte("x"))
	require.NoError(t, err)
}

func TestChipWithoutSessionReportsNoSession(t *testing.T) {
	dev, chip := openSession(t)
	chip.Reset()

	_, err := dev.Ping([]byte("x"))
	require.ErrorIs(t, err, tropic01.ErrNoSession)
	assert.True(t, tropic01.IsStatus(err, tropic01.StatusNoSession))
	assert.Equal(t, tropic01.SessionAborted, dev.Session().State())
}

func TestAbortSession(t *testing.T) {
	dev, chip := openSession(t)
	require.True(t, chip.SessionActive())

	require.NoError(t, dev.AbortSession())
	assert.False(t, chip.SessionActive())
	assert.Equal(t, tropic01.SessionAborted, dev.Session().State())
}

func TestSleepEndsSession(t *testing.T) {
	dev, chip := openSession(t)
	require.NoError(t, dev.Sleep(tropic01.SleepKindSleep))
	assert.Equal(t, tropic01.SessionUninitialized, dev.Session().State())
	assert.False(t, chip.SessionActive())

	require.ErrorIs(t, dev.Sleep(0x33), tropic01.ErrInvalidParameter)
}

func TestConcurrentHandshakeIsBusy(t *testing.T) {
	chip := newChip(t)
	port := newGatedPort(chip)
	dev := newDevice(t, port)
	key := engineeringKey(t)
	port.armed.Store(true)

	done := make(chan error, 1)
	go func() {
		done <- dev.StartSession(chip.StaticPublicKey(), key)
	}()
	<-port.entered

	err := dev.StartSession(chip.StaticPublicKey(), key)
	require.ErrorIs(t, err, tropic01.ErrSessionBusy)

	close(port.release)
	require.NoError(t, <-done)
	assert.Equal(t, tropic01.SessionEstablished, dev.Session().State())
}

func TestDiagnosePairingSlots(t *testing.T) {
	chip := newChip(t)
	dev := newDevice(t, chip)

	results := dev.DiagnosePairingSlots(chip.StaticPublicKey(), engineeringKey(t).Private, []tropic01.PairingSlot{0, 1})
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, tropic01.StatusHskErr, results[1].Status)
	assert.False(t, chip.SessionActive())
}
