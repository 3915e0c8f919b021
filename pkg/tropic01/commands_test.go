package tropic01_test

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
	"github.com/barnettlynn/tropictools/pkg/tropic01/model"
)

func TestMCounterDepletes(t *testing.T) {
	dev, _ := openSession(t)

	res, err := dev.MCounterInit(3, 5)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)

	for _, want := range []uint32{4, 3, 2, 1} {
		res, err := dev.MCounterUpdate(3)
		require.NoError(t, err)
		require.Equal(t, tropic01.ResultOK, res)
		got, err := dev.MCounterGet(3)
		require.NoError(t, err)
		assert.Equal(t, want, got.Value)
	}

	res, err = dev.MCounterUpdate(3)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultCounterInvalid, res)

	for range 2 {
		got, err := dev.MCounterGet(3)
		require.NoError(t, err)
		assert.Equal(t, tropic01.ResultOK, got.Result)
		assert.Zero(t, got.Value)
	}
}

func TestMCounterUninitialized(t *testing.T) {
	dev, _ := openSession(t)
	got, err := dev.MCounterGet(7)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultCounterInvalid, got.Result)

	_, err = dev.MCounterGet(tropic01.MCounterMax + 1)
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestMACAndDestroyIsSingleUse(t *testing.T) {
	dev, _ := openSession(t)
	data := bytes.Repeat([]byte{0x5A}, 32)

	first, err := dev.MACAndDestroy(9, data)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, first.Result)
	assert.Len(t, first.Data, 32)

	second, err := dev.MACAndDestroy(9, data)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotEmpty, second.Result)
	assert.Empty(t, second.Data)
}

func TestMACAndDestroyRearmed(t *testing.T) {
	dev, chip := openSession(t)
	data := bytes.Repeat([]byte{0x01}, 32)

	a, err := dev.MACAndDestroy(4, data)
	require.NoError(t, err)
	require.NoError(t, chip.ArmMACSlot(4, []byte("fresh secret")))
	b, err := dev.MACAndDestroy(4, data)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, b.Result)
	assert.NotEqual(t, a.Data, b.Data)
}

func TestECCKeyLifecycle(t *testing.T) {
	dev, _ := openSession(t)

	res, err := dev.ECCKeyErase(5)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotEmpty, res)

	read, err := dev.ECCKeyRead(5)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotEmpty, read.Result)

	res, err = dev.ECCKeyGenerate(5, tropic01.CurveP256)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)

	res, err = dev.ECCKeyGenerate(5, tropic01.CurveP256)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotNotEmpty, res)

	read, err = dev.ECCKeyRead(5)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, read.Result)
	assert.Equal(t, tropic01.CurveP256, read.Curve)
	assert.Equal(t, tropic01.OriginGenerated, read.Origin)
	require.Len(t, read.PublicKey, 64)

	msg := []byte("sign me")
	sig, err := dev.ECDSASign(5, msg)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, sig.Result)
	digest := sha256.Sum256(msg)
	ok, err := tropic01.VerifyECDSA(read.PublicKey, digest[:], sig.R, sig.S)
	require.NoError(t, err)
	assert.True(t, ok)

	wrong, err := dev.EdDSASign(5, msg)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultInvalidKey, wrong.Result)

	res, err = dev.ECCKeyErase(5)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultOK, res)
	read, err = dev.ECCKeyRead(5)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotEmpty, read.Result)
}

func TestECCKeyStoreEd25519(t *testing.T) {
	dev, _ := openSession(t)
	seed := make([]byte, 32)
	_, _ = rand.Read(seed)

	res, err := dev.ECCKeyStore(31, tropic01.CurveEd25519, seed)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)

	read, err := dev.ECCKeyRead(31)
	require.NoError(t, err)
	assert.Equal(t, tropic01.OriginStored, read.Origin)
	require.Len(t, read.PublicKey, 32)

	msg := []byte("ed25519 message")
	sig, err := dev.EdDSASign(31, msg)
	require.NoError(t, err)
	ok, err := tropic01.VerifyEdDSA(read.PublicKey, msg, sig.R, sig.S)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = dev.ECCKeyStore(32, tropic01.CurveEd25519, seed)
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestEdDSASignLargestMessage(t *testing.T) {
	dev, _ := openSession(t)
	seed := bytes.Repeat([]byte{0x5A}, 32)
	res, err := dev.ECCKeyStore(7, tropic01.CurveEd25519, seed)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)
	read, err := dev.ECCKeyRead(7)
	require.NoError(t, err)

	msg := bytes.Repeat([]byte{0xA5}, tropic01.EdDSAMessageMax)
	sig, err := dev.EdDSASign(7, msg)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, sig.Result)
	ok, err := tropic01.VerifyEdDSA(read.PublicKey, msg, sig.R, sig.S)
	require.NoError(t, err)
	assert.True(t, ok)

	shape, found := tropic01.LookupCommand(tropic01.CmdEdDSASign)
	require.True(t, found)
	assert.Equal(t, shape.CmdMax, tropic01.MaxL3Plaintext)
	assert.Equal(t, 2+shape.CmdMax+tropic01.TagSize, tropic01.MaxL3Size)

	_, err = dev.EdDSASign(7, append(msg, 0))
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestUserDataSlots(t *testing.T) {
	dev, _ := openSession(t)
	assert.Equal(t, tropic01.RMemDataMaxV2, dev.Attributes().RMemDataMax)

	data := bytes.Repeat([]byte{0xC0}, tropic01.RMemDataMaxV2)
	res, err := dev.RMemDataWrite(100, data)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)

	res, err = dev.RMemDataWrite(100, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotNotEmpty, res)

	got, err := dev.RMemDataRead(100)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)

	res, err = dev.RMemDataErase(100)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)
	got, err = dev.RMemDataRead(100)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotEmpty, got.Result)

	_, err = dev.RMemDataWrite(1, make([]byte, tropic01.RMemDataMaxV2+1))
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestOlderFirmwareSelectsSmallerSlots(t *testing.T) {
	dev, _ := openSession(t, model.WithFirmwareVersion(tropic01.FirmwareVersion{Major: 1, Minor: 0, Patch: 1}))
	assert.Equal(t, tropic01.RMemDataMaxV1, dev.Attributes().RMemDataMax)
	_, err := dev.RMemDataWrite(1, make([]byte, tropic01.RMemDataMaxV1+1))
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestNewerFirmwareRejected(t *testing.T) {
	chip := newChip(t, model.WithFirmwareVersion(tropic01.FirmwareVersion{Major: 3}))
	dev := tropic01.New(chip, tropic01.WithRetryDelay(0))
	require.ErrorIs(t, dev.Init(), tropic01.ErrFirmwareTooNew)
}

func TestRandomAndSerial(t *testing.T) {
	dev, chip := openSession(t)

	rnd, err := dev.RandomValueGet(tropic01.RandomMax)
	require.NoError(t, err)
	assert.Len(t, rnd.Data, tropic01.RandomMax)

	serial, err := dev.SerialCodeGet()
	require.NoError(t, err)
	assert.Equal(t, chip.Identity().SerialCode, serial.Data)
}

func TestPairingKeySlots(t *testing.T) {
	dev, chip := openSession(t)
	newKey, err := tropic01.GeneratePairingKey(rand.Reader, 2)
	require.NoError(t, err)

	read, err := dev.PairingKeyRead(2)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotEmpty, read.Result)

	res, err := dev.PairingKeyWrite(2, newKey.PublicKey())
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)
	res, err = dev.PairingKeyWrite(2, newKey.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultFail, res)

	read, err = dev.PairingKeyRead(2)
	require.NoError(t, err)
	assert.Equal(t, newKey.PublicKey(), read.PublicKey)

	res, err = dev.PairingKeyInvalidate(2)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)
	read, err = dev.PairingKeyRead(2)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultSlotInvalid, read.Result)

	err = dev.StartSession(chip.StaticPublicKey(), newKey)
	assert.True(t, tropic01.IsStatus(err, tropic01.StatusHskErr))
}

func TestConfigSpaces(t *testing.T) {
	dev, _ := openSession(t)
	sensors, ok := tropic01.LookupConfigObject("sensors")
	require.True(t, ok)

	got, err := dev.RConfigRead(sensors.Addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), got.Value)

	for _, v := range []uint32{0x12345678, 0x0} {
		res, err := dev.RConfigWrite(sensors.Addr, v)
		require.NoError(t, err)
		require.Equal(t, tropic01.ResultOK, res)
		got, err = dev.RConfigRead(sensors.Addr)
		require.NoError(t, err)
		assert.Equal(t, v, got.Value)
	}
	res, err := dev.RConfigErase()
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)
	got, err = dev.RConfigRead(sensors.Addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), got.Value)

	for range 2 {
		res, err = dev.IConfigWrite(sensors.Addr, 4)
		require.NoError(t, err)
		require.Equal(t, tropic01.ResultOK, res, "latching a set bit is a no-op")
	}
	res, err = dev.IConfigWrite(sensors.Addr, 31)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)
	got, err = dev.IConfigRead(sensors.Addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<31|1<<4), got.Value)

	all, result, err := dev.ReadRConfig()
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, result)
	for _, v := range all {
		assert.Equal(t, uint32(0xFFFFFFFF), v)
	}

	_, err = dev.RConfigRead(0x00C)
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestUserAccessPolicy(t *testing.T) {
	dev, chip := openSession(t)
	slot1, err := tropic01.GeneratePairingKey(rand.Reader, 1)
	require.NoError(t, err)
	res, err := dev.PairingKeyWrite(1, slot1.PublicKey())
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)

	uap, ok := tropic01.LookupConfigObject("CFG_UAP_PING")
	require.True(t, ok)
	res, err = dev.RConfigWrite(uap.Addr, 1<<1)
	require.NoError(t, err)
	require.Equal(t, tropic01.ResultOK, res)

	ping, err := dev.Ping([]byte("slot 0"))
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultUnauthorized, ping.Result)
	assert.Empty(t, ping.Message)

	require.NoError(t, dev.StartSession(chip.StaticPublicKey(), slot1))
	ping, err = dev.Ping([]byte("slot 1"))
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultOK, ping.Result)
}
