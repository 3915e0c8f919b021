package tropic01_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
	"github.com/barnettlynn/tropictools/pkg/tropic01/model"
)

func TestCertStoreVerifiesAgainstRoot(t *testing.T) {
	chip := newChip(t)
	dev := newDevice(t, chip)

	store, err := dev.GetCertStore()
	require.NoError(t, err)
	certs, err := store.Certificates()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(certs), 2)

	roots := x509.NewCertPool()
	roots.AddCert(chip.Identity().Root)
	require.NoError(t, store.Verify(roots))

	stpub, err := store.StaticPublicKey()
	require.NoError(t, err)
	assert.True(t, stpub.Equal(chip.StaticPublicKey()))

	require.NoError(t, dev.VerifyChipAndStartSession(roots, engineeringKey(t)))
	_, err = dev.Ping([]byte("verified"))
	require.NoError(t, err)
}

func TestCertStoreRejectsForeignRoot(t *testing.T) {
	dev := newDevice(t, newChip(t))
	other := newChip(t, model.WithSeed([]byte("another chip")))

	store, err := dev.GetCertStore()
	require.NoError(t, err)
	roots := x509.NewCertPool()
	roots.AddCert(other.Identity().Root)
	require.ErrorIs(t, store.Verify(roots), tropic01.ErrCertStoreInvalid)
}

func TestChipIDAndVersions(t *testing.T) {
	chip := newChip(t)
	dev := newDevice(t, chip)

	id, err := dev.GetChipID()
	require.NoError(t, err)
	assert.Equal(t, tropic01.RevisionACAB, id.Revision())
	assert.Equal(t, tropic01.RevisionACAB, dev.Revision())

	fw := dev.Firmware()
	require.NotNil(t, fw)
	assert.False(t, fw.Bootloader())
	assert.Equal(t, "2.0.0 (+.0)", fw.String())

	spect, err := dev.GetSPECTFirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, byte(1), spect.Major)
}

func TestInitLeavesMaintenance(t *testing.T) {
	chip := newChip(t, model.WithMaintenance())
	dev := newDevice(t, chip)
	assert.Equal(t, tropic01.ModeApplication, dev.Mode())
	assert.Equal(t, tropic01.ModeApplication, chip.Mode())
}

func TestRebootIntoMaintenance(t *testing.T) {
	dev, chip := openSession(t)

	require.NoError(t, dev.Reboot(tropic01.StartupMaintenanceReboot))
	assert.Equal(t, tropic01.ModeMaintenance, dev.Mode())
	assert.Equal(t, tropic01.SessionUninitialized, dev.Session().State())
	assert.False(t, chip.SessionActive())

	boot, err := dev.GetRISCVFirmwareVersion()
	require.NoError(t, err)
	assert.True(t, boot.Bootloader())

	hdr, err := dev.GetBankHeader(tropic01.BankFW1)
	require.NoError(t, err)
	assert.False(t, hdr.Empty)
	assert.Equal(t, 2, hdr.HeaderVersion)
	assert.Equal(t, uint32(model.FwTypeRISCV), hdr.Type)
	assert.Len(t, hdr.Hash, 32)

	hdr, err = dev.GetBankHeader(tropic01.BankSPECT2)
	require.NoError(t, err)
	assert.True(t, hdr.Empty)

	err = dev.StartSession(chip.StaticPublicKey(), engineeringKey(t))
	require.Error(t, err)
	assert.True(t, tropic01.IsStatus(err, tropic01.StatusUnknownReq))

	require.NoError(t, dev.Reboot(tropic01.StartupReboot))
	assert.Equal(t, tropic01.ModeApplication, dev.Mode())
}

func TestUpdateNeedsMaintenance(t *testing.T) {
	dev := newDevice(t, newChip(t))
	err := dev.UpdateFirmware([]byte{1, 2, 3}, tropic01.BankFW2, nil)
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestABABFirmwareUpdate(t *testing.T) {
	chip := newChip(t, model.WithRevision(tropic01.RevisionABAB))
	dev := newDevice(t, chip)
	require.Equal(t, tropic01.RevisionABAB, dev.Revision())
	require.NoError(t, dev.Reboot(tropic01.StartupMaintenanceReboot))

	hdr, err := dev.GetBankHeader(tropic01.BankFW1)
	require.NoError(t, err)
	assert.Equal(t, 1, hdr.HeaderVersion)
	assert.Len(t, hdr.Hash, 4)

	image := make([]byte, 1000)
	_, _ = rand.Read(image)
	var last int
	require.NoError(t, dev.UpdateFirmware(image, tropic01.BankFW2, func(done, total int) {
		assert.Greater(t, done, last)
		assert.Equal(t, len(image), total)
		last = done
	}))
	assert.Equal(t, len(image), last)

	hdr, err = dev.GetBankHeader(tropic01.BankFW2)
	require.NoError(t, err)
	assert.False(t, hdr.Empty)
	assert.Equal(t, uint32(len(image)), hdr.Size)

	require.NoError(t, dev.EraseFirmwareBank(tropic01.BankFW2))
	hdr, err = dev.GetBankHeader(tropic01.BankFW2)
	require.NoError(t, err)
	assert.True(t, hdr.Empty)

	_, err = dev.GetBankHeader(7)
	require.ErrorIs(t, err, tropic01.ErrInvalidParameter)
}

func TestACABFirmwareUpdate(t *testing.T) {
	chip := newChip(t)
	dev := newDevice(t, chip)
	require.NoError(t, dev.Reboot(tropic01.StartupMaintenanceReboot))

	require.ErrorIs(t, dev.EraseFirmwareBank(tropic01.BankFW2), tropic01.ErrInvalidParameter)

	fw := bytes.Repeat([]byte("riscv firmware "), 120)
	version := tropic01.FirmwareVersion{Major: 2, Minor: 0, Patch: 0, Build: 9}
	image, err := model.BuildACABImage(chip.Identity().UpdateKey, model.FwTypeRISCV, version, fw)
	require.NoError(t, err)
	require.NoError(t, dev.UpdateFirmware(image, 0, nil))

	hdr, err := dev.GetBankHeader(tropic01.BankFW2)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(fw)), hdr.Size)
	assert.Equal(t, binary.LittleEndian.Uint32(version.Bytes()), hdr.Version)

	require.NoError(t, dev.Reboot(tropic01.StartupReboot))
	running, err := dev.GetRISCVFirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, version, *running)
}

func TestACABRejectsForeignSignature(t *testing.T) {
	chip := newChip(t)
	dev := newDevice(t, chip)
	require.NoError(t, dev.Reboot(tropic01.StartupMaintenanceReboot))

	_, rogue, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	image, err := model.BuildACABImage(rogue, model.FwTypeSPECT, tropic01.FirmwareVersion{Major: 1, Minor: 1}, []byte("spect"))
	require.NoError(t, err)

	err = dev.UpdateFirmware(image, 0, nil)
	require.Error(t, err)
	assert.True(t, tropic01.IsStatus(err, tropic01.StatusGenErr))

	log, err := dev.GetLog()
	require.NoError(t, err)
	assert.Contains(t, log, "signature invalid")

	hdr, err := dev.GetBankHeader(tropic01.BankSPECT2)
	require.NoError(t, err)
	assert.True(t, hdr.Empty)
}

func TestACABRejectsBrokenChain(t *testing.T) {
	chip := newChip(t)
	dev := newDevice(t, chip)
	require.NoError(t, dev.Reboot(tropic01.StartupMaintenanceReboot))

	fw := bytes.Repeat([]byte{0xAB}, 3*model.UpdateChunkMax)
	image, err := model.BuildACABImage(chip.Identity().UpdateKey, model.FwTypeRISCV, tropic01.FirmwareVersion{Major: 1}, fw)
	require.NoError(t, err)
	image[len(image)-1] ^= 0xFF

	err = dev.UpdateFirmware(image, 0, nil)
	require.Error(t, err)
	assert.True(t, tropic01.IsStatus(err, tropic01.StatusGenErr))
}
