package main

import (
	"bytes"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
	"github.com/barnettlynn/tropictools/pkg/tropic01/model"
)

func openEngineering(t *testing.T) (*tropic01.Device, *model.Chip, *tropic01.PairingKey) {
	t.Helper()
	chip, err := model.New()
	require.NoError(t, err)
	dev := tropic01.New(chip, tropic01.WithRetryDelay(0))
	require.NoError(t, dev.Init())
	key, err := tropic01.NewPairingKey(0, model.EngineeringPairingKey)
	require.NoError(t, err)
	require.NoError(t, dev.StartSession(chip.StaticPublicKey(), key))
	return dev, chip, key
}

func TestReadSlots(t *testing.T) {
	dev, _, key := openEngineering(t)
	slots, err := readSlots(dev)
	require.NoError(t, err)
	require.Len(t, slots, 4)
	assert.Equal(t, tropic01.ResultOK, slots[0].result)
	assert.Equal(t, key.PublicKey(), slots[0].pub)
	assert.Equal(t, "empty", slots[3].status())
}

func TestSwapPairingKeyInvalidatesOldSlot(t *testing.T) {
	dev, chip, oldKey := openEngineering(t)
	newKey, err := tropic01.GeneratePairingKey(rand.Reader, 2)
	require.NoError(t, err)

	require.NoError(t, swapPairingKey(dev, chip.StaticPublicKey(), oldKey, newKey, true))
	assert.Equal(t, tropic01.PairingSlot(2), dev.Session().Slot())

	slots, err := readSlots(dev)
	require.NoError(t, err)
	assert.Equal(t, "invalidated", slots[0].status())
	assert.Equal(t, newKey.PublicKey(), slots[2].pub)

	err = dev.StartSession(chip.StaticPublicKey(), oldKey)
	assert.True(t, tropic01.IsStatus(err, tropic01.StatusHskErr))
}

func TestSwapPairingKeyKeepsOldSlot(t *testing.T) {
	dev, chip, oldKey := openEngineering(t)
	newKey, err := tropic01.GeneratePairingKey(rand.Reader, 1)
	require.NoError(t, err)

	require.NoError(t, swapPairingKey(dev, chip.StaticPublicKey(), oldKey, newKey, false))
	require.NoError(t, dev.StartSession(chip.StaticPublicKey(), oldKey))
}

func TestSwapIntoWrittenSlotFails(t *testing.T) {
	dev, chip, oldKey := openEngineering(t)
	again, err := tropic01.NewPairingKey(0, model.EngineeringPairingKey)
	require.NoError(t, err)

	err = swapPairingKey(dev, chip.StaticPublicKey(), oldKey, again, false)
	require.ErrorContains(t, err, "chip answered FAIL")

	err = swapPairingKey(dev, chip.StaticPublicKey(), oldKey, again, true)
	require.ErrorContains(t, err, "it is the target slot")
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sh1priv.hex")
	created, isNew, err := loadOrCreateKey(path, 1)
	require.NoError(t, err)
	assert.True(t, isNew)

	loaded, isNew, err := loadOrCreateKey(path, 1)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.PublicKey(), loaded.PublicKey())
}

func TestProbeKeys(t *testing.T) {
	dev, chip, _ := openEngineering(t)
	dir := t.TempDir()
	require.NoError(t, tropic01.WriteKeyHexFile(filepath.Join(dir, "sh0priv.hex"), model.EngineeringPairingKey))
	stranger, err := tropic01.GeneratePairingKey(rand.Reader, 0)
	require.NoError(t, err)
	require.NoError(t, tropic01.WriteKeyHexFile(filepath.Join(dir, "stranger.hex"), stranger.Private.Bytes()))

	results, err := probeKeys(dev, chip.StaticPublicKey(), dir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "sh0priv.hex", results[0].file)
	assert.True(t, results[0].results[0].Success)
	assert.False(t, results[0].results[1].Success)
	for _, r := range results[1].results {
		assert.False(t, r.Success)
	}

	var buf bytes.Buffer
	printProbe(&buf, results)
	assert.Contains(t, buf.String(), "handshake error")

	_, err = probeKeys(dev, chip.StaticPublicKey(), t.TempDir())
	require.ErrorContains(t, err, "no .hex keys")
}

func TestNextEnabled(t *testing.T) {
	items := []menuItem{{enabled: false}, {enabled: true}, {enabled: false}, {enabled: true}}
	assert.Equal(t, 1, nextEnabled(items, -1, 1))
	assert.Equal(t, 3, nextEnabled(items, 1, 1))
	assert.Equal(t, 3, nextEnabled(items, 3, 1))
	assert.Equal(t, 1, nextEnabled(items, 3, -1))
	assert.Equal(t, 1, nextEnabled(items, 1, -1))
	assert.Equal(t, -1, nextEnabled([]menuItem{{enabled: false}}, -1, 1))
}
