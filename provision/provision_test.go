package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/internal/config"
	"github.com/barnettlynn/tropictools/pkg/tropic01"
	"github.com/barnettlynn/tropictools/pkg/tropic01/model"
)

func intp(v int) *int { return &v }
func u32p(v uint32) *uint32 { return &v }

func openSession(t *testing.T) *tropic01.Device {
	t.Helper()
	chip, err := model.New()
	require.NoError(t, err)
	dev := tropic01.New(chip, tropic01.WithRetryDelay(0))
	require.NoError(t, dev.Init())
	key, err := tropic01.NewPairingKey(0, model.EngineeringPairingKey)
	require.NoError(t, err)
	require.NoError(t, dev.StartSession(chip.StaticPublicKey(), key))
	return dev
}

func testProfile(t *testing.T) (config.ProvisionConfig, *tropic01.PairingKey) {
	t.Helper()
	dir := t.TempDir()
	host, err := tropic01.GeneratePairingKey(rand.Reader, 1)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "sh1pub.hex")
	require.NoError(t, tropic01.WriteKeyHexFile(pubPath, host.PublicKey()))

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	eccPath := filepath.Join(dir, "ecc1.hex")
	require.NoError(t, tropic01.WriteKeyHexFile(eccPath, seed))

	return config.ProvisionConfig{
		PairingKeys: []config.PairingKeyEntry{{Slot: intp(1), PublicKeyFile: pubPath}},
		ECCKeys: []config.ECCKeyEntry{
			{Slot: intp(0), Curve: "ed25519"},
			{Slot: intp(1), Curve: "p256", PrivateKeyFile: eccPath},
		},
		MCounters: []config.MCounterEntry{{Index: intp(0), Value: u32p(10)}},
		RConfig:   []config.RConfigEntry{{Object: "uap_ping", Value: u32p(0x3)}},
	}, host
}

func TestProvisionChip(t *testing.T) {
	dev := openSession(t)
	profile, _ := testProfile(t)

	results, err := provisionChip(dev, profile, true)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.True(t, r.ok(), "%s %s: %s", r.Step, r.Target, r.Result)
	}
	assert.Equal(t, "r_config_erase", results[4].Step)
	assert.Contains(t, results[1].Detail, "Ed25519")
	assert.Contains(t, results[2].Detail, "P256")

	got, err := dev.MCounterGet(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), got.Value)

	cfg, err := dev.RConfigRead(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x3), cfg.Value)

	var buf bytes.Buffer
	assert.Equal(t, 0, printResults(&buf, results))
	assert.Contains(t, buf.String(), "CFG_UAP_PING")
}

func TestProvisionRecordsRefusals(t *testing.T) {
	dev := openSession(t)
	profile, _ := testProfile(t)
	_, err := provisionChip(dev, profile, false)
	require.NoError(t, err)

	results, err := provisionChip(dev, profile, false)
	require.NoError(t, err)
	assert.Equal(t, tropic01.ResultFail, results[0].Result)
	assert.Equal(t, tropic01.ResultSlotNotEmpty, results[1].Result)
	assert.Empty(t, results[1].Detail)

	var buf bytes.Buffer
	assert.Equal(t, 3, printResults(&buf, results))
}

func TestProvisionStopsOnProtocolError(t *testing.T) {
	dev := openSession(t)
	profile, _ := testProfile(t)
	require.NoError(t, dev.AbortSession())

	results, err := provisionChip(dev, profile, false)
	require.ErrorIs(t, err, tropic01.ErrNoSession)
	assert.Empty(t, results)
}

func TestSendReport(t *testing.T) {
	var got Report
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	results := []stepResult{
		{Step: "mcounter", Target: "index 0", Result: tropic01.ResultOK},
		{Step: "ecc_key", Target: "slot 0", Result: tropic01.ResultSlotNotEmpty},
	}
	rep := newReport("SN-1", "ACAB", "2.0.0", "0102030405", results)
	require.NoError(t, sendReport(srv.URL, "secret", rep))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "SN-1", got.Serial)
	assert.False(t, got.Succeeded)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, tropic01.ResultSlotNotEmpty.String(), got.Steps[1].Result)
}

func TestSendReportRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := sendReport(srv.URL, "", newReport("SN-1", "ACAB", "", "", nil))
	require.ErrorContains(t, err, "non-2xx status: 403")
}
