package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

const keyHex = "D09992B1F17ABC4DB9371768A27DA05B18FAB85613A7842CA64C7910F22E716B\n"

func TestLoadValidFullConfigAndResolveRelativePaths(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  kind: tcp
  address: "127.0.0.1:28992"
  read_max_tries: 10
  retry_delay_ms: 5
session:
  pairing_slot: 0
  pairing_private_key_file: "keys/sh0priv.hex"
`, "keys/sh0priv.hex")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "keys", "sh0priv.hex"), cfg.Session.PairingPrivateKeyFile)
	assert.Equal(t, 10, *cfg.Transport.ReadMaxTries)
	assert.Empty(t, cfg.Session.ChipPublicKeyFile)
}

func TestLoadWithModeTransportAllowsMinimalConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  kind: tcp
`)
	cfg, err := LoadWithMode(cfgPath, ValidationTransport)
	require.NoError(t, err)
	assert.Equal(t, TransportTCP, cfg.Transport.Kind)

	_, err = Load(cfgPath)
	require.ErrorContains(t, err, "config.session.pairing_slot is required")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  kind: tcp
  reader_index: 0
`)
	_, err := LoadWithMode(cfgPath, ValidationTransport)
	require.ErrorContains(t, err, "parse config yaml")
}

func TestTransportValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing kind", "transport: {}\n", "config.transport.kind is required"},
		{"unknown kind", "transport: {kind: usb}\n", "config.transport.kind must be"},
		{"dongle without device", "transport: {kind: dongle}\n", "config.transport.device is required"},
		{"bad baud", "transport: {kind: dongle, device: /dev/ttyACM0, baud_rate: 0}\n", "baud_rate must be > 0"},
		{"bad tries", "transport: {kind: tcp, read_max_tries: 0}\n", "read_max_tries must be >= 1"},
		{"bad delay", "transport: {kind: tcp, retry_delay_ms: -1}\n", "retry_delay_ms must be >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithMode(writeConfig(t, tt.yaml), ValidationTransport)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadFullFailsOnSlotOutOfRange(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  kind: tcp
session:
  pairing_slot: 4
  pairing_private_key_file: "PRIV"
`, "PRIV")
	_, err := Load(cfgPath)
	require.ErrorContains(t, err, "config.session.pairing_slot must be 0..3")
}

func TestLoadFullFailsWhenKeyFileMissing(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  kind: tcp
session:
  pairing_slot: 0
  pairing_private_key_file: "missing.hex"
`)
	_, err := Load(cfgPath)
	require.ErrorContains(t, err, "config.session.pairing_private_key_file")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadFullFailsWhenKeyFileIsDirectory(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  kind: tcp
session:
  pairing_slot: 0
  pairing_private_key_file: "."
`)
	_, err := Load(cfgPath)
	require.ErrorContains(t, err, "must point to a file, got directory")
}

func TestLoadProvisionProfile(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  kind: tcp
session:
  pairing_slot: 0
  pairing_private_key_file: "PRIV"
provision:
  pairing_keys:
    - slot: 1
      public_key_file: "PUB1"
  r_config:
    - object: uap_ping
      value: 0x3
  ecc_keys:
    - slot: 0
      curve: p256
    - slot: 1
      curve: Ed25519
      private_key_file: "ED"
  mcounters:
    - index: 2
      value: 100
`, "PRIV", "PUB1", "ED")

	cfg, err := LoadWithMode(cfgPath, ValidationProvision)
	require.NoError(t, err)
	require.Len(t, cfg.Provision.ECCKeys, 2)
	assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "ED"), cfg.Provision.ECCKeys[1].PrivateKeyFile)
	assert.Equal(t, uint32(3), *cfg.Provision.RConfig[0].Value)

	curve, err := ParseCurve(cfg.Provision.ECCKeys[1].Curve)
	require.NoError(t, err)
	assert.Equal(t, tropic01.CurveEd25519, curve)
}

func TestProvisionValidation(t *testing.T) {
	base := `
transport:
  kind: tcp
session:
  pairing_slot: 0
  pairing_private_key_file: "PRIV"
`
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "config.provision is empty"},
		{"unknown object", "provision:\n  r_config:\n    - {object: nope, value: 1}\n", `config.provision.r_config[0].object "nope"`},
		{"missing value", "provision:\n  r_config:\n    - {object: CFG_SENSORS}\n", "config.provision.r_config[0].value is required"},
		{"bad curve", "provision:\n  ecc_keys:\n    - {slot: 1, curve: rsa}\n", `unknown curve "rsa"`},
		{"ecc slot", "provision:\n  ecc_keys:\n    - {slot: 32, curve: p256}\n", "config.provision.ecc_keys[0].slot must be 0..31"},
		{"counter index", "provision:\n  mcounters:\n    - {index: 16, value: 1}\n", "config.provision.mcounters[0].index must be 0..15"},
		{"counter value", "provision:\n  mcounters:\n    - {index: 1, value: 0xFFFFFFFF}\n", "config.provision.mcounters[0].value must be <="},
		{"pairing file", "provision:\n  pairing_keys:\n    - {slot: 1}\n", "config.provision.pairing_keys[0].public_key_file is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfigWithKeys(t, base+tt.yaml, "PRIV")
			_, err := LoadWithMode(cfgPath, ValidationProvision)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath
}

func writeConfigWithKeys(t *testing.T, content string, keyPaths ...string) string {
	t.Helper()
	cfgPath := writeConfig(t, content)
	dir := filepath.Dir(cfgPath)
	for _, p := range keyPaths {
		full := filepath.Join(dir, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(keyHex), 0o600))
	}
	return cfgPath
}

func TestResolve(t *testing.T) {
	got, err := Resolve(" /etc/tropic/config.yaml ")
	require.NoError(t, err)
	assert.Equal(t, "/etc/tropic/config.yaml", got)

	t.Setenv(EnvPath, "/srv/tropic.yaml")
	got, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/tropic.yaml", got)

	t.Setenv(EnvPath, "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("transport: {kind: tcp}\n"), 0o644))
	t.Chdir(dir)
	got, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), got)
}
