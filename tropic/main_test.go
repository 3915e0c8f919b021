package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
	"github.com/barnettlynn/tropictools/pkg/tropic01/model"
)

func TestCommandTree(t *testing.T) {
	root := newApp().command()
	require.Equal(t, "tropic", root.Name)

	subs := map[string]int{}
	for _, c := range root.Commands {
		subs[c.Name] = len(c.Commands)
	}
	assert.Equal(t, map[string]int{
		"info": 0, "ping": 0, "random": 0, "serial": 0, "log": 0, "sleep": 0, "reboot": 0,
		"pairing": 3, "rconfig": 3, "iconfig": 2, "mem": 3, "ecc": 6, "mcounter": 3,
		"mac-and-destroy": 0, "fw": 3, "keygen": 0,
	}, subs)
}

// harness runs the tool against a model served on loopback.
type harness struct {
	chip    *model.Chip
	cfgPath string
}

func newHarness(t *testing.T) *harness {
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

	dir := t.TempDir()
	require.NoError(t, tropic01.WriteKeyHexFile(filepath.Join(dir, "sh0priv.hex"), model.EngineeringPairingKey))
	cfg := fmt.Sprintf(`
transport:
  kind: tcp
  address: %q
  retry_delay_ms: 0
session:
  pairing_slot: 0
  pairing_private_key_file: sh0priv.hex
`, ln.Addr().String())
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return &harness{chip: chip, cfgPath: cfgPath}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := newApp().command()
	root.Writer = &buf
	err := root.Run(context.Background(), append([]string{"tropic", "--config", h.cfgPath}, args...))
	return buf.String(), err
}

func TestPingCommand(t *testing.T) {
	h := newHarness(t)
	outp, err := h.run(t, "ping", "hello", "chip")
	require.NoError(t, err)
	assert.Contains(t, outp, "Ping: OK")
	assert.Contains(t, outp, "Echo: hello chip")
}

func TestSecureCommandEndsSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "ping", "bye")
	require.NoError(t, err)
	assert.False(t, h.chip.SessionActive())
}

func TestInfoCommand(t *testing.T) {
	h := newHarness(t)
	outp, err := h.run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, outp, "RISC-V firmware:  2.0.0")
	assert.Contains(t, outp, hexUpper(h.chip.StaticPublicKey().Bytes()))
}

func TestMemoryRoundTripCommands(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "mem", "write", "--slot", "12", "--text", "stored")
	require.NoError(t, err)

	outp, err := h.run(t, "mem", "read", "--slot", "12")
	require.NoError(t, err)
	assert.Contains(t, outp, hexUpper([]byte("stored")))

	outp, err = h.run(t, "mem", "write", "--slot", "12", "--hex", "00")
	require.Error(t, err)
	assert.Contains(t, outp, "SLOT_NOT_EMPTY")
}

func TestDestructiveCommandNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "mem", "erase", "--slot", "1")
	require.ErrorContains(t, err, "needs confirmation")

	_, err = h.run(t, "--yes", "mem", "erase", "--slot", "1")
	require.NoError(t, err)
}

func TestSignAndVerifyCommands(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "ecc", "generate", "--slot", "3", "--curve", "ed25519")
	require.NoError(t, err)

	outp, err := h.run(t, "ecc", "sign-eddsa", "--slot", "3", "--text", "firmware digest", "--verify")
	require.NoError(t, err)
	assert.Contains(t, outp, "Verify: OK")

	outp, err = h.run(t, "ecc", "read", "--slot", "3")
	require.NoError(t, err)
	assert.Contains(t, outp, "Origin: generated")
}

func TestCounterCommands(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "--yes", "mcounter", "init", "--index", "1", "--value", "0x2")
	require.NoError(t, err)
	_, err = h.run(t, "mcounter", "update", "--index", "1")
	require.NoError(t, err)
	outp, err := h.run(t, "mcounter", "get", "--index", "1")
	require.NoError(t, err)
	assert.Contains(t, outp, "Value: 1")

	outp, err = h.run(t, "mcounter", "update", "--index", "1")
	require.Error(t, err)
	assert.Contains(t, outp, "COUNTER_INVALID")
}

func TestRConfigCommands(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "--yes", "rconfig", "write", "--object", "sensors", "--value", "0x1234")
	require.NoError(t, err)
	outp, err := h.run(t, "rconfig", "read", "--object", "CFG_SENSORS")
	require.NoError(t, err)
	assert.Contains(t, outp, "CFG_SENSORS = 0x00001234")

	outp, err = h.run(t, "rconfig", "read")
	require.NoError(t, err)
	assert.Equal(t, len(tropic01.ConfigObjects)+1, strings.Count(outp, "\n"))
}

func TestFirmwareBanksCommand(t *testing.T) {
	h := newHarness(t)
	outp, err := h.run(t, "fw", "banks")
	require.NoError(t, err)
	assert.NotEmpty(t, outp)
	assert.Equal(t, tropic01.ModeMaintenance, h.chip.Mode())
}

func TestMetricsFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "tropic.prom")
	_, err := h.run(t, "--metrics-file", path, "serial")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "tropic01_host_l3_commands_total")
}

func TestKeygenCommand(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	root := newApp().command()
	root.Writer = &buf
	require.NoError(t, root.Run(context.Background(), []string{"tropic", "keygen", "--slot", "2", "--out", dir}))
	assert.Contains(t, buf.String(), "sh2pub.hex")

	priv, err := tropic01.LoadPairingKey(filepath.Join(dir, "sh2priv.hex"), 2)
	require.NoError(t, err)
	pub, err := tropic01.LoadPublicKeyFile(filepath.Join(dir, "sh2pub.hex"))
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey(), pub.Bytes())

	err = newApp().command().Run(context.Background(), []string{"tropic", "keygen", "--slot", "2", "--out", dir})
	require.ErrorContains(t, err, "use --force")
}
