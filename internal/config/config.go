package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

type ValidationMode int

const (
	ValidationFull ValidationMode = iota
	ValidationTransport
	ValidationProvision
)

const (
	TransportTCP    = "tcp"
	TransportDongle = "dongle"
)

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	Provision ProvisionConfig `yaml:"provision"`
}

type TransportConfig struct {
	Kind         string `yaml:"kind"`
	Address      string `yaml:"address"`
	Device       string `yaml:"device"`
	BaudRate     *int   `yaml:"baud_rate"`
	ReadMaxTries *int   `yaml:"read_max_tries"`
	RetryDelayMS *int   `yaml:"retry_delay_ms"`
	MaxResends   *int   `yaml:"max_resends"`
}

type SessionConfig struct {
	PairingSlot           *int   `yaml:"pairing_slot"`
	PairingPrivateKeyFile string `yaml:"pairing_private_key_file"`
	// ChipPublicKeyFile pins STPUB. When empty the key is taken from the
	// chip's certificate store.
	ChipPublicKeyFile string `yaml:"chip_public_key_file"`
}

// ProvisionConfig is the profile applied by the provisioning tool, in
// field order.
type ProvisionConfig struct {
	PairingKeys []PairingKeyEntry `yaml:"pairing_keys"`
	RConfig     []RConfigEntry    `yaml:"r_config"`
	ECCKeys     []ECCKeyEntry     `yaml:"ecc_keys"`
	MCounters   []MCounterEntry   `yaml:"mcounters"`
}

type PairingKeyEntry struct {
	Slot          *int   `yaml:"slot"`
	PublicKeyFile string `yaml:"public_key_file"`
}

type RConfigEntry struct {
	Object string  `yaml:"object"`
	Value  *uint32 `yaml:"value"`
}

type ECCKeyEntry struct {
	Slot  *int   `yaml:"slot"`
	Curve string `yaml:"curve"`
	// PrivateKeyFile is stored with ECC_Key_Store; without it the chip
	// generates the key.
	PrivateKeyFile string `yaml:"private_key_file"`
}

type MCounterEntry struct {
	Index *int    `yaml:"index"`
	Value *uint32 `yaml:"value"`
}

func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if err := c.validateTransport(); err != nil {
		return err
	}

	switch mode {
	case ValidationTransport:
		return nil
	case ValidationFull:
		return c.validateSession()
	case ValidationProvision:
		if err := c.validateSession(); err != nil {
			return err
		}
		return c.validateProvision()
	default:
		return fmt.Errorf("unsupported validation mode: %d", mode)
	}
}

func (c *Config) validateTransport() error {
	t := &c.Transport
	switch strings.TrimSpace(t.Kind) {
	case TransportTCP:
	case TransportDongle:
		if strings.TrimSpace(t.Device) == "" {
			return fmt.Errorf("config.transport.device is required for the dongle transport")
		}
		if t.BaudRate != nil && *t.BaudRate <= 0 {
			return fmt.Errorf("config.transport.baud_rate must be > 0")
		}
	case "":
		return fmt.Errorf("config.transport.kind is required")
	default:
		return fmt.Errorf("config.transport.kind must be %q or %q, got %q", TransportTCP, TransportDongle, t.Kind)
	}
	if t.ReadMaxTries != nil && *t.ReadMaxTries < 1 {
		return fmt.Errorf("config.transport.read_max_tries must be >= 1")
	}
	if t.RetryDelayMS != nil && *t.RetryDelayMS < 0 {
		return fmt.Errorf("config.transport.retry_delay_ms must be >= 0")
	}
	if t.MaxResends != nil && *t.MaxResends < 0 {
		return fmt.Errorf("config.transport.max_resends must be >= 0")
	}
	return nil
}

func (c *Config) validateSession() error {
	s := &c.Session
	if s.PairingSlot == nil {
		return fmt.Errorf("config.session.pairing_slot is required")
	}
	if *s.PairingSlot < 0 || *s.PairingSlot > tropic01.PairingSlotMax {
		return fmt.Errorf("config.session.pairing_slot must be 0..%d", tropic01.PairingSlotMax)
	}
	if strings.TrimSpace(s.PairingPrivateKeyFile) == "" {
		return fmt.Errorf("config.session.pairing_private_key_file is required")
	}
	if err := validateReadableFile(s.PairingPrivateKeyFile, "config.session.pairing_private_key_file"); err != nil {
		return err
	}
	if s.ChipPublicKeyFile != "" {
		if err := validateReadableFile(s.ChipPublicKeyFile, "config.session.chip_public_key_file"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateProvision() error {
	p := &c.Provision
	if len(p.PairingKeys)+len(p.RConfig)+len(p.ECCKeys)+len(p.MCounters) == 0 {
		return fmt.Errorf("config.provision is empty")
	}
	for i, e := range p.PairingKeys {
		field := fmt.Sprintf("config.provision.pairing_keys[%d]", i)
		if e.Slot == nil {
			return fmt.Errorf("%s.slot is required", field)
		}
		if *e.Slot < 0 || *e.Slot > tropic01.PairingSlotMax {
			return fmt.Errorf("%s.slot must be 0..%d", field, tropic01.PairingSlotMax)
		}
		if strings.TrimSpace(e.PublicKeyFile) == "" {
			return fmt.Errorf("%s.public_key_file is required", field)
		}
		if err := validateReadableFile(e.PublicKeyFile, field+".public_key_file"); err != nil {
			return err
		}
	}
	for i, e := range p.RConfig {
		field := fmt.Sprintf("config.provision.r_config[%d]", i)
		if _, ok := tropic01.LookupConfigObject(e.Object); !ok {
			return fmt.Errorf("%s.object %q is not a configuration object", field, e.Object)
		}
		if e.Value == nil {
			return fmt.Errorf("%s.value is required", field)
		}
	}
	for i, e := range p.ECCKeys {
		field := fmt.Sprintf("config.provision.ecc_keys[%d]", i)
		if e.Slot == nil {
			return fmt.Errorf("%s.slot is required", field)
		}
		if *e.Slot < 0 || *e.Slot > tropic01.ECCSlotMax {
			return fmt.Errorf("%s.slot must be 0..%d", field, tropic01.ECCSlotMax)
		}
		if _, err := ParseCurve(e.Curve); err != nil {
			return fmt.Errorf("%s.curve: %w", field, err)
		}
		if e.PrivateKeyFile != "" {
			if err := validateReadableFile(e.PrivateKeyFile, field+".private_key_file"); err != nil {
				return err
			}
		}
	}
	for i, e := range p.MCounters {
		field := fmt.Sprintf("config.provision.mcounters[%d]", i)
		if e.Index == nil {
			return fmt.Errorf("%s.index is required", field)
		}
		if *e.Index < 0 || *e.Index > tropic01.MCounterMax {
			return fmt.Errorf("%s.index must be 0..%d", field, tropic01.MCounterMax)
		}
		if e.Value == nil {
			return fmt.Errorf("%s.value is required", field)
		}
		if *e.Value > tropic01.MCounterValueMax {
			return fmt.Errorf("%s.value must be <= 0x%08X", field, uint32(tropic01.MCounterValueMax))
		}
	}
	return nil
}

// ParseCurve accepts "p256" or "ed25519" in any case.
func ParseCurve(s string) (tropic01.Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p256":
		return tropic01.CurveP256, nil
	case "ed25519":
		return tropic01.CurveEd25519, nil
	}
	return 0, fmt.Errorf("unknown curve %q (want p256 or ed25519)", s)
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Session.PairingPrivateKeyFile = resolvePath(configDir, c.Session.PairingPrivateKeyFile)
	c.Session.ChipPublicKeyFile = resolvePath(configDir, c.Session.ChipPublicKeyFile)
	for i := range c.Provision.PairingKeys {
		c.Provision.PairingKeys[i].PublicKeyFile = resolvePath(configDir, c.Provision.PairingKeys[i].PublicKeyFile)
	}
	for i := range c.Provision.ECCKeys {
		c.Provision.ECCKeys[i].PrivateKeyFile = resolvePath(configDir, c.Provision.ECCKeys[i].PrivateKeyFile)
	}
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
