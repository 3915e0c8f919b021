package tropic01

import (
	"fmt"
	"strings"
)

// ConfigObject is one 32-bit word of the R-config / I-config space.
type ConfigObject struct {
	Name string
	Addr uint16
}

// ConfigObjects lists every configuration word in address order.
var ConfigObjects = [...]ConfigObject{
	{"CFG_START_UP", 0x000},
	{"CFG_SLEEP_MODE", 0x004},
	{"CFG_SENSORS", 0x008},
	{"CFG_DEBUG", 0x010},
	{"CFG_UAP_PAIRING_KEY_WRITE", 0x020},
	{"CFG_UAP_PAIRING_KEY_READ", 0x024},
	{"CFG_UAP_PAIRING_KEY_INVALIDATE", 0x028},
	{"CFG_UAP_R_CONFIG_WRITE_ERASE", 0x030},
	{"CFG_UAP_R_CONFIG_READ", 0x034},
	{"CFG_UAP_I_CONFIG_WRITE", 0x040},
	{"CFG_UAP_I_CONFIG_READ", 0x044},
	{"CFG_UAP_PING", 0x100},
	{"CFG_UAP_R_MEM_DATA_WRITE", 0x110},
	{"CFG_UAP_R_MEM_DATA_READ", 0x114},
	{"CFG_UAP_R_MEM_DATA_ERASE", 0x118},
	{"CFG_UAP_RANDOM_VALUE_GET", 0x120},
	{"CFG_UAP_ECC_KEY_GENERATE", 0x130},
	{"CFG_UAP_ECC_KEY_STORE", 0x134},
	{"CFG_UAP_ECC_KEY_READ", 0x138},
	{"CFG_UAP_ECC_KEY_ERASE", 0x13C},
	{"CFG_UAP_ECDSA_SIGN", 0x140},
	{"CFG_UAP_EDDSA_SIGN", 0x144},
	{"CFG_UAP_MCOUNTER_INIT", 0x150},
	{"CFG_UAP_MCOUNTER_GET", 0x154},
	{"CFG_UAP_MCOUNTER_UPDATE", 0x158},
	{"CFG_UAP_MAC_AND_DESTROY", 0x160},
	{"CFG_UAP_SERIAL_CODE_GET", 0x170},
}

// LookupConfigObject finds a configuration word by name (with or without the
// CFG_ prefix, case-insensitive) or by address.
func LookupConfigObject(nameOrAddr string) (ConfigObject, bool) {
	key := strings.ToUpper(strings.TrimSpace(nameOrAddr))
	for _, o := range ConfigObjects {
		if o.Name == key || o.Name == "CFG_"+key || fmt.Sprintf("0X%03X", o.Addr) == key || fmt.Sprintf("0X%X", o.Addr) == key {
			return o, true
		}
	}
	return ConfigObject{}, false
}

// ConfigAddrValid reports whether addr is a known configuration word.
func ConfigAddrValid(addr uint16) bool {
	for _, o := range ConfigObjects {
		if o.Addr == addr {
			return true
		}
	}
	return false
}

// Config holds one value per ConfigObjects entry, same order.
type Config [len(ConfigObjects)]uint32

// ReadRConfig reads every R-config word. A non-OK result stops the walk and is returned.
func (d *Device) ReadRConfig() (*Config, Result, error) {
	return d.readConfig(d.RConfigRead)
}

// ReadIConfig reads every I-config word.
func (d *Device) ReadIConfig() (*Config, Result, error) {
	return d.readConfig(d.IConfigRead)
}

func (d *Device) readConfig(read func(uint16) (*ConfigReadResponse, error)) (*Config, Result, error) {
	var c Config
	for i, o := range ConfigObjects {
		resp, err := read(o.Addr)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", o.Name, err)
		}
		if !resp.Result.OK() {
			return nil, resp.Result, nil
		}
		c[i] = resp.Value
	}
	return &c, ResultOK, nil
}

// WriteRConfig writes every R-config word.
func (d *Device) WriteRConfig(c *Config) (Result, error) {
	for i, o := range ConfigObjects {
		res, err := d.RConfigWrite(o.Addr, c[i])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", o.Name, err)
		}
		if !res.OK() {
			return res, nil
		}
	}
	return ResultOK, nil
}

// WriteIConfig latches every bit that is set in c.
func (d *Device) WriteIConfig(c *Config) (Result, error) {
	for i, o := range ConfigObjects {
		for bit := range uint8(IConfigBitMax + 1) {
			if c[i]&(1<<bit) == 0 {
				continue
			}
			res, err := d.IConfigWrite(o.Addr, bit)
			if err != nil {
				return 0, fmt.Errorf("%s bit %d: %w", o.Name, bit, err)
			}
			if !res.OK() {
				return res, nil
			}
		}
	}
	return ResultOK, nil
}
