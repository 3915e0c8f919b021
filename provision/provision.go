package main

import (
	"fmt"
	"io"

	"github.com/barnettlynn/tropictools/internal/config"
	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// stepResult is one row of the provisioning table.
type stepResult struct {
	Step   string          `json:"step"`
	Target string          `json:"target"`
	Result tropic01.Result `json:"-"`
	Detail string          `json:"detail,omitempty"`
}

func (s stepResult) ok() bool { return s.Result.OK() }

// provisionChip applies a profile through an established session.
// Domain results are recorded and the run continues; transport and
// protocol errors stop it.
//
// Steps:
//  1. Pairing keys (Pairing_Key_Write)
//  2. ECC keys (ECC_Key_Store, or ECC_Key_Generate without a key file)
//  3. Monotonic counters (MCounter_Init)
//  4. R-config (optional R_Config_Erase, then R_Config_Write per object)
func provisionChip(dev *tropic01.Device, p config.ProvisionConfig, eraseRConfig bool) ([]stepResult, error) {
	var out []stepResult

	// 1) Pairing keys
	for _, e := range p.PairingKeys {
		target := fmt.Sprintf("slot %d", *e.Slot)
		pub, err := tropic01.LoadPublicKeyFile(e.PublicKeyFile)
		if err != nil {
			return out, fmt.Errorf("pairing key %s: %w", target, err)
		}
		r, err := dev.PairingKeyWrite(tropic01.PairingSlot(*e.Slot), pub.Bytes())
		if err != nil {
			return out, fmt.Errorf("pairing key %s: %w", target, err)
		}
		out = append(out, stepResult{Step: "pairing_key", Target: target, Result: r})
	}

	// 2) ECC keys
	for _, e := range p.ECCKeys {
		target := fmt.Sprintf("slot %d", *e.Slot)
		curve, err := config.ParseCurve(e.Curve)
		if err != nil {
			return out, err
		}
		var r tropic01.Result
		if e.PrivateKeyFile != "" {
			key, err := tropic01.LoadKeyHexFile(e.PrivateKeyFile)
			if err != nil {
				return out, fmt.Errorf("ecc key %s: %w", target, err)
			}
			r, err = dev.ECCKeyStore(uint16(*e.Slot), curve, key)
			if err != nil {
				return out, fmt.Errorf("ecc key %s: %w", target, err)
			}
		} else {
			r, err = dev.ECCKeyGenerate(uint16(*e.Slot), curve)
			if err != nil {
				return out, fmt.Errorf("ecc key %s: %w", target, err)
			}
		}
		row := stepResult{Step: "ecc_key", Target: target, Result: r}
		if r.OK() {
			key, err := dev.ECCKeyRead(uint16(*e.Slot))
			if err != nil {
				return out, fmt.Errorf("ecc key %s: %w", target, err)
			}
			row.Detail = fmt.Sprintf("%s %s", key.Curve, hexUpper(key.PublicKey))
		}
		out = append(out, row)
	}

	// 3) Counters
	for _, e := range p.MCounters {
		target := fmt.Sprintf("index %d", *e.Index)
		r, err := dev.MCounterInit(uint16(*e.Index), *e.Value)
		if err != nil {
			return out, fmt.Errorf("mcounter %s: %w", target, err)
		}
		out = append(out, stepResult{Step: "mcounter", Target: target, Result: r, Detail: fmt.Sprintf("value %d", *e.Value)})
	}

	// 4) R-config, written last
	if eraseRConfig {
		r, err := dev.RConfigErase()
		if err != nil {
			return out, fmt.Errorf("r-config erase: %w", err)
		}
		out = append(out, stepResult{Step: "r_config_erase", Target: "all", Result: r})
	}
	for _, e := range p.RConfig {
		obj, _ := tropic01.LookupConfigObject(e.Object)
		r, err := dev.RConfigWrite(obj.Addr, *e.Value)
		if err != nil {
			return out, fmt.Errorf("r-config %s: %w", obj.Name, err)
		}
		out = append(out, stepResult{Step: "r_config", Target: obj.Name, Result: r, Detail: fmt.Sprintf("0x%08X", *e.Value)})
	}
	return out, nil
}

func printResults(w io.Writer, results []stepResult) (failed int) {
	fmt.Fprintln(w, "Step           | Target                 | Result")
	fmt.Fprintln(w, "---------------|------------------------|---------------")
	for _, r := range results {
		fmt.Fprintf(w, "%-14s | %-22s | %s", r.Step, r.Target, r.Result)
		if r.Detail != "" {
			fmt.Fprintf(w, "  %s", r.Detail)
		}
		fmt.Fprintln(w)
		if !r.ok() {
			failed++
		}
	}
	return failed
}
