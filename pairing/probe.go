package main

import (
	"crypto/ecdh"
	"fmt"
	"io"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

type probeResult struct {
	file    string
	results []tropic01.PairingSlotResult
}

// probeKeys tries every .hex key in dir against every pairing slot.
func probeKeys(dev *tropic01.Device, stpub *ecdh.PublicKey, dir string) ([]probeResult, error) {
	keys, err := tropic01.LoadAllHexKeys(dir)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no .hex keys in %s", dir)
	}
	slots := []tropic01.PairingSlot{0, 1, 2, 3}
	var out []probeResult
	for _, k := range keys {
		key, err := tropic01.NewPairingKey(0, k.Key)
		if err != nil {
			continue
		}
		out = append(out, probeResult{file: k.Name, results: dev.DiagnosePairingSlots(stpub, key.Private, slots)})
	}
	return out, nil
}

func printProbe(w io.Writer, results []probeResult) {
	fmt.Fprintln(w, "Key file             | Slot 0 | Slot 1 | Slot 2 | Slot 3")
	fmt.Fprintln(w, "---------------------|--------|--------|--------|-------")
	for _, r := range results {
		fmt.Fprintf(w, "%-20s", r.file)
		for _, s := range r.results {
			cell := "-"
			if s.Success {
				cell = "OK"
			} else if s.Status != 0 {
				cell = s.Status.String()
			}
			fmt.Fprintf(w, " | %s", cell)
		}
		fmt.Fprintln(w)
	}
}
