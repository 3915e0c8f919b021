package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// keygenCommand writes a host pairing key pair as shNpriv.hex / shNpub.hex.
// It does not talk to the chip.
func (a *app) keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate a host pairing key pair (X25519)",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "slot", Usage: "pairing slot the key is meant for (0..3)", Required: true},
			&cli.StringFlag{Name: "out", Value: ".", Usage: "output directory"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite existing key files"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			slot := cmd.Int("slot")
			if slot < 0 || slot > tropic01.PairingSlotMax {
				return fmt.Errorf("--slot must be 0..%d", tropic01.PairingSlotMax)
			}
			privPath := filepath.Join(cmd.String("out"), fmt.Sprintf("sh%dpriv.hex", slot))
			pubPath := filepath.Join(cmd.String("out"), fmt.Sprintf("sh%dpub.hex", slot))
			if !cmd.Bool("force") {
				for _, p := range []string{privPath, pubPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists (use --force to overwrite)", p)
					}
				}
			}

			key, err := tropic01.GeneratePairingKey(rand.Reader, tropic01.PairingSlot(slot))
			if err != nil {
				return err
			}
			if err := tropic01.WriteKeyHexFile(privPath, key.Private.Bytes()); err != nil {
				return err
			}
			if err := tropic01.WriteKeyHexFile(pubPath, key.PublicKey()); err != nil {
				return err
			}
			w := out(cmd)
			fmt.Fprintf(w, "Private key: %s\n", privPath)
			fmt.Fprintf(w, "Public key:  %s\n", pubPath)
			fmt.Fprintf(w, "SHiPUB:      %s\n", hexUpper(key.PublicKey()))
			return nil
		},
	}
}
