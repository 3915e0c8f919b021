package main

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/barnettlynn/tropictools/internal/config"
	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

func eccSlot() cli.Flag {
	return slotFlag("ECC key slot (0..31)")
}

func curveFlag() cli.Flag {
	return &cli.StringFlag{Name: "curve", Value: "p256", Usage: "p256 or ed25519"}
}

func (a *app) eccCommand() *cli.Command {
	return &cli.Command{
		Name:  "ecc",
		Usage: "ECC key slots and signing",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Generate a key inside the chip",
				Flags: []cli.Flag{eccSlot(), curveFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					curve, err := config.ParseCurve(cmd.String("curve"))
					if err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.ECCKeyGenerate(uint16(cmd.Int("slot")), curve)
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "ECC_Key_Generate", r)
				},
			},
			{
				Name:  "store",
				Usage: "Store a private key from a hex file",
				Flags: []cli.Flag{eccSlot(), curveFlag(), &cli.StringFlag{Name: "key-file", Usage: "32-byte private key (P256 scalar or Ed25519 seed)", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					curve, err := config.ParseCurve(cmd.String("curve"))
					if err != nil {
						return err
					}
					key, err := tropic01.LoadKeyHexFile(cmd.String("key-file"))
					if err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.ECCKeyStore(uint16(cmd.Int("slot")), curve, key)
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "ECC_Key_Store", r)
				},
			},
			{
				Name:  "read",
				Usage: "Read the public key of a slot",
				Flags: []cli.Flag{eccSlot()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					resp, err := dev.ECCKeyRead(uint16(cmd.Int("slot")))
					if err != nil {
						return err
					}
					w := out(cmd)
					if err := checkResult(w, "ECC_Key_Read", resp.Result); err != nil {
						return err
					}
					fmt.Fprintf(w, "Curve:  %s\nOrigin: %s\nPublic: %s\n", resp.Curve, resp.Origin, hexUpper(resp.PublicKey))
					return nil
				},
			},
			{
				Name:  "erase",
				Usage: "Erase a slot",
				Flags: []cli.Flag{eccSlot()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					slot := cmd.Int("slot")
					if err := a.confirm(cmd, fmt.Sprintf("Erase ECC key slot %d", slot)); err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.ECCKeyErase(uint16(slot))
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "ECC_Key_Erase", r)
				},
			},
			{
				Name:  "sign-ecdsa",
				Usage: "Sign the SHA-256 digest of a payload with a P256 key",
				Flags: append([]cli.Flag{eccSlot(), &cli.BoolFlag{Name: "verify", Usage: "check the signature against ECC_Key_Read"}}, dataFlags()...),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					msg, err := payload(cmd)
					if err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					slot := uint16(cmd.Int("slot"))
					sig, err := dev.ECDSASign(slot, msg)
					if err != nil {
						return err
					}
					if err := printSignature(cmd, "ECDSA_Sign", sig); err != nil {
						return err
					}
					if !cmd.Bool("verify") {
						return nil
					}
					digest := sha256.Sum256(msg)
					return verifySignature(cmd, dev, slot, func(pub []byte) (bool, error) {
						return tropic01.VerifyECDSA(pub, digest[:], sig.R, sig.S)
					})
				},
			},
			{
				Name:  "sign-eddsa",
				Usage: "Sign a payload with an Ed25519 key",
				Flags: append([]cli.Flag{eccSlot(), &cli.BoolFlag{Name: "verify", Usage: "check the signature against ECC_Key_Read"}}, dataFlags()...),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					msg, err := payload(cmd)
					if err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					slot := uint16(cmd.Int("slot"))
					sig, err := dev.EdDSASign(slot, msg)
					if err != nil {
						return err
					}
					if err := printSignature(cmd, "EdDSA_Sign", sig); err != nil {
						return err
					}
					if !cmd.Bool("verify") {
						return nil
					}
					return verifySignature(cmd, dev, slot, func(pub []byte) (bool, error) {
						return tropic01.VerifyEdDSA(pub, msg, sig.R, sig.S)
					})
				},
			},
		},
	}
}

func printSignature(cmd *cli.Command, what string, sig *tropic01.SignatureResponse) error {
	w := out(cmd)
	if err := checkResult(w, what, sig.Result); err != nil {
		return err
	}
	fmt.Fprintf(w, "R: %s\nS: %s\n", hexUpper(sig.R), hexUpper(sig.S))
	return nil
}

func verifySignature(cmd *cli.Command, dev *tropic01.Device, slot uint16, verify func(pub []byte) (bool, error)) error {
	key, err := dev.ECCKeyRead(slot)
	if err != nil {
		return err
	}
	if !key.Result.OK() {
		return fmt.Errorf("read public key: chip answered %s", key.Result)
	}
	ok, err := verify(key.PublicKey)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out(cmd), "Verify: FAILED")
		return fmt.Errorf("signature does not verify")
	}
	fmt.Fprintln(out(cmd), "Verify: OK")
	return nil
}
