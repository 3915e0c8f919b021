package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

var allBanks = []byte{tropic01.BankFW1, tropic01.BankFW2, tropic01.BankSPECT1, tropic01.BankSPECT2}

// maintenance reboots into the bootloader unless the chip is already there.
func (a *app) maintenance(cmd *cli.Command) (*tropic01.Device, error) {
	dev, err := a.device(cmd)
	if err != nil {
		return nil, err
	}
	if dev.Mode() != tropic01.ModeMaintenance {
		if err := dev.Reboot(tropic01.StartupMaintenanceReboot); err != nil {
			return nil, err
		}
		if dev.Mode() != tropic01.ModeMaintenance {
			return nil, fmt.Errorf("chip did not enter maintenance mode")
		}
	}
	return dev, nil
}

func bankFlag(required bool) cli.Flag {
	return &cli.IntFlag{Name: "bank", Usage: "firmware bank (1, 2, 17 or 18)", Required: required}
}

func (a *app) fwCommand() *cli.Command {
	return &cli.Command{
		Name:  "fw",
		Usage: "Mutable firmware banks (maintenance mode)",
		Commands: []*cli.Command{
			{
				Name:  "banks",
				Usage: "Show all bank headers",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dev, err := a.maintenance(cmd)
					if err != nil {
						return err
					}
					for _, b := range allBanks {
						h, err := dev.GetBankHeader(b)
						if err != nil {
							return fmt.Errorf("bank %d: %w", b, err)
						}
						tropic01.PrintBankHeader(out(cmd), h)
					}
					return nil
				},
			},
			{
				Name:  "erase",
				Usage: "Erase a bank (ABAB silicon)",
				Flags: []cli.Flag{bankFlag(true)},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					bank := byte(cmd.Int("bank"))
					if err := a.confirm(cmd, fmt.Sprintf("Erase firmware bank %d", bank)); err != nil {
						return err
					}
					dev, err := a.maintenance(cmd)
					if err != nil {
						return err
					}
					if err := dev.EraseFirmwareBank(bank); err != nil {
						return err
					}
					fmt.Fprintf(out(cmd), "Bank %d erased\n", bank)
					return nil
				},
			},
			{
				Name:  "update",
				Usage: "Write a firmware image and reboot into it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "raw image (ABAB) or signed update file (ACAB)", Required: true},
					bankFlag(false),
					&cli.BoolFlag{Name: "no-reboot", Usage: "stay in maintenance mode afterwards"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					image, err := os.ReadFile(cmd.String("file"))
					if err != nil {
						return err
					}
					if err := a.confirm(cmd, fmt.Sprintf("Write %d bytes of firmware", len(image))); err != nil {
						return err
					}
					dev, err := a.maintenance(cmd)
					if err != nil {
						return err
					}
					w := out(cmd)
					last := -10
					err = dev.UpdateFirmware(image, byte(cmd.Int("bank")), func(done, total int) {
						if pct := done * 100 / total; pct/10 != last/10 {
							last = pct
							fmt.Fprintf(w, "  %3d%% (%d/%d bytes)\n", pct, done, total)
						}
					})
					if err != nil {
						return err
					}
					fmt.Fprintln(w, "Firmware written")
					if cmd.Bool("no-reboot") {
						return nil
					}
					if err := dev.Reboot(tropic01.StartupReboot); err != nil {
						return err
					}
					v, err := dev.GetRISCVFirmwareVersion()
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "Running RISC-V firmware %s\n", v)
					return nil
				},
			},
		},
	}
}
