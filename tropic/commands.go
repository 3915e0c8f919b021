package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

func out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// checkResult prints a domain result and turns anything but OK into an
// error so the exit status reflects it.
func checkResult(w io.Writer, what string, r tropic01.Result) error {
	fmt.Fprintf(w, "%s: %s\n", what, r)
	if !r.OK() {
		return fmt.Errorf("%s: chip answered %s", what, r)
	}
	return nil
}

// confirm asks before destructive commands. Without a terminal the
// command only runs with --yes.
func (a *app) confirm(cmd *cli.Command, action string) error {
	if cmd.Bool("yes") {
		return nil
	}
	if f, ok := a.stdin.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return fmt.Errorf("%s needs confirmation; pass --yes when stdin is not a terminal", action)
	}
	fmt.Fprintf(out(cmd), "%s? (y/n): ", action)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	}
	return fmt.Errorf("%s cancelled", action)
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint32(v), nil
}

// dataFlags select a payload from --hex, --text or --file.
func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "hex", Usage: "payload as hex"},
		&cli.StringFlag{Name: "text", Usage: "payload as text"},
		&cli.StringFlag{Name: "file", Usage: "payload read from a file"},
	}
}

func payload(cmd *cli.Command) ([]byte, error) {
	var set int
	for _, n := range []string{"hex", "text", "file"} {
		if cmd.IsSet(n) {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of --hex, --text or --file is required")
	}
	switch {
	case cmd.IsSet("hex"):
		b, err := hex.DecodeString(strings.TrimSpace(cmd.String("hex")))
		if err != nil {
			return nil, fmt.Errorf("--hex: %w", err)
		}
		return b, nil
	case cmd.IsSet("text"):
		return []byte(cmd.String("text")), nil
	default:
		return os.ReadFile(cmd.String("file"))
	}
}

func slotFlag(usage string) cli.Flag {
	return &cli.IntFlag{Name: "slot", Usage: usage, Required: true}
}

func (a *app) infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show chip identity, firmware versions and STPUB",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := a.device(cmd)
			if err != nil {
				return err
			}
			w := out(cmd)
			id, err := dev.GetChipID()
			if err != nil {
				return err
			}
			tropic01.PrintChipID(w, id)
			fmt.Fprintf(w, "Mode:             %s\n", dev.Mode())
			riscv, err := dev.GetRISCVFirmwareVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "RISC-V firmware:  %s\n", riscv)
			if dev.Mode() == tropic01.ModeApplication {
				spect, err := dev.GetSPECTFirmwareVersion()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "SPECT firmware:   %s\n", spect)
			}
			store, err := dev.GetCertStore()
			if err != nil {
				return err
			}
			stpub, err := store.StaticPublicKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "STPUB:            %s\n", hexUpper(stpub.Bytes()))
			return nil
		},
	}
}

func (a *app) pingCommand() *cli.Command {
	return &cli.Command{
		Name:      "ping",
		Usage:     "Echo a message through the secure channel",
		ArgsUsage: "<message>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			msg := strings.Join(cmd.Args().Slice(), " ")
			if msg == "" {
				msg = "ping"
			}
			dev, err := a.secure(cmd)
			if err != nil {
				return err
			}
			resp, err := dev.Ping([]byte(msg))
			if err != nil {
				return err
			}
			if err := checkResult(out(cmd), "Ping", resp.Result); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Echo: %s\n", resp.Message)
			return nil
		},
	}
}

func (a *app) randomCommand() *cli.Command {
	return &cli.Command{
		Name:  "random",
		Usage: "Read random bytes from the chip TRNG",
		Flags: []cli.Flag{&cli.IntFlag{Name: "count", Value: 32, Usage: "number of bytes (0..255)"}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := a.secure(cmd)
			if err != nil {
				return err
			}
			resp, err := dev.RandomValueGet(int(cmd.Int("count")))
			if err != nil {
				return err
			}
			if err := checkResult(out(cmd), "Random_Value_Get", resp.Result); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), hexUpper(resp.Data))
			return nil
		},
	}
}

func (a *app) serialCommand() *cli.Command {
	return &cli.Command{
		Name:  "serial",
		Usage: "Read the 32-byte serial code",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := a.secure(cmd)
			if err != nil {
				return err
			}
			resp, err := dev.SerialCodeGet()
			if err != nil {
				return err
			}
			if err := checkResult(out(cmd), "Serial_Code_Get", resp.Result); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), hexUpper(resp.Data))
			return nil
		},
	}
}

func (a *app) logCommand() *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Print the chip firmware log",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := a.device(cmd)
			if err != nil {
				return err
			}
			log, err := dev.GetLog()
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), log)
			return nil
		},
	}
}

func (a *app) sleepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sleep",
		Usage: "Put the chip to sleep",
		Flags: []cli.Flag{&cli.BoolFlag{Name: "deep", Usage: "deep sleep"}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := a.device(cmd)
			if err != nil {
				return err
			}
			kind := tropic01.SleepKindSleep
			if cmd.Bool("deep") {
				kind = tropic01.SleepKindDeepSleep
			}
			return dev.Sleep(kind)
		},
	}
}

func (a *app) rebootCommand() *cli.Command {
	return &cli.Command{
		Name:  "reboot",
		Usage: "Restart the chip into the application or the bootloader",
		Flags: []cli.Flag{&cli.BoolFlag{Name: "maintenance", Usage: "reboot into maintenance mode"}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := a.device(cmd)
			if err != nil {
				return err
			}
			id := tropic01.StartupReboot
			if cmd.Bool("maintenance") {
				id = tropic01.StartupMaintenanceReboot
			}
			if err := dev.Reboot(id); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Mode: %s\n", dev.Mode())
			return nil
		},
	}
}

func (a *app) pairingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pairing",
		Usage: "Pairing key slots",
		Commands: []*cli.Command{
			{
				Name:  "read",
				Usage: "Read the public key in a pairing slot",
				Flags: []cli.Flag{slotFlag("pairing slot (0..3)")},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					resp, err := dev.PairingKeyRead(tropic01.PairingSlot(cmd.Int("slot")))
					if err != nil {
						return err
					}
					if err := checkResult(out(cmd), "Pairing_Key_Read", resp.Result); err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), hexUpper(resp.PublicKey))
					return nil
				},
			},
			{
				Name:  "write",
				Usage: "Write a host public key into an empty pairing slot",
				Flags: []cli.Flag{
					slotFlag("pairing slot (0..3)"),
					&cli.StringFlag{Name: "key-file", Usage: "hex file holding SHiPUB", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					pub, err := tropic01.LoadKeyHexFile(cmd.String("key-file"))
					if err != nil {
						return err
					}
					slot := tropic01.PairingSlot(cmd.Int("slot"))
					if err := a.confirm(cmd, fmt.Sprintf("Write pairing slot %d", slot)); err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.PairingKeyWrite(slot, pub)
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "Pairing_Key_Write", r)
				},
			},
			{
				Name:  "invalidate",
				Usage: "Permanently invalidate a pairing slot",
				Flags: []cli.Flag{slotFlag("pairing slot (0..3)")},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					slot := tropic01.PairingSlot(cmd.Int("slot"))
					if err := a.confirm(cmd, fmt.Sprintf("Invalidate pairing slot %d permanently", slot)); err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.PairingKeyInvalidate(slot)
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "Pairing_Key_Invalidate", r)
				},
			},
		},
	}
}

func objectFlag() cli.Flag {
	return &cli.StringFlag{Name: "object", Usage: "configuration object name (e.g. CFG_UAP_PING) or address", Required: true}
}

func lookupObject(cmd *cli.Command) (tropic01.ConfigObject, error) {
	o, ok := tropic01.LookupConfigObject(cmd.String("object"))
	if !ok {
		return o, fmt.Errorf("unknown configuration object %q", cmd.String("object"))
	}
	return o, nil
}

func printConfig(w io.Writer, c *tropic01.Config) {
	for i, o := range tropic01.ConfigObjects {
		fmt.Fprintf(w, "0x%03X  %-32s 0x%08X\n", o.Addr, o.Name, c[i])
	}
}

func (a *app) rconfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "rconfig",
		Usage: "Reversible configuration",
		Commands: []*cli.Command{
			{
				Name:  "read",
				Usage: "Read one object, or all of them",
				Flags: []cli.Flag{&cli.StringFlag{Name: "object", Usage: "configuration object (default: all)"}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					if !cmd.IsSet("object") {
						c, r, err := dev.ReadRConfig()
						if err != nil {
							return err
						}
						if err := checkResult(out(cmd), "R_Config_Read", r); err != nil {
							return err
						}
						printConfig(out(cmd), c)
						return nil
					}
					o, err := lookupObject(cmd)
					if err != nil {
						return err
					}
					resp, err := dev.RConfigRead(o.Addr)
					if err != nil {
						return err
					}
					if err := checkResult(out(cmd), "R_Config_Read", resp.Result); err != nil {
						return err
					}
					fmt.Fprintf(out(cmd), "%s = 0x%08X\n", o.Name, resp.Value)
					return nil
				},
			},
			{
				Name:  "write",
				Usage: "Write one object",
				Flags: []cli.Flag{objectFlag(), &cli.StringFlag{Name: "value", Usage: "32-bit value (decimal or 0x hex)", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					o, err := lookupObject(cmd)
					if err != nil {
						return err
					}
					v, err := parseUint32(cmd.String("value"))
					if err != nil {
						return err
					}
					if err := a.confirm(cmd, fmt.Sprintf("Write %s = 0x%08X", o.Name, v)); err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.RConfigWrite(o.Addr, v)
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "R_Config_Write", r)
				},
			},
			{
				Name:  "erase",
				Usage: "Erase the whole reversible configuration",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := a.confirm(cmd, "Erase R-config"); err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.RConfigErase()
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "R_Config_Erase", r)
				},
			},
		},
	}
}

func (a *app) iconfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "iconfig",
		Usage: "Irreversible configuration",
		Commands: []*cli.Command{
			{
				Name:  "read",
				Usage: "Read all objects",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					c, r, err := dev.ReadIConfig()
					if err != nil {
						return err
					}
					if err := checkResult(out(cmd), "I_Config_Read", r); err != nil {
						return err
					}
					printConfig(out(cmd), c)
					return nil
				},
			},
			{
				Name:  "write",
				Usage: "Irreversibly change one bit of an object",
				Flags: []cli.Flag{objectFlag(), &cli.IntFlag{Name: "bit", Usage: "bit index (0..31)", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					o, err := lookupObject(cmd)
					if err != nil {
						return err
					}
					bit := cmd.Int("bit")
					if bit < 0 || bit > tropic01.IConfigBitMax {
						return fmt.Errorf("--bit must be 0..%d", tropic01.IConfigBitMax)
					}
					if err := a.confirm(cmd, fmt.Sprintf("Irreversibly set bit %d of %s", bit, o.Name)); err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.IConfigWrite(o.Addr, uint8(bit))
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "I_Config_Write", r)
				},
			},
		},
	}
}

func (a *app) memCommand() *cli.Command {
	return &cli.Command{
		Name:  "mem",
		Usage: "User data slots",
		Commands: []*cli.Command{
			{
				Name:  "read",
				Usage: "Read a user data slot",
				Flags: []cli.Flag{slotFlag("user data slot (0..511)")},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					resp, err := dev.RMemDataRead(uint16(cmd.Int("slot")))
					if err != nil {
						return err
					}
					if err := checkResult(out(cmd), "R_Mem_Data_Read", resp.Result); err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), hexUpper(resp.Data))
					return nil
				},
			},
			{
				Name:  "write",
				Usage: "Write an empty user data slot",
				Flags: append([]cli.Flag{slotFlag("user data slot (0..511)")}, dataFlags()...),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					data, err := payload(cmd)
					if err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.RMemDataWrite(uint16(cmd.Int("slot")), data)
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "R_Mem_Data_Write", r)
				},
			},
			{
				Name:  "erase",
				Usage: "Erase a user data slot",
				Flags: []cli.Flag{slotFlag("user data slot (0..511)")},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					slot := cmd.Int("slot")
					if err := a.confirm(cmd, fmt.Sprintf("Erase user data slot %d", slot)); err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.RMemDataErase(uint16(slot))
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "R_Mem_Data_Erase", r)
				},
			},
		},
	}
}

func indexFlag() cli.Flag {
	return &cli.IntFlag{Name: "index", Usage: "counter index (0..15)", Required: true}
}

func (a *app) mcounterCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcounter",
		Usage: "Monotonic counters",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Set a counter",
				Flags: []cli.Flag{indexFlag(), &cli.StringFlag{Name: "value", Usage: "start value", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					v, err := parseUint32(cmd.String("value"))
					if err != nil {
						return err
					}
					idx := cmd.Int("index")
					if err := a.confirm(cmd, fmt.Sprintf("Set counter %d to %d", idx, v)); err != nil {
						return err
					}
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.MCounterInit(uint16(idx), v)
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "MCounter_Init", r)
				},
			},
			{
				Name:  "update",
				Usage: "Decrement a counter",
				Flags: []cli.Flag{indexFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					r, err := dev.MCounterUpdate(uint16(cmd.Int("index")))
					if err != nil {
						return err
					}
					return checkResult(out(cmd), "MCounter_Update", r)
				},
			},
			{
				Name:  "get",
				Usage: "Read a counter",
				Flags: []cli.Flag{indexFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dev, err := a.secure(cmd)
					if err != nil {
						return err
					}
					resp, err := dev.MCounterGet(uint16(cmd.Int("index")))
					if err != nil {
						return err
					}
					if err := checkResult(out(cmd), "MCounter_Get", resp.Result); err != nil {
						return err
					}
					fmt.Fprintf(out(cmd), "Value: %d\n", resp.Value)
					return nil
				},
			},
		},
	}
}

func (a *app) macAndDestroyCommand() *cli.Command {
	return &cli.Command{
		Name:  "mac-and-destroy",
		Usage: "Run MAC-and-destroy on a slot (the slot secret is consumed)",
		Flags: []cli.Flag{
			slotFlag("MAC-and-destroy slot (0..127)"),
			&cli.StringFlag{Name: "hex", Usage: "32-byte input as hex", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			data, err := hex.DecodeString(strings.TrimSpace(cmd.String("hex")))
			if err != nil {
				return fmt.Errorf("--hex: %w", err)
			}
			slot := cmd.Int("slot")
			if err := a.confirm(cmd, fmt.Sprintf("Consume MAC-and-destroy slot %d", slot)); err != nil {
				return err
			}
			dev, err := a.secure(cmd)
			if err != nil {
				return err
			}
			resp, err := dev.MACAndDestroy(uint16(slot), data)
			if err != nil {
				return err
			}
			if err := checkResult(out(cmd), "MAC_And_Destroy", resp.Result); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), hexUpper(resp.Data))
			return nil
		},
	}
}
