package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/barnettlynn/tropictools/internal/config"
	"github.com/barnettlynn/tropictools/internal/connect"
	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "path to config.yaml (default: next to the executable, then the working directory)")
	newKeyFile := flag.String("new-key-file", "", "private key for the target slot (generated and written here when the file does not exist)")
	invalidateOld := flag.Bool("invalidate-old", false, "invalidate the configured slot once the new key works")
	probeDir := flag.String("probe-dir", "", "only report which .hex keys in this directory open which slots")
	flag.Parse()

	// Configure slog
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	if *probeDir == "" && strings.TrimSpace(*newKeyFile) == "" {
		fmt.Println("Error: -new-key-file is required")
		os.Exit(1)
	}

	fmt.Println("=== TROPIC01 Pairing Key Tool ===")
	fmt.Println()

	path, err := config.Resolve(*configPath)
	if err != nil {
		fmt.Printf("Error resolving config path: %v\n", err)
		os.Exit(1)
	}
	mode := config.ValidationFull
	if *probeDir != "" {
		mode = config.ValidationTransport
	}
	cfg, err := config.LoadWithMode(path, mode)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	conn, err := connect.Open(cfg.Transport, nil)
	if err != nil {
		fmt.Printf("Error opening device: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("Using %s\n", conn.Label)

	stpub, err := conn.ChipPublicKey(cfg.Session)
	if err != nil {
		fmt.Printf("Error reading STPUB: %v\n", err)
		os.Exit(1)
	}

	if *probeDir != "" {
		results, err := probeKeys(conn.Device, stpub, *probeDir)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		printProbe(os.Stdout, results)
		return
	}

	oldKey, err := connect.PairingKey(cfg.Session)
	if err != nil {
		fmt.Printf("Error loading pairing key: %v\n", err)
		os.Exit(1)
	}
	if err := conn.Device.StartSession(stpub, oldKey); err != nil {
		fmt.Printf("Handshake on slot %d failed: %v\n", oldKey.Slot, err)
		os.Exit(1)
	}

	slots, err := readSlots(conn.Device)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Pairing slot status:")
	fmt.Println("Slot | Status")
	fmt.Println("-----|---------------------------")
	var items []menuItem
	for _, s := range slots {
		mark := ""
		if s.slot == oldKey.Slot {
			mark = " (current session)"
		}
		fmt.Printf("  %d  | %s%s\n", s.slot, s.status(), mark)
		items = append(items, menuItem{
			label:   fmt.Sprintf("%d - %s%s", s.slot, s.status(), mark),
			enabled: s.result == tropic01.ResultSlotEmpty,
		})
	}
	fmt.Println()

	idx := selectSlot("Select an empty slot for the new key (q to cancel):", items)
	if idx < 0 {
		fmt.Println("No slot selected.")
		os.Exit(1)
	}
	target := slots[idx]

	newKey, created, err := loadOrCreateKey(*newKeyFile, target.slot)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("Generated new key in %s\n", *newKeyFile)
	}
	fmt.Printf("SHiPUB: %s\n", hexUpper(newKey.PublicKey()))

	fmt.Println()
	prompt := fmt.Sprintf("Write the new key into slot %d", target.slot)
	if *invalidateOld {
		prompt += fmt.Sprintf(" and invalidate slot %d", oldKey.Slot)
	}
	fmt.Printf("%s? (y/n): ", prompt)
	reader := bufio.NewReader(os.Stdin)
	confirmInput, err := reader.ReadString('\n')
	if err != nil {
		fmt.Printf("Error reading input: %v\n", err)
		os.Exit(1)
	}
	confirmInput = strings.ToLower(strings.TrimSpace(confirmInput))
	if confirmInput != "y" && confirmInput != "yes" {
		fmt.Println("Cancelled.")
		os.Exit(0)
	}

	fmt.Println()
	fmt.Println("Writing key...")
	if err := swapPairingKey(conn.Device, stpub, oldKey, newKey, *invalidateOld); err != nil {
		fmt.Printf("Pairing key change failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("SUCCESS: slot %d holds the new key and a handshake with it succeeded\n", newKey.Slot)
	if *invalidateOld {
		fmt.Printf("Slot %d invalidated\n", oldKey.Slot)
	}
	fmt.Printf("Update config.session to pairing_slot: %d, pairing_private_key_file: %s\n", newKey.Slot, *newKeyFile)
}

// loadOrCreateKey reads the key at path, or generates one and stores it there.
func loadOrCreateKey(path string, slot tropic01.PairingSlot) (*tropic01.PairingKey, bool, error) {
	if _, err := os.Stat(path); err == nil {
		key, err := tropic01.LoadPairingKey(path, slot)
		return key, false, err
	}
	key, err := tropic01.GeneratePairingKey(rand.Reader, slot)
	if err != nil {
		return nil, false, err
	}
	if err := tropic01.WriteKeyHexFile(path, key.Private.Bytes()); err != nil {
		return nil, false, fmt.Errorf("write %s: %w", path, err)
	}
	return key, true, nil
}
