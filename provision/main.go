package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/barnettlynn/tropictools/internal/config"
	"github.com/barnettlynn/tropictools/internal/connect"
)

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "path to config.yaml (default: next to the executable, then the working directory)")
	eraseRConfig := flag.Bool("erase-rconfig", false, "erase R-config before writing the profile's objects")
	reportURL := flag.String("report-url", "", "POST a JSON provisioning report here (token from PROVISION_REPORT_TOKEN)")
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

	path, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("resolve config path failed: %v", err)
	}
	fmt.Printf("Using config: %s\n", path)

	cfg, err := config.LoadWithMode(path, config.ValidationProvision)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	conn, err := connect.Open(cfg.Transport, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	fmt.Printf("Using %s\n", conn.Label)

	id, err := conn.Device.GetChipID()
	if err != nil {
		log.Fatalf("read chip id failed: %v", err)
	}
	fmt.Printf("Chip S/N: %s (%s)\n", id.SerialNumber, conn.Device.Revision())

	if err := conn.StartSession(cfg.Session); err != nil {
		log.Fatalf("start session failed: %v", err)
	}

	fmt.Println("Provisioning chip...")
	results, runErr := provisionChip(conn.Device, cfg.Provision, *eraseRConfig)
	fmt.Println()
	failed := printResults(os.Stdout, results)

	if *reportURL != "" {
		firmware := ""
		if fw := conn.Device.Firmware(); fw != nil {
			firmware = fw.String()
		}
		rep := newReport(id.SerialNumber.String(), conn.Device.Revision().String(), firmware, hexUpper(id.BatchID[:]), results)
		if runErr != nil {
			rep.Succeeded = false
		}
		fmt.Printf("Sending report to %s\n", *reportURL)
		if err := sendReport(*reportURL, os.Getenv("PROVISION_REPORT_TOKEN"), rep); err != nil {
			slog.Error("report failed", "error", err)
		}
	}

	if runErr != nil {
		log.Fatalf("provisioning stopped: %v", runErr)
	}
	if failed > 0 {
		fmt.Printf("%d of %d steps were refused by the chip\n", failed, len(results))
		os.Exit(1)
	}
	fmt.Println("Chip provisioned successfully!")
}
