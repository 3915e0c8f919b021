package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
	"github.com/barnettlynn/tropictools/pkg/tropic01/model"
)

func main() {
	var (
		listen        = flag.String("listen", tropic01.DefaultModelAddr, "Model server address")
		metricsListen = flag.String("metrics-listen", "127.0.0.1:9428", "Prometheus /metrics address (empty disables)")
		seed          = flag.String("seed", "", "Identity seed; the same seed gives the same chip keys and certificates")
		revision      = flag.String("revision", "ACAB", "Silicon revision: ABAB or ACAB")
		pairingPub    = flag.String("pairing-pub-file", "", "Host public key (.hex) to pre-provision")
		pairingSlot   = flag.Int("pairing-slot", 1, "Pairing slot for -pairing-pub-file")
		signerFile    = flag.String("fw-signer-file", "", "Ed25519 public key (.hex) that signs ACAB firmware updates")
		maintenance   = flag.Bool("maintenance", false, "Start in maintenance mode")
		verbose       = flag.Bool("v", false, "Enable debug logging")
		logFormat     = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

	// Setup logging
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

	rev, err := tropic01.ParseRevision(*revision)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	chipOpts := []model.Option{
		model.WithRevision(rev),
		model.WithMetrics(tropic01.NewMetrics(reg, "model")),
	}
	if *seed != "" {
		chipOpts = append(chipOpts, model.WithSeed([]byte(*seed)))
	}
	if *maintenance {
		chipOpts = append(chipOpts, model.WithMaintenance())
	}
	if *pairingPub != "" {
		if *pairingSlot < 1 || *pairingSlot > tropic01.PairingSlotMax {
			fmt.Fprintf(os.Stderr, "Error: -pairing-slot must be 1..%d (slot 0 holds the engineering key)\n", tropic01.PairingSlotMax)
			os.Exit(1)
		}
		pub, err := tropic01.LoadPublicKeyFile(*pairingPub)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading pairing key: %v\n", err)
			os.Exit(1)
		}
		chipOpts = append(chipOpts, model.WithPairingKey(tropic01.PairingSlot(*pairingSlot), pub.Bytes()))
	}
	if *signerFile != "" {
		raw, err := tropic01.LoadKeyHexFile(*signerFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading firmware signer: %v\n", err)
			os.Exit(1)
		}
		chipOpts = append(chipOpts, model.WithFirmwareSigner(ed25519.PublicKey(raw)))
	}

	chip, err := model.New(chipOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating chip: %v\n", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var metricsLn net.Listener
	if *metricsListen != "" {
		if metricsLn, err = net.Listen("tcp", *metricsListen); err != nil {
			ln.Close()
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("TROPIC01 model (%s) listening on %s\n", rev, ln.Addr())
	fmt.Printf("STPUB:   %X\n", chip.StaticPublicKey().Bytes())
	if metricsLn != nil {
		fmt.Printf("Metrics: http://%s/metrics\n", metricsLn.Addr())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, chip, ln, metricsLn, reg); err != nil {
		slog.Error("emulator stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("emulator stopped")
}

// run serves the chip on ln and, when metricsLn is set, the registry on
// /metrics until ctx is done.
func run(ctx context.Context, chip *model.Chip, ln, metricsLn net.Listener, reg *prometheus.Registry) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return model.Serve(ctx, ln, chip)
	})
	if metricsLn == nil {
		return g.Wait()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := srv.Serve(metricsLn); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
