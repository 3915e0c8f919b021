package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/barnettlynn/tropictools/internal/config"
	"github.com/barnettlynn/tropictools/internal/connect"
	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// app carries what the subcommands share: the metrics registry and the
// connection, opened on first use.
type app struct {
	reg     *prometheus.Registry
	metrics *tropic01.Metrics
	cfg     *config.Config
	conn    *connect.Connection
	stdin   io.Reader
}

func newApp() *app {
	reg := prometheus.NewRegistry()
	return &app{reg: reg, metrics: tropic01.NewMetrics(reg, "host"), stdin: os.Stdin}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:  "tropic",
		Usage: "TROPIC01 secure element host tool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.yaml (default: next to the executable, then the working directory)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
			&cli.StringFlag{Name: "log-format", Value: "text", Usage: "log format: text or json"},
			&cli.StringFlag{Name: "metrics-file", Usage: "write protocol metrics in text format to this file on exit"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip confirmation of destructive commands"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd.Bool("verbose"), cmd.String("log-format"))
			return ctx, nil
		},
		After: a.finish,
		Commands: []*cli.Command{
			a.infoCommand(),
			a.pingCommand(),
			a.randomCommand(),
			a.serialCommand(),
			a.logCommand(),
			a.sleepCommand(),
			a.rebootCommand(),
			a.pairingCommand(),
			a.rconfigCommand(),
			a.iconfigCommand(),
			a.memCommand(),
			a.eccCommand(),
			a.mcounterCommand(),
			a.macAndDestroyCommand(),
			a.fwCommand(),
			a.keygenCommand(),
		},
	}
}

func setupLogging(verbose bool, format string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}
}

// finish aborts any session, closes the connection and dumps metrics.
func (a *app) finish(ctx context.Context, cmd *cli.Command) error {
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			slog.Warn("close connection", "error", err)
		}
		a.conn = nil
	}
	if path := cmd.String("metrics-file"); path != "" {
		if err := prometheus.WriteToTextfile(path, a.reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func (a *app) loadConfig(cmd *cli.Command, mode config.ValidationMode) (*config.Config, error) {
	path, err := config.Resolve(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	slog.Debug("using config", "path", path)
	return config.LoadWithMode(path, mode)
}

// device returns an initialized device without a secure session.
func (a *app) device(cmd *cli.Command) (*tropic01.Device, error) {
	if a.conn != nil {
		return a.conn.Device, nil
	}
	cfg, err := a.loadConfig(cmd, config.ValidationTransport)
	if err != nil {
		return nil, err
	}
	conn, err := connect.Open(cfg.Transport, a.metrics)
	if err != nil {
		return nil, err
	}
	a.cfg, a.conn = cfg, conn
	return conn.Device, nil
}

// secure returns a device with a secure session on the configured slot.
func (a *app) secure(cmd *cli.Command) (*tropic01.Device, error) {
	cfg, err := a.loadConfig(cmd, config.ValidationFull)
	if err != nil {
		return nil, err
	}
	if a.conn == nil {
		conn, err := connect.Open(cfg.Transport, a.metrics)
		if err != nil {
			return nil, err
		}
		a.conn = conn
	}
	a.cfg = cfg
	if err := a.conn.StartSession(cfg.Session); err != nil {
		return nil, err
	}
	return a.conn.Device, nil
}

func main() {
	if err := newApp().command().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
