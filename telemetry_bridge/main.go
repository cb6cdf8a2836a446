// telemetry_bridge forwards MAVLink telemetry from a serial radio link to
// a PlotJuggler UDP server as periodic msgpack (or cbor) snapshots.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"telemetry-bridge/utils"
)

func main() {
	var flags flagValues
	fs := newFlagSet(&flags)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := LoadConfig(flags.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg.applyFlags(fs, &flags)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	level, _ := utils.ParseLogLevel(cfg.Log.Level)
	log, err := utils.NewFileLogger(cfg.Log.File, level, *cfg.Log.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open %s: %v\n", cfg.Log.File, err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("startup failed", "err", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("run failed", "err", err)
		runner.Close()
		log.Close()
		os.Exit(1)
	}
}
