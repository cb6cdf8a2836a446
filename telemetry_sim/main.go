// telemetry_sim replays a scenario of CAN signal values as a MAVLink
// stream, the way a vehicle radio would feed telemetry_bridge.
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
	fs := pflag.NewFlagSet("telemetry_sim", pflag.ContinueOnError)
	var (
		port     = fs.StringP("port", "p", "-", "serial port to write, or - for stdout")
		baud     = fs.IntP("baud", "b", 115200, "serial baud rate")
		mapPath  = fs.StringP("signals", "s", "config/can/signals.csv", "signal table (.csv or .dbc)")
		scenPath = fs.String("scenario", "telemetry_sim/scenarios/motor_sweep.yaml", "scenario file (YAML or JSON)")
		iface    = fs.String("can-iface", "", "also transmit frames on this SocketCAN interface")
		loop     = fs.Bool("loop", false, "restart the scenario when it ends")
		logLevel = fs.String("log", "info", "trace|debug|info|warn|error|critical")
		logFile  = fs.String("log-file", "telemetry_sim.log", "log file path")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	level, err := utils.ParseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	// stdout carries the stream itself, so logs only go to stdout when
	// writing to a serial port.
	log, err := utils.NewFileLogger(*logFile, level, *port != "-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open %s: %v\n", *logFile, err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, RunnerConfig{
		Port:         *port,
		Baud:         *baud,
		MapPath:      *mapPath,
		ScenarioPath: *scenPath,
		CANIface:     *iface,
		Loop:         *loop,
	}, log)
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
