package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/r0bb10/phone-bridge/internal/app"
	"github.com/r0bb10/phone-bridge/internal/config"
	"github.com/r0bb10/phone-bridge/internal/gpio"
	"github.com/r0bb10/phone-bridge/internal/logging"
)

// FirmwareVersion is injected at build time via -ldflags
var FirmwareVersion = "dev"

func main() {
	configFile := pflag.StringP("config", "c", "config.json", "path to the configuration file")
	debug := pflag.BoolP("debug", "d", false, "enable debug logging")
	fakeGPIO := pflag.Bool("fake-gpio", false, "use in-memory GPIO instead of a chip (development only)")
	pflag.Parse()

	// Determine configuration file path from command line or use default
	path := *configFile
	if !pflag.CommandLine.Changed("config") && pflag.NArg() > 0 {
		path = pflag.Arg(0)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Critical: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(*debug || cfg.Debug)
	defer log.Sync()
	log.Infow("Phone Bridge starting", "version", FirmwareVersion, "config", path)

	opts := app.Options{ConfigPath: path, Version: FirmwareVersion}
	if *fakeGPIO {
		pins := gpio.NewFake()
		pins.Set(cfg.Handset.Pin, 1) // handset on hook
		opts.Pins = pins
		log.Warnw("using in-memory GPIO, no hardware will be touched")
	}

	a, err := app.New(cfg, opts, log)
	if err != nil {
		log.Fatalw("Critical: hardware setup failed", "error", err)
	}

	// Initialize MQTT connection
	if err := a.ConnectMQTT(); err != nil {
		a.Shutdown()
		log.Fatalw("MQTT initialization failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	// Setup signal handling for graceful shutdown and config reload
	log.Infow("Running. Press Ctrl+C to exit, or send SIGHUP to reload config.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	exitCode := 0
loop:
	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				log.Infow("Received SIGHUP - Reloading configuration...")
				if err := a.Reload(); err != nil {
					log.Errorw("Reload failed", "error", err)
				}
				continue
			}
			cancel()
			if err := <-runErr; err != nil {
				log.Errorw("run failed", "error", err)
				exitCode = 1
			}
			break loop
		case err := <-runErr:
			if err != nil {
				log.Errorw("run failed", "error", err)
				exitCode = 1
			}
			cancel()
			break loop
		}
	}

	// Graceful shutdown
	log.Infow("Shutting down...")
	if err := a.Shutdown(); err != nil {
		log.Errorw("Shutdown error", "error", err)
	}
	if exitCode != 0 {
		log.Sync()
		os.Exit(exitCode)
	}
}
