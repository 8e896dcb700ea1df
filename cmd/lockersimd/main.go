// Command lockersimd runs the Locker engine against an in-memory simulated
// cluster and drives one or more of the scenarios in scenarios.go, logging
// every state transition. It exists to demonstrate and exercise the lock
// state machines end to end without a real cluster, journal, or client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdslocker/lockerd/internal/logger"
	"github.com/mdslocker/lockerd/pkg/locker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `lockersimd - Locker engine simulation runner

Usage:
  lockersimd [flags]

Flags:
  --config string      Path to a locker config file (yaml)
  --scenario string    Name of a single scenario to run (default: run all)
  --list                List available scenario names and exit
  --log-level string    DEBUG, INFO, WARN, or ERROR (default: INFO)
  --debug-addr string   If set, after running --scenario or --script keep
                         the cluster alive and serve lock-cell/capability
                         state as JSON on this address for cmd/lockerctl.
  --script string       Path to a YAML scenario script (see script.go) to
                         run instead of a built-in --scenario.

Examples:
  lockersimd --list
  lockersimd --scenario read-cache-revocation
  lockersimd --scenario dentry-xlock-replicas --debug-addr localhost:8099
  lockersimd --script testdata/open-then-write.yaml
  LOCKERD_CAP_HYSTERESIS_WINDOW=5s lockersimd --scenario cap-hysteresis
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "help" || os.Args[1] == "--help" || os.Args[1] == "-h") {
		fmt.Print(usage)
		os.Exit(0)
	}
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("lockersimd %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	flags := flag.NewFlagSet("lockersimd", flag.ExitOnError)
	configFile := flags.String("config", "", "Path to a locker config file (yaml)")
	scenarioName := flags.String("scenario", "", "Name of a single scenario to run (default: run all)")
	list := flags.Bool("list", false, "List available scenario names and exit")
	logLevel := flags.String("log-level", "INFO", "DEBUG, INFO, WARN, or ERROR")
	debugAddr := flags.String("debug-addr", "", "Serve lock-cell state as JSON on this address after running --scenario")
	scriptPath := flags.String("script", "", "Path to a YAML scenario script to run instead of a built-in --scenario")

	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	if *list {
		for _, s := range scenarios {
			fmt.Println(s.name)
		}
		return
	}

	if err := logger.Init(logger.Config{Level: *logLevel, Format: "text", Output: "stdout"}); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	cfg, err := locker.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load locker config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		signal.Stop(sigChan)
		logger.Info("interrupt received, shutting down")
		cancel()
	}()

	if *scriptPath != "" {
		sf, err := loadScript(*scriptPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		c, err := runScript(ctx, cfg, sf)
		if err != nil {
			log.Fatalf("script %q failed: %v", *scriptPath, err)
		}
		finish(ctx, c, *debugAddr)
		return
	}

	toRun, err := selectScenarios(*scenarioName)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if *debugAddr != "" && len(toRun) != 1 {
		log.Fatalf("--debug-addr requires --scenario or --script to name exactly one run")
	}

	for i, s := range toRun {
		logger.Info("running scenario", "scenario", s.name)
		c := s.run(ctx, cfg)
		logger.Info("scenario finished", "scenario", s.name)

		if i == len(toRun)-1 {
			finish(ctx, c, *debugAddr)
			return
		}
		c.close()
	}
}

// finish serves the debug listener on addr if set (blocking until the
// context is canceled), then closes the cluster.
func finish(ctx context.Context, c *cluster, addr string) {
	if addr != "" {
		if err := serveDebug(ctx, addr, c.cache); err != nil {
			log.Fatalf("debug listener stopped: %v", err)
		}
	}
	c.close()
}

// selectScenarios returns every scenario when name is empty, or the single
// scenario matching name, or an error if name matches nothing.
func selectScenarios(name string) ([]scenario, error) {
	if name == "" {
		return scenarios, nil
	}
	for _, s := range scenarios {
		if s.name == name {
			return []scenario{s}, nil
		}
	}
	return nil, fmt.Errorf("unknown scenario %q (use --list to see available scenarios)", name)
}
