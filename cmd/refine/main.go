// Package main is the entry point for the refine client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/refinelabs/refine/internal/client"
	"github.com/refinelabs/refine/internal/config"
	"github.com/refinelabs/refine/internal/logging"
	"github.com/refinelabs/refine/internal/prereq"
	"github.com/refinelabs/refine/internal/watch"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "path to TOML config file")
		workspace   = flag.String("workspace", "", "workspace root (overrides config)")
		artifact    = flag.String("artifact", "", "engine artifact path (overrides config)")
		debugPort   = flag.Int("debug-port", 0, "attach to an already-running engine on this port")
		logLevel    = flag.String("log-level", "", "minimum log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("refine %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *workspace != "" {
		cfg.Workspace = *workspace
	}
	if *artifact != "" {
		cfg.ArtifactPath = *artifact
	}
	if *debugPort != 0 {
		cfg.DebugPort = *debugPort
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
	})

	c := client.New(cfg, log,
		prereq.NewFSChecker(cfg.ArtifactPath),
		&statusLine{out: os.Stdout},
		&detailView{out: os.Stdout},
	)

	// Ensure teardown on all exit paths.
	defer c.Stop("client exiting")

	if err := c.Activate(context.Background()); err != nil {
		if errors.Is(err, client.ErrPrerequisiteMissing) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Install the engine artifact and runtime, then try again.")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}

	// Saves flip the status to Loading until the next diagnostics round.
	watcher, err := watch.New(cfg.Workspace, func(string) { c.DocumentSaved() }, log)
	if err != nil {
		log.Warn("save watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	// Handle signals for graceful shutdown.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		c.Stop(fmt.Sprintf("received %s", sig))
	case <-c.Done():
	}

	<-c.Done()
	return 0
}
