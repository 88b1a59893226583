// Agentic C-EDA sentinel daemon.
//
// Tails the host's system logs, reduces them to normalized security
// events, batches each activity window through a local LLM for a
// verdict, and records flags for operator triage. Unless disabled in
// config it also runs the PTY session service and installs the
// iptables LOG sensor.
//
// Usage:
//
//	sentinel-daemon --config /etc/agentic-c-eda/config.yaml
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/daemon"
)

var (
	flagConfig  = flag.String("config", "", "Config file path (YAML); empty uses built-in defaults")
	flagVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		log.Printf("sentinel-daemon %s", daemon.Version)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Shutdown signal: %v", sig)
		cancel()
	}()

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer d.Close()

	if err := d.Run(ctx); err != nil {
		log.Fatalf("Daemon failed: %v", err)
	}
}
