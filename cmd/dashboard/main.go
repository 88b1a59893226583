// Web dashboard for the Agentic C-EDA sentinel.
//
// Serves the operator API over HTTP: live event/decision/flag streams,
// agent chat with tool calls and approval-gated proposals, command
// execution with PTY-backed interactive terminals, runtime config, and
// Prometheus metrics. Shares the store file and PTY socket with the
// daemon; runs as a separate process so a dashboard restart never
// interrupts monitoring.
//
// Usage:
//
//	dashboard --config /etc/agentic-c-eda/config.yaml --listen :8000
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
	"github.com/agentic-c-eda/sentinel/internal/store"
	"github.com/agentic-c-eda/sentinel/internal/web"
)

var (
	flagConfig  = flag.String("config", "", "Config file path (YAML); empty uses built-in defaults")
	flagListen  = flag.String("listen", "", "Listen address override (e.g. :8000)")
	flagVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		log.Printf("dashboard %s", web.Version)
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
	if *flagListen != "" {
		cfg.ListenAddr = *flagListen
	}

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Shutdown signal: %v", sig)
		cancel()
	}()

	if err := web.NewServer(cfg, db).Run(ctx); err != nil {
		log.Fatalf("Dashboard failed: %v", err)
	}
}
