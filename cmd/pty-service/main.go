// Standalone PTY session service.
//
// Runs interactive commands in real pseudo-terminals on behalf of the
// daemon and the dashboard, multiplexing sessions over a Unix socket
// with newline-delimited JSON framing. Normally the daemon hosts this
// in-process; the standalone binary exists for split deployments where
// the dashboard runs under a different service account.
//
// Usage:
//
//	pty-service --socket /tmp/agentic-c-eda-pty.sock
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/agentic-c-eda/sentinel/internal/ptyservice"
)

var flagSocket = flag.String("socket", "", "Unix socket path (or AGENT_PTY_SOCKET env)")

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	socket := *flagSocket
	if socket == "" {
		socket = os.Getenv("AGENT_PTY_SOCKET")
	}
	if socket == "" {
		socket = "/tmp/agentic-c-eda-pty.sock"
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

	if err := ptyservice.NewService(socket).Start(ctx); err != nil {
		log.Fatalf("PTY service failed: %v", err)
	}
}
