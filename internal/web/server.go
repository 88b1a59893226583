// Package web serves the operator dashboard API: REST endpoints over
// the store, SSE streams for live views, the chat agent, and the
// WebSocket terminal bridged to the PTY service. It runs as its own
// process and shares the store file and PTY socket with the daemon.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentic-c-eda/sentinel/internal/agent"
	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/logbuffer"
	"github.com/agentic-c-eda/sentinel/internal/notify"
	"github.com/agentic-c-eda/sentinel/internal/ptyservice"
	"github.com/agentic-c-eda/sentinel/internal/reasoning"
	"github.com/agentic-c-eda/sentinel/internal/store"
)

// Version is stamped at build time via -ldflags.
var Version = "1.0.0"

// pendingTTL is how long a prepared terminal command stays claimable.
const pendingTTL = 5 * time.Minute

type pendingCommand struct {
	command string
	created time.Time
}

// Server is the dashboard process state shared across handlers.
type Server struct {
	cfg       *config.Config
	db        *store.Store
	logs      *logbuffer.Buffer
	llm       *reasoning.Client
	engine    *agent.Engine
	proposals *agent.ProposalExecutor
	notifier  *notify.Notifier
	pty       *ptyservice.Client
	metrics   *metrics
	log       *log.Logger

	apiKey string

	mu      sync.Mutex
	pending map[string]pendingCommand

	wg sync.WaitGroup
}

// NewServer wires the dashboard over an open store.
func NewServer(cfg *config.Config, db *store.Store) *Server {
	logs := logbuffer.New(logbuffer.DefaultCapacity)
	logger := log.New(newLogWriter(logs), "[web] ", log.LstdFlags)

	llm := reasoning.NewClient(cfg, db)
	s := &Server{
		cfg:       cfg,
		db:        db,
		logs:      logs,
		llm:       llm,
		engine:    agent.New(db, llm),
		proposals: agent.NewProposalExecutor(db),
		notifier:  notify.New(db),
		pty:       ptyservice.NewClient(cfg.PTYSocketPath()),
		log:       logger,
		pending:   make(map[string]pendingCommand),
	}
	s.metrics = newMetrics(s)
	llm.OnCallDuration = s.metrics.observeLLMCall
	s.apiKey = resolveAPIKey(logger)
	return s
}

// newLogWriter tees log output to stdout and the log ring so dashboard
// lines show up both on the console and in /api/logs.
func newLogWriter(logs *logbuffer.Buffer) *teeWriter {
	return &teeWriter{ring: logs.Writer("WEB")}
}

type teeWriter struct {
	ring *logbuffer.LineWriter
}

func (t *teeWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return t.ring.Write(p)
}

// Handler returns the routed handler with auth and metrics middleware
// applied. Split from Run so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handlePurgeEvents).Methods(http.MethodDelete)
	r.HandleFunc("/api/events/stream", s.handleEventsStream).Methods(http.MethodGet)

	r.HandleFunc("/api/decisions", s.handleDecisions).Methods(http.MethodGet)
	r.HandleFunc("/api/decisions", s.handlePurgeDecisions).Methods(http.MethodDelete)
	r.HandleFunc("/api/decisions/stream", s.handleDecisionsStream).Methods(http.MethodGet)

	r.HandleFunc("/api/flags", s.handleFlags).Methods(http.MethodGet)
	r.HandleFunc("/api/flags/stream", s.handleFlagsStream).Methods(http.MethodGet)
	r.HandleFunc("/api/flags/{id:[0-9]+}/resolve", s.handleResolveFlag).Methods(http.MethodPost)
	r.HandleFunc("/api/flags/{id:[0-9]+}/dismiss", s.handleDismissFlag).Methods(http.MethodPost)

	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handlePutConfig).Methods(http.MethodPut)
	r.HandleFunc("/api/test-connection", s.handleTestConnection).Methods(http.MethodPost)
	r.HandleFunc("/api/notifications/test/telegram", s.handleTestTelegram).Methods(http.MethodPost)
	r.HandleFunc("/api/notifications/test/bark", s.handleTestBark).Methods(http.MethodPost)

	r.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/api/chat/history", s.handleChatHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/chat/history", s.handleClearChatHistory).Methods(http.MethodDelete)

	r.HandleFunc("/api/proposals/execute", s.handleExecuteProposal).Methods(http.MethodPost)
	r.HandleFunc("/api/execute", s.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/api/execute/retry", s.handleExecuteRetry).Methods(http.MethodPost)

	r.HandleFunc("/api/terminal/prepare", s.handleTerminalPrepare).Methods(http.MethodPost)
	r.HandleFunc("/ws/terminal/{id}", s.handleTerminalWS).Methods(http.MethodGet)

	r.HandleFunc("/api/logs", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/logs", s.handleClearLogs).Methods(http.MethodDelete)
	r.HandleFunc("/api/logs/stream", s.handleLogsStream).Methods(http.MethodGet)

	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	return s.requireAuth(r)
}

// Run serves the API until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	s.wg.Add(1)
	go s.watchActivityLogs(ctx)

	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
		// No WriteTimeout: SSE and WebSocket connections are long-lived.
		ReadHeaderTimeout: 10 * time.Second,
		// Cancelling ctx cancels every request context, which is what
		// ends the SSE poll loops at shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Printf("dashboard listening on %s", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Printf("dashboard shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutCtx)
	s.wg.Wait()
	return err
}
