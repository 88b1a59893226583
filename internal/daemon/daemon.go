// Package daemon wires the sentinel subsystems into one long-running
// process: the log watchdog feeds an event buffer that is flushed to
// the LLM analyzer on a timed window, verdicts and flags land in the
// store, and the PTY service and firewall sensor run alongside.
package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	systemddaemon "github.com/coreos/go-systemd/v22/daemon"

	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/discovery"
	"github.com/agentic-c-eda/sentinel/internal/firewall"
	"github.com/agentic-c-eda/sentinel/internal/notify"
	"github.com/agentic-c-eda/sentinel/internal/ptyservice"
	"github.com/agentic-c-eda/sentinel/internal/reasoning"
	"github.com/agentic-c-eda/sentinel/internal/store"
	"github.com/agentic-c-eda/sentinel/internal/watchdog"
)

// Version is stamped at build time via -ldflags.
var Version = "1.0.0"

const (
	// retentionSweepInterval is how often old events and decisions are
	// purged from the store.
	retentionSweepInterval = 6 * time.Hour

	// maintenanceInterval drives filter refreshes and the pipeline
	// stats snapshot the dashboard reads.
	maintenanceInterval = 30 * time.Second

	// drainTimeout bounds how long shutdown waits for background
	// goroutines before giving up.
	drainTimeout = 30 * time.Second
)

var (
	reEventSource = regexp.MustCompile(`Source=([^\s]+)`)
	reEventPort   = regexp.MustCompile(`Port=(\d+)`)
)

// Daemon is the sentinel process. Create with New, drive with Run,
// release with Close.
type Daemon struct {
	cfg *config.Config
	db  *store.Store

	watchdog  *watchdog.Watchdog
	llm       *reasoning.Client
	analyzer  *reasoning.Analyzer
	discovery *discovery.Discovery
	firewall  *firewall.Controller
	notifier  *notify.Notifier
	ptySvc    *ptyservice.Service

	log      *log.Logger
	secLog   *log.Logger // security_events.log, one line per emitted event
	agentLog *log.Logger // agent_decisions.log, one line per verdict
	closers  []io.Closer

	wg sync.WaitGroup
}

// New opens the store, seeds runtime config defaults and builds every
// subsystem. Nothing is started until Run.
func New(cfg *config.Config) (*Daemon, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		db:       db,
		log:      log.New(os.Stdout, "[daemon] ", log.LstdFlags),
		watchdog: watchdog.New(cfg, db),
		llm:      reasoning.NewClient(cfg, db),
		firewall: firewall.NewController(cfg.NetworkTag),
		notifier: notify.New(db),
		ptySvc:   ptyservice.NewService(cfg.PTYSocketPath()),
	}
	d.analyzer = reasoning.NewAnalyzer(d.llm)
	d.discovery = discovery.New(cfg, d.llm)

	d.seedRuntimeConfig()
	d.openActivityLogs()

	return d, nil
}

// Close releases the store and the activity log files. Call after Run
// has returned.
func (d *Daemon) Close() error {
	for _, c := range d.closers {
		c.Close()
	}
	d.closers = nil
	return d.db.Close()
}

// seedRuntimeConfig writes the config-table defaults for every
// runtime-tunable key, without overwriting operator edits.
func (d *Daemon) seedRuntimeConfig() {
	manual, _ := json.Marshal(d.cfg.ManualTrustedPorts)
	seeds := []struct{ key, value string }{
		{"sensitivity", strconv.Itoa(d.cfg.Sensitivity)},
		{"batch_interval", strconv.Itoa(d.cfg.BatchInterval)},
		{"llm_api_url", d.cfg.LLMAPIURL},
		{"llm_model", d.cfg.LLMModel},
		{"llm_timeout", strconv.Itoa(d.cfg.LLMTimeout)},
		{"dry_run", strconv.FormatBool(d.cfg.DryRun)},
		{"trusted_ports_manual", string(manual)},
	}
	if d.cfg.LLMAPIKey != "" {
		seeds = append(seeds, struct{ key, value string }{"llm_api_key", d.cfg.LLMAPIKey})
	}
	for _, s := range seeds {
		if err := d.db.SeedConfig(s.key, s.value); err != nil {
			d.log.Printf("Seed config %s: %v", s.key, err)
		}
	}
}

// openActivityLogs creates the security and agent activity loggers.
// Each writes to its file under the state dir and mirrors to stdout; if
// the file cannot be opened the logger degrades to stdout only.
func (d *Daemon) openActivityLogs() {
	d.secLog = d.activityLogger("security_events.log")
	d.agentLog = d.activityLogger("agent_decisions.log")
}

func (d *Daemon) activityLogger(name string) *log.Logger {
	dir := d.cfg.LogDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.log.Printf("Create log dir: %v", err)
		return log.New(os.Stdout, "", log.LstdFlags)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		d.log.Printf("Open %s: %v", path, err)
		return log.New(os.Stdout, "", log.LstdFlags)
	}
	d.closers = append(d.closers, f)
	return log.New(io.MultiWriter(os.Stdout, f), "", log.LstdFlags)
}

// Run executes the startup phases and then blocks in the ingest loop
// until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Printf("Agentic C-EDA sentinel v%s starting", Version)
	d.log.Printf("Watching %d log file(s), network tag %q", len(d.cfg.LogFiles), d.cfg.NetworkTag)
	if d.cfg.DryRun {
		d.log.Printf("Dry-run mode: host state will not be touched")
	}

	// Phase 1: service discovery. The trusted-port set it produces is
	// persisted so the watchdog and the dashboard share one view.
	d.runDiscovery(ctx)

	// Phase 2: PTY service for interactive command execution.
	if d.cfg.PTYServiceEnabled {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.ptySvc.Start(ctx); err != nil {
				d.log.Printf("PTY service: %v", err)
			}
		}()
		time.Sleep(500 * time.Millisecond) // let the socket bind
	}

	// Phase 3: firewall LOG sensor. Best effort: without it the daemon
	// still sees everything the watched files carry.
	sensorWanted := d.cfg.SensorEnabled && !d.cfg.DryRun
	if sensorWanted {
		if err := d.firewall.EnableSensor(ctx); err != nil {
			d.log.Printf("Firewall sensor unavailable: %v", err)
		}
	}

	// Phase 4: start tailing.
	d.watchdog.Start()

	if err := d.db.CleanupOldRecords(d.cfg.RetentionDays); err != nil {
		d.log.Printf("Retention sweep: %v", err)
	}

	d.wg.Add(1)
	go d.maintenanceLoop(ctx)

	systemddaemon.SdNotify(false, systemddaemon.SdNotifyReady)
	systemddaemon.SdNotify(false, "STATUS=watching "+strconv.Itoa(len(d.cfg.LogFiles))+" files")

	d.ingestLoop(ctx)

	// Shutdown. ctx is cancelled by now, so host cleanup gets its own
	// deadline.
	d.log.Printf("Shutting down...")
	systemddaemon.SdNotify(false, systemddaemon.SdNotifyStopping)
	d.watchdog.Stop()
	if sensorWanted {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		d.firewall.DisableSensor(cleanupCtx)
		cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		d.log.Printf("Timed out waiting for background tasks")
	}
	d.log.Printf("Stopped")
	return nil
}

// runDiscovery enumerates listening services, persists the resulting
// dynamic trust list and pushes it into the watchdog filters.
func (d *Daemon) runDiscovery(ctx context.Context) {
	trusted, services := d.discovery.Discover(ctx)

	ports := make([]int, 0, len(trusted))
	for p := range trusted {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	data, _ := json.Marshal(ports)
	if err := d.db.SetConfig("trusted_ports_dynamic", string(data)); err != nil {
		d.log.Printf("Persist trusted ports: %v", err)
	}
	svc, _ := json.Marshal(services)
	if err := d.db.SetConfig("discovered_services", string(svc)); err != nil {
		d.log.Printf("Persist discovered services: %v", err)
	}
	d.watchdog.RefreshFilters()
	d.log.Printf("Service discovery: %d port(s) in dynamic trust list", len(ports))
}

// ingestLoop pumps events from the watchdog into the store and flushes
// the window to the analyzer whenever the batch interval has elapsed
// since the window opened.
func (d *Daemon) ingestLoop(ctx context.Context) {
	var (
		events      []string
		eventIDs    []int64
		windowStart time.Time
	)

	batchID := int64(1)
	if latest, err := d.db.LatestDecisionID(); err == nil {
		batchID = latest + 1
	} else {
		d.log.Printf("Latest decision ID: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Blocks briefly when idle, so this loop is not a busy spin.
		event := d.watchdog.ReadStream()
		if event != "" {
			d.secLog.Printf("[EVENT] %s", event)
			source, port := eventDetails(event)
			id, err := d.db.InsertEvent(eventType(event), event, source, port, batchID)
			if err != nil {
				d.log.Printf("Insert event: %v", err)
			} else {
				eventIDs = append(eventIDs, id)
			}
			events = append(events, event)
			if windowStart.IsZero() {
				windowStart = time.Now()
			}
		}

		if !windowStart.IsZero() && time.Since(windowStart) >= d.batchInterval() {
			d.analyzeWindow(ctx, batchID, events, eventIDs)
			events = nil
			eventIDs = nil
			windowStart = time.Time{}
			batchID++
			d.watchdog.RefreshFilters()
		}
	}
}

// batchInterval reads the current window length from the config table,
// so dashboard edits take effect on the next window without a restart.
func (d *Daemon) batchInterval() time.Duration {
	secs, err := strconv.Atoi(d.db.GetConfig("batch_interval", strconv.Itoa(d.cfg.BatchInterval)))
	if err != nil || secs < 1 {
		secs = d.cfg.BatchInterval
	}
	if secs < 1 {
		secs = 1
	}
	if secs > 3600 {
		secs = 3600
	}
	return time.Duration(secs) * time.Second
}

// analyzeWindow sends one window of events to the analyzer and records
// the verdict. A flagged verdict also raises a flag and fires
// notifications. Failures are logged; the loop never dies on them.
func (d *Daemon) analyzeWindow(ctx context.Context, batchID int64, events []string, eventIDs []int64) {
	d.agentLog.Printf("[ANALYSIS] Analyzing %d event(s)...", len(events))

	verdict := d.analyzer.AnalyzeBatch(ctx, events)

	decision := "ALLOW"
	if verdict.Flagged {
		decision = "FLAG"
	}
	if _, err := d.db.InsertDecision(batchID, len(events), decision, 0.0, verdict.Summary, nil); err != nil {
		d.log.Printf("Insert decision: %v", err)
	}

	if !verdict.Flagged {
		d.agentLog.Printf("    OK: %s", verdict.Summary)
		return
	}

	flagID, err := d.db.InsertFlag(eventIDs, verdict.Severity, verdict.Summary, verdict.SuggestedActions)
	if err != nil {
		d.log.Printf("Insert flag: %v", err)
		return
	}

	switch strings.ToLower(verdict.Severity) {
	case "critical":
		d.agentLog.Printf("    CRITICAL: %s", verdict.Summary)
	case "warning":
		d.agentLog.Printf("    WARNING: %s", verdict.Summary)
	default:
		d.agentLog.Printf("    INFO: %s", verdict.Summary)
	}

	// Notifications are fire-and-forget so a slow gateway never stalls
	// the ingest loop.
	flag := store.Flag{ID: flagID, Severity: verdict.Severity, Summary: verdict.Summary}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.notifier.SendAlert(flag)
	}()
}

// maintenanceLoop owns the periodic chores: retention sweeps, filter
// refreshes, the pipeline stats snapshot and systemd watchdog pings.
func (d *Daemon) maintenanceLoop(ctx context.Context) {
	defer d.wg.Done()

	retention := time.NewTicker(retentionSweepInterval)
	defer retention.Stop()
	upkeep := time.NewTicker(maintenanceInterval)
	defer upkeep.Stop()

	// Ping at half the advertised watchdog window, or every 30s when
	// not running under a systemd watchdog.
	ping := 30 * time.Second
	if interval, err := systemddaemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		ping = interval / 2
	}
	watchdogPing := time.NewTicker(ping)
	defer watchdogPing.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retention.C:
			if err := d.db.CleanupOldRecords(d.cfg.RetentionDays); err != nil {
				d.log.Printf("Retention sweep: %v", err)
			} else {
				d.log.Printf("Retention sweep done (%d day window)", d.cfg.RetentionDays)
			}
		case <-upkeep.C:
			d.watchdog.RefreshFilters()
			d.persistPipelineStats()
		case <-watchdogPing.C:
			systemddaemon.SdNotify(false, systemddaemon.SdNotifyWatchdog)
		}
	}
}

// persistPipelineStats snapshots the watchdog counters into the config
// table where the dashboard picks them up for /api/stats and /metrics.
func (d *Daemon) persistPipelineStats() {
	data, err := json.Marshal(d.watchdog.Stats())
	if err != nil {
		return
	}
	if err := d.db.SetConfig("pipeline_stats", string(data)); err != nil {
		d.log.Printf("Persist pipeline stats: %v", err)
	}
}

// eventType returns the leading token of a normalized event line.
func eventType(event string) string {
	if f := strings.Fields(event); len(f) > 0 {
		return f[0]
	}
	return "UNKNOWN"
}

// eventDetails pulls the source IP and destination port out of a
// normalized event, returning zero values for events without them.
func eventDetails(event string) (sourceIP string, port int) {
	if m := reEventSource.FindStringSubmatch(event); m != nil {
		sourceIP = m[1]
	}
	if m := reEventPort.FindStringSubmatch(event); m != nil {
		port, _ = strconv.Atoi(m[1])
	}
	return sourceIP, port
}
