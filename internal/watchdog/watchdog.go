package watchdog

import (
	"bytes"
	"io"
	"log"
	"os"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/store"
)

// pollInterval is how long ReadStream sleeps when no event is pending.
const pollInterval = 100 * time.Millisecond

var reSyslogTime = regexp.MustCompile(`^(\w{3})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})`)

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// tailFile is the read state for one monitored log file.
type tailFile struct {
	file   *os.File
	offset int64
	inode  uint64
	buf    []byte // partial line carried to the next poll
}

// Watchdog tails the configured log files and emits normalized events.
// ReadStream must be called from a single goroutine; Stats, ResetStats
// and RefreshFilters are safe from any goroutine.
type Watchdog struct {
	log     *log.Logger
	paths   []string
	parser  *Parser
	filters *Filters

	files   map[string]*tailFile
	start   time.Time
	pending []string

	statsMu       sync.Mutex
	stats         Stats
	latencySeeded bool
}

// New builds a watchdog over cfg.LogFiles. db may be nil; it is only
// used to read the dynamic ignored and trusted lists.
func New(cfg *config.Config, db *store.Store) *Watchdog {
	return &Watchdog{
		log:     log.New(os.Stdout, "[watchdog] ", log.LstdFlags),
		paths:   cfg.LogFiles,
		parser:  NewParser(cfg.NetworkTag),
		filters: NewFilters(cfg, db),
		files:   make(map[string]*tailFile),
	}
}

// Start opens every monitored file, seeks to its current end and
// records its inode. Lines written before Start are never emitted. A
// missing file is logged and skipped.
func (w *Watchdog) Start() {
	w.start = time.Now()
	for _, path := range w.paths {
		f, err := os.Open(path)
		if err != nil {
			w.log.Printf("cannot open %s: %v", path, err)
			continue
		}
		offset, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			w.log.Printf("cannot seek %s: %v", path, err)
			f.Close()
			continue
		}
		info, err := f.Stat()
		if err != nil {
			w.log.Printf("cannot stat %s: %v", path, err)
			f.Close()
			continue
		}
		w.files[path] = &tailFile{file: f, offset: offset, inode: inodeOf(info)}
	}
	w.log.Printf("watching %d of %d log files", len(w.files), len(w.paths))
}

// Stop closes all file handles. The watchdog cannot be restarted.
func (w *Watchdog) Stop() {
	for _, tf := range w.files {
		tf.file.Close()
	}
	w.files = make(map[string]*tailFile)
}

// RefreshFilters re-reads the ignored and trusted lists from the config
// store. Called after operators edit them and after service discovery.
func (w *Watchdog) RefreshFilters() {
	w.filters.Refresh()
}

// ReadStream returns the next normalized event. When nothing is
// available it sleeps for one poll interval and returns the empty
// string, so callers poll it in a loop.
func (w *Watchdog) ReadStream() string {
	if e := w.popPending(); e != "" {
		return e
	}
	w.readNewLines()
	if e := w.popPending(); e != "" {
		return e
	}
	time.Sleep(pollInterval)
	return ""
}

func (w *Watchdog) popPending() string {
	if len(w.pending) == 0 {
		return ""
	}
	e := w.pending[0]
	w.pending = w.pending[1:]
	return e
}

// readNewLines drains newly appended content from every file, pushing
// surviving events onto the pending queue in arrival order.
func (w *Watchdog) readNewLines() {
	for _, path := range w.paths {
		tf, ok := w.files[path]
		if !ok {
			continue
		}
		w.checkRotation(path, tf)

		if _, err := tf.file.Seek(tf.offset, io.SeekStart); err != nil {
			w.log.Printf("seek %s: %v", path, err)
			continue
		}
		data, err := io.ReadAll(tf.file)
		if err != nil {
			w.log.Printf("read %s: %v", path, err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		tf.offset += int64(len(data))

		data = append(tf.buf, data...)
		lines := bytes.Split(data, []byte("\n"))
		tf.buf = append([]byte(nil), lines[len(lines)-1]...)
		for _, raw := range lines[:len(lines)-1] {
			w.processLine(string(bytes.TrimSpace(raw)))
		}
	}
}

// checkRotation reopens path at offset zero when its inode has changed.
// Stat or open failures keep the current handle so a rotation in
// progress is retried on the next poll.
func (w *Watchdog) checkRotation(path string, tf *tailFile) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	inode := inodeOf(info)
	if inode == tf.inode {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		w.log.Printf("reopen %s: %v", path, err)
		return
	}
	tf.file.Close()
	tf.file = f
	tf.offset = 0
	tf.inode = inode
	tf.buf = nil
	w.log.Printf("%s rotated, reading from start", path)
}

// processLine runs one raw line through the cutoff check and the three
// pipeline stages.
func (w *Watchdog) processLine(line string) {
	if line == "" {
		return
	}
	if ts, ok := parseSyslogTime(line, time.Now().Year()); ok && ts.Before(w.start) {
		return
	}

	w.countRaw()
	if w.filters.IsNoise(line) {
		w.countNoise()
		return
	}
	if w.filters.IsTrustedInternal(line) {
		w.countTrust()
		return
	}

	t0 := time.Now()
	event := w.parser.Parse(line)
	w.recordParseLatency(time.Since(t0))
	if event == "" {
		w.countParseFail()
		return
	}
	w.countOutput()
	w.pending = append(w.pending, event)
}

// parseSyslogTime reads a leading "Mon DD HH:MM:SS" stamp, imputing the
// given calendar year. Lines without a well-formed stamp report false
// and are exempt from the startup cutoff.
func parseSyslogTime(line string, year int) (time.Time, bool) {
	m := reSyslogTime.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := months[m[1]]
	if !ok {
		month = time.January
	}
	day, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	min, _ := strconv.Atoi(m[4])
	sec, _ := strconv.Atoi(m[5])
	if day < 1 || day > 31 || hour > 23 || min > 59 || sec > 59 {
		return time.Time{}, false
	}
	return time.Date(year, month, day, hour, min, sec, 0, time.Local), true
}

func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
