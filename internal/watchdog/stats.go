package watchdog

import "time"

// ewmaAlpha weights the newest parse-latency sample in the smoothed
// average.
const ewmaAlpha = 0.1

// Stats is a snapshot of the reduction pipeline counters. raw_lines
// counts every line entering the pipeline; the filtered counters say
// where lines died; events_output is what survived all three stages.
type Stats struct {
	RawLines          int64   `json:"raw_lines"`
	NoiseFiltered     int64   `json:"noise_filtered"`
	TrustFiltered     int64   `json:"trust_filtered"`
	ParseFailed       int64   `json:"parse_failed"`
	EventsOutput      int64   `json:"events_output"`
	AvgParseLatencyUS float64 `json:"avg_parse_latency_us"`
}

// Stats returns a snapshot of the pipeline counters. Safe to call while
// the read loop is running.
func (w *Watchdog) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// ResetStats zeroes all counters and the latency average.
func (w *Watchdog) ResetStats() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats = Stats{}
	w.latencySeeded = false
}

func (w *Watchdog) countRaw() {
	w.statsMu.Lock()
	w.stats.RawLines++
	w.statsMu.Unlock()
}

func (w *Watchdog) countNoise() {
	w.statsMu.Lock()
	w.stats.NoiseFiltered++
	w.statsMu.Unlock()
}

func (w *Watchdog) countTrust() {
	w.statsMu.Lock()
	w.stats.TrustFiltered++
	w.statsMu.Unlock()
}

func (w *Watchdog) countParseFail() {
	w.statsMu.Lock()
	w.stats.ParseFailed++
	w.statsMu.Unlock()
}

func (w *Watchdog) countOutput() {
	w.statsMu.Lock()
	w.stats.EventsOutput++
	w.statsMu.Unlock()
}

// recordParseLatency folds one parse duration into the smoothed
// average, in microseconds.
func (w *Watchdog) recordParseLatency(d time.Duration) {
	us := float64(d.Nanoseconds()) / 1e3
	w.statsMu.Lock()
	if !w.latencySeeded {
		w.stats.AvgParseLatencyUS = us
		w.latencySeeded = true
	} else {
		w.stats.AvgParseLatencyUS = (1-ewmaAlpha)*w.stats.AvgParseLatencyUS + ewmaAlpha*us
	}
	w.statsMu.Unlock()
}
