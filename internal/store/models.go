package store

// Event is one persisted normalized event.
type Event struct {
	ID        int64   `json:"id"`
	Timestamp string  `json:"timestamp"`
	EventType string  `json:"event_type"`
	SourceIP  *string `json:"source_ip"`
	Port      *int64  `json:"port"`
	RawEvent  string  `json:"raw_event"`
	BatchID   int64   `json:"batch_id"`
}

// Decision is the persisted result of one batch analysis.
type Decision struct {
	ID         int64    `json:"id"`
	Timestamp  string   `json:"timestamp"`
	BatchID    int64    `json:"batch_id"`
	EventCount int64    `json:"event_count"`
	Verdict    string   `json:"verdict"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	ThreatIPs  []string `json:"threat_ips"`
}

// Flag statuses. pending is the only non-terminal state.
const (
	FlagPending   = "pending"
	FlagResolved  = "resolved"
	FlagDismissed = "dismissed"
)

// Flag is a persisted alert awaiting operator triage.
type Flag struct {
	ID               int64    `json:"id"`
	Timestamp        string   `json:"timestamp"`
	EventIDs         []int64  `json:"event_ids"`
	Severity         string   `json:"severity"`
	Summary          string   `json:"summary"`
	SuggestedActions []string `json:"suggested_actions"`
	Status           string   `json:"status"`
}

// ChatMessage is one transcript entry. Ordering by ID defines the
// transcript order.
type ChatMessage struct {
	ID        int64                  `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Stats are the dashboard counters.
type Stats struct {
	TotalEvents    int64 `json:"total_events"`
	EventsLastHour int64 `json:"events_last_hour"`
	TotalDecisions int64 `json:"total_decisions"`
	FlagsToday     int64 `json:"flags_today"`
	PendingFlags   int64 `json:"pending_flags"`
}
