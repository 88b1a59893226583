package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/agentic-c-eda/sentinel/internal/logbuffer"
	"github.com/agentic-c-eda/sentinel/internal/store"
	"github.com/agentic-c-eda/sentinel/internal/watchdog"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt reads an integer query parameter, clamped to [1, max].
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, database := "healthy", "connected"
	if _, err := s.db.LatestEventID(); err != nil {
		status, database = "degraded", "error"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"version":  Version,
		"database": database,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1000)
	offset := 0
	if n, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && n > 0 {
		offset = n
	}
	events, err := s.db.Events(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handlePurgeEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.db.PurgeAllEvents()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Decisions reference purged batches; drop them too.
	decisions, err := s.db.PurgeAllDecisions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Printf("purged %d events, %d decisions", events, decisions)
	writeJSON(w, http.StatusOK, map[string]int64{
		"events_deleted":    events,
		"decisions_deleted": decisions,
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	decisions, err := s.db.Decisions(limit, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if decisions == nil {
		decisions = []store.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) handlePurgeDecisions(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.PurgeAllDecisions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Printf("purged %d decisions", n)
	writeJSON(w, http.StatusOK, map[string]int64{"decisions_deleted": n})
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 100)
	status := r.URL.Query().Get("status")
	flags, err := s.db.Flags(status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flags == nil {
		flags = []store.Flag{}
	}
	writeJSON(w, http.StatusOK, flags)
}

// flagID pulls the {id} path variable; the route pattern guarantees
// digits.
func flagID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) handleResolveFlag(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	status := body.Status
	if status == "" {
		status = store.FlagResolved
	}
	if status != store.FlagResolved && status != store.FlagDismissed {
		writeError(w, http.StatusBadRequest, "status must be resolved or dismissed")
		return
	}
	s.setFlagStatus(w, flagID(r), status)
}

func (s *Server) handleDismissFlag(w http.ResponseWriter, r *http.Request) {
	s.setFlagStatus(w, flagID(r), store.FlagDismissed)
}

func (s *Server) setFlagStatus(w http.ResponseWriter, id int64, status string) {
	flag, err := s.db.GetFlag(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flag == nil {
		writeError(w, http.StatusNotFound, "Flag not found")
		return
	}
	if err := s.db.UpdateFlagStatus(id, status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Printf("flag %d -> %s", id, status)
	writeJSON(w, http.StatusOK, map[string]interface{}{"flag_id": id, "status": status})
}

// statsResponse flattens the store counters and nests the daemon's
// pipeline snapshot when one has been persisted.
type statsResponse struct {
	store.Stats
	Pipeline *watchdog.Stats `json:"pipeline,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.db.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statsResponse{Stats: st}
	if raw := s.db.GetConfig("pipeline_stats", ""); raw != "" {
		var snap watchdog.Stats
		if err := json.Unmarshal([]byte(raw), &snap); err == nil {
			resp.Pipeline = &snap
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) intConfig(key string, def int) int {
	n, err := strconv.Atoi(s.db.GetConfig(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensitivity":                   s.intConfig("sensitivity", s.cfg.Sensitivity),
		"batch_interval":                s.intConfig("batch_interval", s.cfg.BatchInterval),
		"llm_timeout":                   s.intConfig("llm_timeout", s.cfg.LLMTimeout),
		"llm_api_url":                   s.db.GetConfig("llm_api_url", s.cfg.LLMAPIURL),
		"llm_model":                     s.db.GetConfig("llm_model", s.cfg.LLMModel),
		"llm_api_key":                   s.db.GetConfig("llm_api_key", ""),
		"custom_prompt":                 s.db.GetConfig("custom_prompt", ""),
		"ignored_ports":                 s.db.GetConfig("ignored_ports", ""),
		"ignored_ips":                   s.db.GetConfig("ignored_ips", ""),
		"notification_telegram_token":   s.db.GetConfig("notification_telegram_token", ""),
		"notification_telegram_chat_id": s.db.GetConfig("notification_telegram_chat_id", ""),
		"notification_bark_url":         s.db.GetConfig("notification_bark_url", ""),
	})
}

// configIntRanges are the writable integer keys and their bounds.
var configIntRanges = map[string][2]int{
	"sensitivity":    {1, 10},
	"batch_interval": {1, 3600},
	"llm_timeout":    {1, 300},
}

// configStringKeys are the writable free-form keys.
var configStringKeys = map[string]bool{
	"llm_api_url":                   true,
	"llm_model":                     true,
	"llm_api_key":                   true,
	"custom_prompt":                 true,
	"ignored_ports":                 true,
	"ignored_ips":                   true,
	"notification_telegram_token":   true,
	"notification_telegram_chat_id": true,
	"notification_bark_url":         true,
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var updated []string
	for key, value := range body {
		if bounds, ok := configIntRanges[key]; ok {
			n, ok := intValue(value)
			if !ok || n < bounds[0] || n > bounds[1] {
				writeError(w, http.StatusBadRequest,
					key+" must be an integer between "+strconv.Itoa(bounds[0])+" and "+strconv.Itoa(bounds[1]))
				return
			}
			if err := s.db.SetConfig(key, strconv.Itoa(n)); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			updated = append(updated, key)
			continue
		}
		if configStringKeys[key] {
			str, ok := value.(string)
			if !ok {
				writeError(w, http.StatusBadRequest, key+" must be a string")
				return
			}
			if err := s.db.SetConfig(key, str); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			updated = append(updated, key)
		}
		// Unknown keys are ignored.
	}

	if len(updated) > 0 {
		s.log.Printf("config updated: %s", strings.Join(updated, ", "))
	}
	if updated == nil {
		updated = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "updated": updated})
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.llm.TestConnection(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok, "message": msg})
}

func (s *Server) handleTestTelegram(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.notifier.TestTelegram()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok, "message": msg})
}

func (s *Server) handleTestBark(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.notifier.TestBark()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok, "message": msg})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 100)
	msgs, err := s.db.ChatMessages(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleClearChatHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.db.ClearChatMessages(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleExecuteProposal applies an approved non-command proposal
// (ignore_port / ignore_ip). Approved commands go through the terminal
// endpoints instead.
func (s *Server) handleExecuteProposal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
		Port   int    `json:"port"`
		IP     string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.proposals.Apply(body.Action, body.Port, body.IP)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Printf("proposal applied: %s", body.Action)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": msg})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 500)
	level := logbuffer.Level(strings.ToUpper(r.URL.Query().Get("level")))
	writeJSON(w, http.StatusOK, s.logs.Get(limit, level, 0))
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.logs.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
