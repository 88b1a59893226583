package store

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := testStore(t)

	id, err := s.LatestEventID()
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected 0 for empty table, got %d", id)
	}
	id, err = s.LatestDecisionID()
	if err != nil {
		t.Fatalf("LatestDecisionID: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected 0 for empty table, got %d", id)
	}
}

func TestInsertAndGetEvents(t *testing.T) {
	s := testStore(t)

	id1, err := s.InsertEvent("SSH_AUTH_FAIL", "SSH_AUTH_FAIL User=root Source=1.2.3.4 Method=password", "1.2.3.4", 0, 1)
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if id1 != 1 {
		t.Fatalf("expected first id 1, got %d", id1)
	}

	id2, _ := s.InsertEvent("NET_CONN", "NET_CONN Source=5.6.7.8 Port=445 Proto=TCP", "5.6.7.8", 445, 1)
	if id2 != id1+1 {
		t.Fatalf("ids should be sequential: %d then %d", id1, id2)
	}

	events, err := s.Events(10, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first
	if events[0].EventType != "NET_CONN" {
		t.Fatalf("expected NET_CONN first, got %s", events[0].EventType)
	}
	if events[0].Port == nil || *events[0].Port != 445 {
		t.Fatalf("expected port 445, got %v", events[0].Port)
	}
	if events[1].Port != nil {
		t.Fatalf("expected nil port for SSH event, got %v", *events[1].Port)
	}
	if events[1].SourceIP == nil || *events[1].SourceIP != "1.2.3.4" {
		t.Fatalf("expected source 1.2.3.4, got %v", events[1].SourceIP)
	}

	latest, _ := s.LatestEventID()
	if latest != id2 {
		t.Fatalf("expected latest id %d, got %d", id2, latest)
	}
}

func TestEventsAfter(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		s.InsertEvent("NET_PING", "NET_PING Source=9.9.9.9", "9.9.9.9", 0, 1)
	}

	events, err := s.EventsAfter(3, 100)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after id 3, got %d", len(events))
	}
	if events[0].ID != 4 || events[1].ID != 5 {
		t.Fatalf("expected ids 4,5 oldest-first, got %d,%d", events[0].ID, events[1].ID)
	}
}

func TestInsertAndGetDecisions(t *testing.T) {
	s := testStore(t)

	_, err := s.InsertDecision(1, 3, "FLAG", 0.0, "Multiple failed SSH logins", []string{"185.143.223.47"})
	if err != nil {
		t.Fatalf("InsertDecision: %v", err)
	}
	_, err = s.InsertDecision(2, 1, "ALLOW", 0.0, "Routine traffic", nil)
	if err != nil {
		t.Fatalf("InsertDecision: %v", err)
	}

	decisions, err := s.Decisions(10, 0)
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	if decisions[0].Verdict != "ALLOW" {
		t.Fatalf("expected ALLOW first (newest), got %s", decisions[0].Verdict)
	}
	if len(decisions[0].ThreatIPs) != 0 {
		t.Fatalf("expected empty threat ips, got %v", decisions[0].ThreatIPs)
	}
	if len(decisions[1].ThreatIPs) != 1 || decisions[1].ThreatIPs[0] != "185.143.223.47" {
		t.Fatalf("threat ips should round-trip, got %v", decisions[1].ThreatIPs)
	}

	latest, _ := s.LatestDecisionID()
	if latest != 2 {
		t.Fatalf("expected latest decision id 2, got %d", latest)
	}
}

func TestFlagLifecycle(t *testing.T) {
	s := testStore(t)

	id, err := s.InsertFlag([]int64{1, 2, 3}, "warning", "Possible brute force", []string{"Review auth.log"})
	if err != nil {
		t.Fatalf("InsertFlag: %v", err)
	}

	f, err := s.GetFlag(id)
	if err != nil {
		t.Fatalf("GetFlag: %v", err)
	}
	if f == nil {
		t.Fatal("expected flag")
	}
	if f.Status != FlagPending {
		t.Fatalf("new flag should be pending, got %s", f.Status)
	}
	if len(f.EventIDs) != 3 {
		t.Fatalf("event ids should round-trip, got %v", f.EventIDs)
	}
	if len(f.SuggestedActions) != 1 || f.SuggestedActions[0] != "Review auth.log" {
		t.Fatalf("actions should round-trip, got %v", f.SuggestedActions)
	}

	// pending → resolved
	if err := s.UpdateFlagStatus(id, FlagResolved); err != nil {
		t.Fatalf("UpdateFlagStatus: %v", err)
	}
	f, _ = s.GetFlag(id)
	if f.Status != FlagResolved {
		t.Fatalf("expected resolved, got %s", f.Status)
	}

	// Same status again is a no-op
	if err := s.UpdateFlagStatus(id, FlagResolved); err != nil {
		t.Fatalf("repeat of current status should succeed: %v", err)
	}

	// Terminal → other terminal is rejected
	if err := s.UpdateFlagStatus(id, FlagDismissed); err == nil {
		t.Fatal("transition from resolved should be rejected")
	}

	// Absent id succeeds silently
	if err := s.UpdateFlagStatus(99999, FlagDismissed); err != nil {
		t.Fatalf("absent id should succeed silently: %v", err)
	}

	// Invalid status rejected
	if err := s.UpdateFlagStatus(id, "blocked"); err == nil {
		t.Fatal("invalid status should be rejected")
	}
}

func TestFlagsFilterByStatus(t *testing.T) {
	s := testStore(t)

	a, _ := s.InsertFlag(nil, "info", "one", nil)
	s.InsertFlag(nil, "critical", "two", nil)
	s.UpdateFlagStatus(a, FlagDismissed)

	pending, err := s.Flags(FlagPending, 50)
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if len(pending) != 1 || pending[0].Summary != "two" {
		t.Fatalf("expected only pending flag 'two', got %v", pending)
	}

	all, _ := s.Flags("", 50)
	if len(all) != 2 {
		t.Fatalf("expected 2 flags, got %d", len(all))
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := testStore(t)

	if v := s.GetConfig("sensitivity", "7"); v != "7" {
		t.Fatalf("expected default 7, got %s", v)
	}

	if err := s.SetConfig("sensitivity", "9"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if v := s.GetConfig("sensitivity", "7"); v != "9" {
		t.Fatalf("expected 9 after set, got %s", v)
	}

	// Seed does not clobber
	if err := s.SeedConfig("sensitivity", "5"); err != nil {
		t.Fatalf("SeedConfig: %v", err)
	}
	if v := s.GetConfig("sensitivity", "7"); v != "9" {
		t.Fatalf("seed should not overwrite, got %s", v)
	}
	if err := s.SeedConfig("batch_interval", "5"); err != nil {
		t.Fatalf("SeedConfig: %v", err)
	}
	if v := s.GetConfig("batch_interval", "1"); v != "5" {
		t.Fatalf("seed should write missing key, got %s", v)
	}

	all, err := s.AllConfig()
	if err != nil {
		t.Fatalf("AllConfig: %v", err)
	}
	if all["sensitivity"] != "9" || all["batch_interval"] != "5" {
		t.Fatalf("unexpected config map: %v", all)
	}
}

func TestChatMessages(t *testing.T) {
	s := testStore(t)

	s.InsertChatMessage("user", "hello", nil)
	s.InsertChatMessage("assistant", "hi there", map[string]interface{}{"type": "text"})
	s.InsertChatMessage("user", "list ports", nil)

	msgs, err := s.ChatMessages(2)
	if err != nil {
		t.Fatalf("ChatMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	// Latest two, oldest first
	if msgs[0].Content != "hi there" || msgs[1].Content != "list ports" {
		t.Fatalf("wrong order: %q then %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].Metadata["type"] != "text" {
		t.Fatalf("metadata should round-trip, got %v", msgs[0].Metadata)
	}

	if err := s.ClearChatMessages(); err != nil {
		t.Fatalf("ClearChatMessages: %v", err)
	}
	msgs, _ = s.ChatMessages(10)
	if len(msgs) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(msgs))
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)

	s.InsertEvent("NET_CONN", "NET_CONN Source=1.1.1.1 Port=80 Proto=TCP", "1.1.1.1", 80, 1)
	s.InsertEvent("NET_CONN", "NET_CONN Source=1.1.1.1 Port=81 Proto=TCP", "1.1.1.1", 81, 1)
	s.InsertDecision(1, 2, "FLAG", 0.0, "scan", nil)
	s.InsertFlag([]int64{1, 2}, "warning", "scan", nil)

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalEvents != 2 {
		t.Fatalf("expected 2 events, got %d", st.TotalEvents)
	}
	if st.EventsLastHour != 2 {
		t.Fatalf("expected 2 events last hour, got %d", st.EventsLastHour)
	}
	if st.TotalDecisions != 1 {
		t.Fatalf("expected 1 decision, got %d", st.TotalDecisions)
	}
	if st.PendingFlags != 1 {
		t.Fatalf("expected 1 pending flag, got %d", st.PendingFlags)
	}
}

func TestCleanupAndPurge(t *testing.T) {
	s := testStore(t)

	s.InsertEvent("NET_PING", "NET_PING Source=2.2.2.2", "2.2.2.2", 0, 1)
	s.InsertDecision(1, 1, "ALLOW", 0.0, "ok", nil)

	// Nothing is older than 7 days
	if err := s.CleanupOldRecords(7); err != nil {
		t.Fatalf("CleanupOldRecords: %v", err)
	}
	events, _ := s.Events(10, 0)
	if len(events) != 1 {
		t.Fatalf("fresh records should survive cleanup, got %d", len(events))
	}

	// A zero-day cutoff removes everything
	if err := s.CleanupOldRecords(0); err != nil {
		t.Fatalf("CleanupOldRecords: %v", err)
	}
	events, _ = s.Events(10, 0)
	if len(events) != 0 {
		t.Fatalf("expected no events after cleanup, got %d", len(events))
	}

	s.InsertEvent("NET_PING", "NET_PING Source=2.2.2.2", "2.2.2.2", 0, 1)
	s.InsertEvent("NET_PING", "NET_PING Source=2.2.2.2", "2.2.2.2", 0, 1)
	s.InsertDecision(2, 2, "ALLOW", 0.0, "ok", nil)
	n, err := s.PurgeAllEvents()
	if err != nil {
		t.Fatalf("PurgeAllEvents: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}

	n, err = s.PurgeAllDecisions()
	if err != nil {
		t.Fatalf("PurgeAllDecisions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged decision, got %d", n)
	}
}

func TestEventIDsSequentialAcrossKinds(t *testing.T) {
	s := testStore(t)

	var prev int64
	for i := 0; i < 10; i++ {
		id, err := s.InsertEvent("SESSION_OPEN", "SESSION_OPEN User=admin Service=sshd", "", 0, 3)
		if err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
		if prev != 0 && id != prev+1 {
			t.Fatalf("ids must be gap-free within a run: %d after %d", id, prev)
		}
		prev = id
	}
}
