package secmon

import (
	"strings"
	"testing"
	"time"
)

func newTestManager() *Manager {
	logger := testLogger()
	return NewManager(DefaultCatalog(logger), logger, nil)
}

func resourceThreat(kind MetricKind, description string) Threat {
	return Threat{
		ID:          threatID("cpu_abuse", time.Now()),
		Timestamp:   time.Now(),
		Type:        ThreatResourceAbuse,
		Severity:    SeverityMedium,
		Description: description,
		Source:      "system_monitor",
		MetricKind:  kind,
		Status:      "detected",
	}
}

func TestCreateAppliesRuleAndStyle(t *testing.T) {
	m := newTestManager()
	before := time.Now()
	alert := m.Create(resourceThreat(MetricCPU, "High CPU usage detected: 96.0%"))
	if alert == nil {
		t.Fatalf("expected an alert")
	}
	if !strings.HasPrefix(alert.ID, "alert_") {
		t.Fatalf("unexpected alert id %q", alert.ID)
	}
	if alert.Status != StatusActive {
		t.Fatalf("new alerts must start active, got %s", alert.Status)
	}
	if alert.Priority != 2 || alert.Color != "#ffc107" || alert.Icon != "exclamation-triangle" {
		t.Fatalf("medium style not applied: %+v", alert)
	}
	if !alert.AutoResolve || alert.ResolveThreshold != 70 {
		t.Fatalf("resource abuse rule not applied: %+v", alert)
	}
	if len(alert.NotificationChannels) != 2 {
		t.Fatalf("expected dashboard and log channels, got %v", alert.NotificationChannels)
	}
	wantDeadline := before.Add(5 * time.Minute)
	if alert.EscalationDeadline.Before(wantDeadline) || alert.EscalationDeadline.After(wantDeadline.Add(time.Second)) {
		t.Fatalf("unexpected escalation deadline %v", alert.EscalationDeadline)
	}
}

func TestCreateUnknownTypeGetsFallbackRule(t *testing.T) {
	m := newTestManager()
	threat := resourceThreat(MetricNone, "weird")
	threat.Type = ThreatType("unknown_kind")
	alert := m.Create(threat)
	if alert == nil {
		t.Fatalf("expected an alert")
	}
	if alert.AutoResolve {
		t.Fatalf("fallback rule must not auto-resolve")
	}
	if len(alert.NotificationChannels) != 1 || alert.NotificationChannels[0] != "dashboard" {
		t.Fatalf("fallback rule should use dashboard only, got %v", alert.NotificationChannels)
	}
}

func TestCreateDefaultsEmptySeverity(t *testing.T) {
	m := newTestManager()
	threat := resourceThreat(MetricNone, "no severity")
	threat.Severity = ""
	alert := m.Create(threat)
	if alert == nil || alert.Severity != SeverityMedium {
		t.Fatalf("empty severity should default to medium: %+v", alert)
	}
}

func TestAcknowledge(t *testing.T) {
	m := newTestManager()
	alert := m.Create(resourceThreat(MetricCPU, "cpu"))

	if !m.Acknowledge(alert.ID, "alice") {
		t.Fatalf("acknowledge should succeed")
	}
	got, ok := m.Find(alert.ID)
	if !ok {
		t.Fatalf("alert should still be active")
	}
	if !got.Acknowledged || got.AcknowledgedBy != "alice" || got.AcknowledgedAt == nil {
		t.Fatalf("acknowledge fields not set: %+v", got)
	}
	// Acknowledging does not change status.
	if got.Status != StatusActive {
		t.Fatalf("acknowledge must not change status, got %s", got.Status)
	}
	if m.Acknowledge("alert_missing", "alice") {
		t.Fatalf("unknown id should fail")
	}
}

func TestResolveRemovesFromActive(t *testing.T) {
	m := newTestManager()
	alert := m.Create(resourceThreat(MetricCPU, "cpu"))

	if !m.Resolve(alert.ID, "bob", "handled") {
		t.Fatalf("resolve should succeed")
	}
	if _, ok := m.Find(alert.ID); ok {
		t.Fatalf("resolved alert should leave the active set")
	}
	if m.Resolve(alert.ID, "bob", "") {
		t.Fatalf("resolving twice should fail")
	}

	// The history copy reflects creation time, not the later resolution.
	history := m.History()
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	if history[0].Resolved || history[0].Status != StatusActive {
		t.Fatalf("history must keep the creation-time copy: %+v", history[0])
	}
}

func TestEscalate(t *testing.T) {
	m := newTestManager()
	alert := m.Create(resourceThreat(MetricCPU, "cpu"))

	if !m.Escalate(alert.ID) {
		t.Fatalf("escalate should succeed")
	}
	got, _ := m.Find(alert.ID)
	if got.Status != StatusEscalated {
		t.Fatalf("expected escalated status, got %s", got.Status)
	}
	// Escalation is idempotent in effect: a second attempt fails.
	if m.Escalate(alert.ID) {
		t.Fatalf("escalating an escalated alert should fail")
	}
	// Escalated alerts can still be resolved.
	if !m.Resolve(alert.ID, "carol", "") {
		t.Fatalf("resolving an escalated alert should succeed")
	}
	if m.Escalate(alert.ID) {
		t.Fatalf("escalating a resolved alert should fail")
	}
}

func TestCheckEscalationsScheduled(t *testing.T) {
	m := newTestManager()
	threat := resourceThreat(MetricNone, "brute force")
	threat.Type = ThreatBruteForce
	alert := m.Create(threat) // brute force escalates after one minute

	if n := m.CheckEscalations(time.Now()); n != 0 {
		t.Fatalf("nothing should be overdue yet, escalated %d", n)
	}
	if n := m.CheckEscalations(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected one escalation, got %d", n)
	}
	got, _ := m.Find(alert.ID)
	if got.Status != StatusEscalated {
		t.Fatalf("overdue alert should be escalated, got %s", got.Status)
	}
	// Already escalated alerts are not escalated again.
	if n := m.CheckEscalations(time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("expected no further escalations, got %d", n)
	}
}

func TestCheckEscalationsManualPolicy(t *testing.T) {
	m := newTestManager()
	m.catalog.policy = EscalationManual
	threat := resourceThreat(MetricNone, "brute force")
	threat.Type = ThreatBruteForce
	m.Create(threat)

	if n := m.CheckEscalations(time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("manual policy must not escalate, got %d", n)
	}
}

func TestAutoResolveCPU(t *testing.T) {
	m := newTestManager()
	alert := m.Create(resourceThreat(MetricCPU, "High CPU usage detected: 96.0%"))

	// Still above the resolve threshold of 70.
	if n := m.AutoResolve(systemHistory(systemSnap(75, 50, 50, 100))); n != 0 {
		t.Fatalf("cpu at 75 should not auto-resolve, got %d", n)
	}
	if n := m.AutoResolve(systemHistory(systemSnap(60, 50, 50, 100))); n != 1 {
		t.Fatalf("cpu at 60 should auto-resolve, got %d", n)
	}
	if _, ok := m.Find(alert.ID); ok {
		t.Fatalf("auto-resolved alert should leave the active set")
	}
}

func TestAutoResolveSkipsIneligibleAlerts(t *testing.T) {
	m := newTestManager()
	threat := resourceThreat(MetricNone, "brute force")
	threat.Type = ThreatBruteForce // rule has auto_resolve disabled
	alert := m.Create(threat)

	if n := m.AutoResolve(systemHistory(systemSnap(1, 1, 1, 1))); n != 0 {
		t.Fatalf("brute force alerts must never auto-resolve, got %d", n)
	}
	if _, ok := m.Find(alert.ID); !ok {
		t.Fatalf("alert should remain active")
	}
}

func TestAutoResolveConnections(t *testing.T) {
	m := newTestManager()
	// Opt network anomalies into auto-resolution for this test.
	m.catalog.rules[ThreatNetworkAnomaly] = AlertRule{
		AutoResolve:          true,
		ResolveThreshold:     1,
		EscalationDelay:      3 * time.Minute,
		NotificationChannels: []string{"dashboard"},
	}
	threat := resourceThreat(MetricConnections, "Excessive network connections detected: 1600")
	threat.Type = ThreatNetworkAnomaly
	alert := m.Create(threat)

	high := SnapshotHistory{Network: []NetworkSnapshot{networkSnap(1200, 10, 0, 0)}}
	if n := m.AutoResolve(high); n != 0 {
		t.Fatalf("1200 connections should not auto-resolve, got %d", n)
	}
	low := SnapshotHistory{Network: []NetworkSnapshot{networkSnap(500, 10, 0, 0)}}
	if n := m.AutoResolve(low); n != 1 {
		t.Fatalf("500 connections should auto-resolve, got %d", n)
	}
	if _, ok := m.Find(alert.ID); ok {
		t.Fatalf("auto-resolved alert should leave the active set")
	}
}

func TestAutoResolveWithoutSnapshots(t *testing.T) {
	m := newTestManager()
	m.Create(resourceThreat(MetricCPU, "cpu"))
	if n := m.AutoResolve(SnapshotHistory{}); n != 0 {
		t.Fatalf("missing snapshots must not resolve anything, got %d", n)
	}
}

func TestHistoryEviction(t *testing.T) {
	m := newTestManager()
	m.historyCap = 3
	var threatIDs []string
	for i := 0; i < 5; i++ {
		threat := resourceThreat(MetricCPU, "cpu")
		alert := m.Create(threat)
		threatIDs = append(threatIDs, alert.ThreatID)
	}
	history := m.History()
	if len(history) != 3 {
		t.Fatalf("history should cap at 3, got %d", len(history))
	}
	// Oldest entries are evicted first.
	if history[0].ThreatID != threatIDs[2] {
		t.Fatalf("expected oldest surviving entry to be the third created")
	}
	// The active set is unaffected by history eviction.
	if len(m.Alerts()) != 5 {
		t.Fatalf("active set should keep all 5, got %d", len(m.Alerts()))
	}
}

func TestActiveAlertsExcludesEscalated(t *testing.T) {
	m := newTestManager()
	a := m.Create(resourceThreat(MetricCPU, "one"))
	m.Create(resourceThreat(MetricMemory, "two"))
	m.Escalate(a.ID)

	if got := len(m.Alerts()); got != 2 {
		t.Fatalf("Alerts should include escalated, got %d", got)
	}
	active := m.ActiveAlerts()
	if len(active) != 1 {
		t.Fatalf("ActiveAlerts should exclude escalated, got %d", len(active))
	}
	if active[0].Description != "two" {
		t.Fatalf("wrong alert filtered: %+v", active[0])
	}
}

func TestAlertFilters(t *testing.T) {
	m := newTestManager()
	m.Create(resourceThreat(MetricCPU, "cpu"))
	threat := resourceThreat(MetricNone, "bf")
	threat.Type = ThreatBruteForce
	threat.Severity = SeverityHigh
	m.Create(threat)

	if got := m.AlertsBySeverity(SeverityHigh); len(got) != 1 {
		t.Fatalf("expected one high alert, got %d", len(got))
	}
	if got := m.AlertsByType(ThreatResourceAbuse); len(got) != 1 {
		t.Fatalf("expected one resource alert, got %d", len(got))
	}
}

func TestManagerStatistics(t *testing.T) {
	m := newTestManager()
	a := m.Create(resourceThreat(MetricCPU, "one"))
	m.Create(resourceThreat(MetricMemory, "two"))
	m.Escalate(a.ID)

	stats := m.Statistics()
	if stats.TotalAlerts != 2 || stats.ActiveAlerts != 1 || stats.EscalatedAlerts != 1 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if stats.BySeverity[SeverityMedium] != 2 {
		t.Fatalf("unexpected severity breakdown: %v", stats.BySeverity)
	}
	if stats.TotalHistory != 2 {
		t.Fatalf("expected 2 history entries, got %d", stats.TotalHistory)
	}
}

func TestCleanupHistory(t *testing.T) {
	m := newTestManager()
	m.Create(resourceThreat(MetricCPU, "recent"))
	// Age one entry past the cutoff directly.
	m.mu.Lock()
	old := m.history[0]
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	m.history = append(m.history, old)
	m.mu.Unlock()

	if n := m.CleanupHistory(24 * time.Hour); n != 1 {
		t.Fatalf("expected one entry removed, got %d", n)
	}
	if len(m.History()) != 1 {
		t.Fatalf("recent entry should survive cleanup")
	}
}
