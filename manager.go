package secmon

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

const (
	alertHistoryCap = 1000

	// AutoResolveActor is recorded as the resolver on auto-resolved alerts.
	AutoResolveActor = "system_auto_resolve"

	// Fixed secondary thresholds for network auto-resolution.
	autoResolveConnections    = 1000
	autoResolveListeningPorts = 30
)

// Manager owns the active-alert set and the bounded alert history. All
// mutation happens behind one mutex: the monitor loop creates and
// auto-resolves alerts while request handlers acknowledge, resolve and
// escalate them concurrently.
type Manager struct {
	mu         sync.RWMutex
	active     []*Alert
	history    []Alert
	historyCap int

	catalog  *Catalog
	logger   log.Logger
	metrics  MetricsCollector
	notifier *NotificationRegistry
}

// NewManager builds an alert manager bound to a rule catalog. The notifier
// is optional; pass nil to skip dispatch.
func NewManager(catalog *Catalog, logger log.Logger, notifier *NotificationRegistry) *Manager {
	return &Manager{
		historyCap: alertHistoryCap,
		catalog:    catalog,
		logger:     logger,
		metrics:    noopMetrics{},
		notifier:   notifier,
	}
}

// SetMetrics attaches an ops metrics collector. Must be called before the
// first Create.
func (m *Manager) SetMetrics(mc MetricsCollector) {
	if mc != nil {
		m.metrics = mc
	}
}

// Create converts a Threat into a new active Alert. It is best-effort:
// internal failures are logged and yield nil instead of propagating, so one
// bad threat never stalls the pipeline.
func (m *Manager) Create(threat Threat) (alert *Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("panic", fmt.Sprint(r)).Str("threat_id", threat.ID).Msg("error creating alert")
			alert = nil
		}
	}()

	now := time.Now()
	severity := threat.Severity
	if severity == "" {
		severity = SeverityMedium
	}
	style := severity.Style()
	rule := m.catalog.RuleFor(threat.Type)

	a := &Alert{
		ID:                   fmt.Sprintf("alert_%d_%s", now.Unix(), uuid.NewString()[:8]),
		ThreatID:             threat.ID,
		Timestamp:            now,
		Type:                 threat.Type,
		Severity:             severity,
		Description:          threat.Description,
		Source:               threat.Source,
		Status:               StatusActive,
		Details:              threat.Details,
		Priority:             style.Priority,
		Color:                style.Color,
		Icon:                 style.Icon,
		MetricKind:           threat.MetricKind,
		EscalationDeadline:   now.Add(rule.EscalationDelay),
		AutoResolve:          rule.AutoResolve,
		ResolveThreshold:     rule.ResolveThreshold,
		NotificationChannels: rule.NotificationChannels,
	}

	m.mu.Lock()
	m.active = append(m.active, a)
	// History keeps a creation-time copy, untouched by later lifecycle
	// mutations. Oldest entries are evicted first.
	m.history = append(m.history, *a)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
	activeCount := len(m.active)
	m.mu.Unlock()

	m.logger.Info().
		Str("alert_id", a.ID).
		Str("type", string(a.Type)).
		Str("severity", string(a.Severity)).
		Str("description", a.Description).
		Msg("new alert created")
	m.metrics.IncrementCounter("alerts_created_total", map[string]string{"type": string(a.Type)})
	m.metrics.SetGauge("active_alerts", float64(activeCount), nil)

	if m.notifier != nil {
		m.notifier.Dispatch(*a)
	}
	return a
}

// findLocked returns the active alert with the given id. Callers hold m.mu.
func (m *Manager) findLocked(id string) (int, *Alert) {
	for i, a := range m.active {
		if a.ID == id {
			return i, a
		}
	}
	return -1, nil
}

// Find returns a copy of the active alert with the given id.
func (m *Manager) Find(id string) (Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, a := m.findLocked(id); a != nil {
		return *a, true
	}
	return Alert{}, false
}

// Acknowledge marks an alert as acknowledged by actor. It does not change
// the alert's status. Returns false if the id is not in the active set.
func (m *Manager) Acknowledge(id, actor string) bool {
	m.mu.Lock()
	_, a := m.findLocked(id)
	if a == nil {
		m.mu.Unlock()
		return false
	}
	now := time.Now()
	a.Acknowledged = true
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = &now
	m.mu.Unlock()

	m.logger.Info().Str("alert_id", id).Str("actor", actor).Msg("alert acknowledged")
	return true
}

// Resolve marks an alert resolved and removes it from the active set. The
// history copy is unaffected. Returns false if the id is not found.
func (m *Manager) Resolve(id, actor, notes string) bool {
	m.mu.Lock()
	idx, a := m.findLocked(id)
	if a == nil {
		m.mu.Unlock()
		return false
	}
	now := time.Now()
	a.Resolved = true
	a.ResolvedBy = actor
	a.ResolvedAt = &now
	a.ResolutionNotes = notes
	a.Status = StatusResolved
	m.active = append(m.active[:idx], m.active[idx+1:]...)
	activeCount := len(m.active)
	m.mu.Unlock()

	m.logger.Info().Str("alert_id", id).Str("actor", actor).Msg("alert resolved")
	m.metrics.IncrementCounter("alerts_resolved_total", map[string]string{"actor": actor})
	m.metrics.SetGauge("active_alerts", float64(activeCount), nil)
	return true
}

// Escalate transitions an alert from active to escalated and stamps the
// escalation deadline with now. Returns false if the id is not found or the
// alert is not currently active.
func (m *Manager) Escalate(id string) bool {
	m.mu.Lock()
	_, a := m.findLocked(id)
	if a == nil || a.Status != StatusActive {
		m.mu.Unlock()
		return false
	}
	a.Status = StatusEscalated
	a.EscalationDeadline = time.Now()
	m.mu.Unlock()

	m.logger.Warn().Str("alert_id", id).Msg("alert escalated")
	m.metrics.IncrementCounter("alerts_escalated_total", nil)
	return true
}

// CheckEscalations escalates every overdue, active, unescalated alert under
// the scheduled policy, comparing now against each alert's escalation
// deadline. Under the manual policy it does nothing. Returns the number of
// alerts escalated.
func (m *Manager) CheckEscalations(now time.Time) int {
	if m.catalog.Policy() != EscalationScheduled {
		return 0
	}
	m.mu.RLock()
	var overdue []string
	for _, a := range m.active {
		if a.Status == StatusActive && !a.Resolved && !a.EscalationDeadline.After(now) {
			overdue = append(overdue, a.ID)
		}
	}
	m.mu.RUnlock()

	escalated := 0
	for _, id := range overdue {
		if m.Escalate(id) {
			escalated++
		}
	}
	return escalated
}

// AutoResolve resolves eligible active alerts whose underlying metric has
// dropped back below its resolve threshold, reading the current value from
// the latest snapshots. Returns the number resolved.
func (m *Manager) AutoResolve(current SnapshotHistory) int {
	m.mu.RLock()
	candidates := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		if a.AutoResolve {
			candidates = append(candidates, *a)
		}
	}
	m.mu.RUnlock()

	resolved := 0
	for _, a := range candidates {
		cleared, notes := metricCleared(a, current)
		if !cleared {
			continue
		}
		if m.Resolve(a.ID, AutoResolveActor, notes) {
			resolved++
		}
	}
	if resolved > 0 {
		m.logger.Info().Int("count", resolved).Msg("auto-resolved alerts")
	}
	return resolved
}

// metricCleared reports whether the alert's underlying condition has
// subsided, keyed off the structured metric kind rather than description
// text.
func metricCleared(a Alert, current SnapshotHistory) (bool, string) {
	switch a.MetricKind {
	case MetricCPU, MetricMemory, MetricDisk:
		sys, ok := current.LatestSystem()
		if !ok {
			return false, ""
		}
		var value float64
		switch a.MetricKind {
		case MetricCPU:
			value = sys.CPU.UsagePercent
		case MetricMemory:
			value = sys.Memory.UsagePercent
		default:
			value = sys.Disk.UsagePercent
		}
		if value < a.ResolveThreshold {
			return true, "Resource usage normalized"
		}
	case MetricConnections:
		netw, ok := current.LatestNetwork()
		if ok && netw.Connections.Total < autoResolveConnections {
			return true, "Network activity normalized"
		}
	case MetricListeningPorts:
		netw, ok := current.LatestNetwork()
		if ok && netw.Connections.Listening < autoResolveListeningPorts {
			return true, "Network activity normalized"
		}
	}
	return false, ""
}

// Alerts returns copies of every alert in the active set, including
// escalated ones.
func (m *Manager) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	return out
}

// ActiveAlerts returns copies of alerts whose status is active.
func (m *Manager) ActiveAlerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Alert
	for _, a := range m.active {
		if a.Status == StatusActive {
			out = append(out, *a)
		}
	}
	return out
}

// AlertsBySeverity filters the active set by severity.
func (m *Manager) AlertsBySeverity(sev Severity) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Alert
	for _, a := range m.active {
		if a.Severity == sev {
			out = append(out, *a)
		}
	}
	return out
}

// AlertsByType filters the active set by threat type.
func (m *Manager) AlertsByType(tt ThreatType) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Alert
	for _, a := range m.active {
		if a.Type == tt {
			out = append(out, *a)
		}
	}
	return out
}

// History returns copies of the bounded alert history, oldest first.
func (m *Manager) History() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.history))
	copy(out, m.history)
	return out
}

// Statistics aggregates counts over the active set and history size.
func (m *Manager) Statistics() AlertStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := AlertStatistics{
		TotalAlerts:  len(m.active),
		BySeverity:   make(map[Severity]int),
		ByType:       make(map[ThreatType]int),
		ByStatus:     make(map[AlertStatus]int),
		TotalHistory: len(m.history),
	}
	for _, a := range m.active {
		stats.BySeverity[a.Severity]++
		stats.ByType[a.Type]++
		stats.ByStatus[a.Status]++
		switch a.Status {
		case StatusActive:
			stats.ActiveAlerts++
		case StatusEscalated:
			stats.EscalatedAlerts++
		}
	}
	return stats
}

// CleanupHistory drops history entries older than maxAge. The active set is
// untouched. Returns the number of entries removed.
func (m *Manager) CleanupHistory(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[:0]
	for _, a := range m.history {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(m.history) - len(kept)
	m.history = kept
	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("cleaned up old alerts from history")
	}
	return removed
}
