package secmon

import (
	"time"
)

// Severity classifies threats and alerts from low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityStyle carries the presentation attributes derived from a severity.
type SeverityStyle struct {
	Priority int    `json:"priority"`
	Color    string `json:"color"`
	Icon     string `json:"icon"`
}

var severityStyles = map[Severity]SeverityStyle{
	SeverityLow:      {Priority: 1, Color: "#28a745", Icon: "info-circle"},
	SeverityMedium:   {Priority: 2, Color: "#ffc107", Icon: "exclamation-triangle"},
	SeverityHigh:     {Priority: 3, Color: "#fd7e14", Icon: "exclamation-circle"},
	SeverityCritical: {Priority: 4, Color: "#dc3545", Icon: "times-circle"},
}

// Style returns the presentation attributes for the severity. Unknown
// severities fall back to a neutral style.
func (s Severity) Style() SeverityStyle {
	if style, ok := severityStyles[s]; ok {
		return style
	}
	return SeverityStyle{Priority: 1, Color: "#6c757d", Icon: "question-circle"}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	_, ok := severityStyles[s]
	return ok
}

// ThreatType names a detection rule family.
type ThreatType string

const (
	ThreatResourceAbuse     ThreatType = "resource_abuse"
	ThreatSuspiciousProcess ThreatType = "suspicious_process"
	ThreatNetworkAnomaly    ThreatType = "network_anomaly"
	ThreatSecurityEvent     ThreatType = "security_event"
	ThreatBruteForce        ThreatType = "brute_force"
	ThreatAnalysisError     ThreatType = "analysis_error"
)

// MetricKind identifies which measured metric a threat refers to, so the
// auto-resolve check can re-read the same metric later without parsing
// description text.
type MetricKind string

const (
	MetricNone           MetricKind = ""
	MetricCPU            MetricKind = "cpu_usage"
	MetricMemory         MetricKind = "memory_usage"
	MetricDisk           MetricKind = "disk_usage"
	MetricProcessCount   MetricKind = "process_count"
	MetricConnections    MetricKind = "connection_count"
	MetricListeningPorts MetricKind = "listening_ports"
	MetricNetworkErrors  MetricKind = "network_errors"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusEscalated AlertStatus = "escalated"
	StatusResolved  AlertStatus = "resolved"
)

// Threat is a single detected anomaly instance, produced by the Detector and
// consumed exactly once by the alert Manager. Never mutated after creation.
type Threat struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        ThreatType     `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	MetricKind  MetricKind     `json:"metric_kind,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Status      string         `json:"status"`
}

// Alert is the durable, stateful record derived from a Threat.
type Alert struct {
	ID                   string         `json:"id"`
	ThreatID             string         `json:"threat_id"`
	Timestamp            time.Time      `json:"timestamp"`
	Type                 ThreatType     `json:"type"`
	Severity             Severity       `json:"severity"`
	Description          string         `json:"description"`
	Source               string         `json:"source"`
	Status               AlertStatus    `json:"status"`
	Details              map[string]any `json:"details,omitempty"`
	Priority             int            `json:"priority"`
	Color                string         `json:"color"`
	Icon                 string         `json:"icon"`
	MetricKind           MetricKind     `json:"metric_kind,omitempty"`
	EscalationDeadline   time.Time      `json:"escalation_deadline"`
	AutoResolve          bool           `json:"auto_resolve"`
	ResolveThreshold     float64        `json:"resolve_threshold,omitempty"`
	NotificationChannels []string       `json:"notification_channels"`
	Acknowledged         bool           `json:"acknowledged"`
	AcknowledgedBy       string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt       *time.Time     `json:"acknowledged_at,omitempty"`
	Resolved             bool           `json:"resolved"`
	ResolvedBy           string         `json:"resolved_by,omitempty"`
	ResolvedAt           *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNotes      string         `json:"resolution_notes,omitempty"`
}

// CPUStats is the CPU section of a system snapshot.
type CPUStats struct {
	UsagePercent float64 `json:"usage_percent"`
	Count        int     `json:"count"`
	FrequencyMHz float64 `json:"frequency_mhz,omitempty"`
}

// MemoryStats is the memory section of a system snapshot.
type MemoryStats struct {
	TotalGB      float64 `json:"total_gb"`
	AvailableGB  float64 `json:"available_gb"`
	UsedGB       float64 `json:"used_gb"`
	UsagePercent float64 `json:"usage_percent"`
	SwapTotalGB  float64 `json:"swap_total_gb"`
	SwapUsedGB   float64 `json:"swap_used_gb"`
}

// DiskStats is the disk section of a system snapshot.
type DiskStats struct {
	TotalGB      float64 `json:"total_gb"`
	UsedGB       float64 `json:"used_gb"`
	FreeGB       float64 `json:"free_gb"`
	UsagePercent float64 `json:"usage_percent"`
	ReadBytes    uint64  `json:"read_bytes"`
	WriteBytes   uint64  `json:"write_bytes"`
}

// ProcessInfo describes one process in the top-by-memory list.
type ProcessInfo struct {
	Name          string  `json:"name"`
	PID           int32   `json:"pid"`
	MemoryPercent float32 `json:"memory_percent"`
}

// ProcessStats is the process section of a system snapshot.
type ProcessStats struct {
	TotalCount  int           `json:"total_count"`
	TopByMemory []ProcessInfo `json:"top_by_memory,omitempty"`
}

// SystemSnapshot is one timestamped read of host system state.
type SystemSnapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	CPU       CPUStats     `json:"cpu"`
	Memory    MemoryStats  `json:"memory"`
	Disk      DiskStats    `json:"disk"`
	Processes ProcessStats `json:"processes"`
}

// TrafficStats holds network interface counters.
type TrafficStats struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	ErrorsIn    uint64 `json:"errors_in"`
	ErrorsOut   uint64 `json:"errors_out"`
	DropsIn     uint64 `json:"drops_in"`
	DropsOut    uint64 `json:"drops_out"`
}

// ConnectionStats categorizes current connections by state.
type ConnectionStats struct {
	Total       int `json:"total"`
	Established int `json:"established"`
	Listening   int `json:"listening"`
	TimeWait    int `json:"time_wait"`
	CloseWait   int `json:"close_wait"`
	Other       int `json:"other"`
}

// InterfaceInfo describes one active network interface.
type InterfaceInfo struct {
	Name        string   `json:"name"`
	IPAddresses []string `json:"ip_addresses,omitempty"`
}

// NetworkSnapshot is one timestamped read of host network state.
type NetworkSnapshot struct {
	Timestamp   time.Time       `json:"timestamp"`
	Traffic     TrafficStats    `json:"traffic"`
	Connections ConnectionStats `json:"connections"`
	Interfaces  []InterfaceInfo `json:"interfaces,omitempty"`
	LocalIP     string          `json:"local_ip,omitempty"`
}

// LogEvent is one collected security-relevant log entry.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}

// SnapshotHistory is the bounded trailing view the Detector analyzes:
// newest entries last.
type SnapshotHistory struct {
	System  []SystemSnapshot  `json:"system_metrics"`
	Network []NetworkSnapshot `json:"network_traffic"`
	Events  []LogEvent        `json:"security_events"`
}

// LatestSystem returns the most recent system snapshot, if any.
func (h SnapshotHistory) LatestSystem() (SystemSnapshot, bool) {
	if len(h.System) == 0 {
		return SystemSnapshot{}, false
	}
	return h.System[len(h.System)-1], true
}

// LatestNetwork returns the most recent network snapshot, if any.
func (h SnapshotHistory) LatestNetwork() (NetworkSnapshot, bool) {
	if len(h.Network) == 0 {
		return NetworkSnapshot{}, false
	}
	return h.Network[len(h.Network)-1], true
}

// RecentSystem returns up to n trailing system snapshots, oldest first.
func (h SnapshotHistory) RecentSystem(n int) []SystemSnapshot {
	if len(h.System) <= n {
		return h.System
	}
	return h.System[len(h.System)-n:]
}

// RecentNetwork returns up to n trailing network snapshots, oldest first.
func (h SnapshotHistory) RecentNetwork(n int) []NetworkSnapshot {
	if len(h.Network) <= n {
		return h.Network
	}
	return h.Network[len(h.Network)-n:]
}

// AlertStatistics aggregates counts over the active-alert set and history.
type AlertStatistics struct {
	TotalAlerts     int                 `json:"total_alerts"`
	ActiveAlerts    int                 `json:"active_alerts"`
	EscalatedAlerts int                 `json:"escalated_alerts"`
	BySeverity      map[Severity]int    `json:"by_severity"`
	ByType          map[ThreatType]int  `json:"by_type"`
	ByStatus        map[AlertStatus]int `json:"by_status"`
	TotalHistory    int                 `json:"total_history"`
}

// AnalysisRecord summarizes one detector pass.
type AnalysisRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	ThreatsFound int           `json:"threats_found"`
	Duration     time.Duration `json:"analysis_duration"`
}

// ThreatStatistics aggregates counts over everything the detector has emitted.
type ThreatStatistics struct {
	TotalThreats int                `json:"total_threats"`
	ByType       map[ThreatType]int `json:"by_type"`
	BySeverity   map[Severity]int   `json:"by_severity"`
	BySource     map[string]int     `json:"by_source"`
	LastAnalysis *AnalysisRecord    `json:"last_analysis,omitempty"`
}
