package secmon

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

const (
	sourceSystemMonitor   = "system_monitor"
	sourceNetworkMonitor  = "network_monitor"
	sourceSecurityMonitor = "security_monitor"
	sourcePatternAnalyzer = "pattern_analyzer"
	sourceThreatDetector  = "threat_detector"

	// failedLoginPattern is the substring brute-force counting matches on.
	failedLoginPattern = "Failed login attempt"

	// maxEventPreview caps how many raw events ride along in aggregate
	// threat details.
	maxEventPreview = 5

	// trendWindow is how many trailing snapshots trend checks consider.
	trendWindow = 3

	analysisHistoryCap = 100
)

// Detector evaluates one snapshot history against the rule catalog and
// produces zero or more Threats per pass. It is stateless apart from the
// cooldown tracker and its own bookkeeping.
type Detector struct {
	catalog  *Catalog
	cooldown *CooldownTracker
	logger   log.Logger
	metrics  MetricsCollector

	mu         sync.Mutex
	history    []AnalysisRecord
	byType     map[ThreatType]int
	bySeverity map[Severity]int
	bySource   map[string]int
	total      int
}

// NewDetector builds a detector bound to a catalog. The cooldown window
// comes from the catalog's thresholds.
func NewDetector(catalog *Catalog, logger log.Logger) *Detector {
	return &Detector{
		catalog:    catalog,
		cooldown:   NewCooldownTracker(catalog.Thresholds().Cooldown),
		logger:     logger,
		metrics:    noopMetrics{},
		byType:     make(map[ThreatType]int),
		bySeverity: make(map[Severity]int),
		bySource:   make(map[string]int),
	}
}

// SetMetrics attaches an ops metrics collector. Must be called before the
// first Analyze.
func (d *Detector) SetMetrics(m MetricsCollector) {
	if m != nil {
		d.metrics = m
	}
}

// threatID builds a process-unique identifier from a timestamp plus a
// random disambiguator.
func threatID(kind string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", kind, now.Unix(), uuid.NewString()[:8])
}

// Analyze runs every detection section over the history. Sections are
// additive and independent: all applicable rules fire in the same pass. A
// panicking section is isolated into a single analysis_error Threat instead
// of aborting the pass.
func (d *Detector) Analyze(history SnapshotHistory) (threats []Threat) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("panic", fmt.Sprint(r)).Msg("threat analysis failed")
			threats = []Threat{d.errorThreat(SeverityCritical, fmt.Sprintf("Error in threat analysis: %v", r))}
		}
		d.record(started, len(threats), threats)
	}()

	thresholds := d.catalog.Thresholds()
	d.cooldown.SetWindow(thresholds.Cooldown)

	threats = append(threats, d.runSection("system metrics", func() []Threat {
		return d.analyzeSystem(history, thresholds)
	})...)
	threats = append(threats, d.runSection("network traffic", func() []Threat {
		return d.analyzeNetwork(history, thresholds)
	})...)
	threats = append(threats, d.runSection("security events", func() []Threat {
		return d.analyzeEvents(history.Events, thresholds)
	})...)
	threats = append(threats, d.runSection("patterns", func() []Threat {
		return d.analyzeTrends(history, thresholds)
	})...)
	return threats
}

// runSection isolates one detection section: a panic inside it yields a
// single medium analysis_error Threat.
func (d *Detector) runSection(name string, fn func() []Threat) (out []Threat) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().Str("section", name).Str("panic", fmt.Sprint(r)).Msg("detection section failed")
			out = []Threat{d.errorThreat(SeverityMedium, fmt.Sprintf("Error analyzing %s: %v", name, r))}
		}
	}()
	return fn()
}

func (d *Detector) errorThreat(sev Severity, description string) Threat {
	now := time.Now()
	return Threat{
		ID:          threatID("analysis_error", now),
		Timestamp:   now,
		Type:        ThreatAnalysisError,
		Severity:    sev,
		Description: description,
		Source:      sourceThreatDetector,
		Status:      "detected",
	}
}

func (d *Detector) analyzeSystem(history SnapshotHistory, t DetectionThresholds) []Threat {
	sys, ok := history.LatestSystem()
	if !ok {
		return nil
	}
	now := time.Now()
	severity := d.catalog.SeverityFor(ThreatResourceAbuse)
	var threats []Threat

	if sys.CPU.UsagePercent > t.CPUPercent {
		threats = append(threats, Threat{
			ID:          threatID("cpu_abuse", now),
			Timestamp:   now,
			Type:        ThreatResourceAbuse,
			Severity:    severity,
			Description: fmt.Sprintf("High CPU usage detected: %.1f%%", sys.CPU.UsagePercent),
			Source:      sourceSystemMonitor,
			MetricKind:  MetricCPU,
			Details: map[string]any{
				"cpu_usage": sys.CPU.UsagePercent,
				"threshold": t.CPUPercent,
			},
			Status: "detected",
		})
	}
	if sys.Memory.UsagePercent > t.MemoryPercent {
		threats = append(threats, Threat{
			ID:          threatID("memory_abuse", now),
			Timestamp:   now,
			Type:        ThreatResourceAbuse,
			Severity:    severity,
			Description: fmt.Sprintf("High memory usage detected: %.1f%%", sys.Memory.UsagePercent),
			Source:      sourceSystemMonitor,
			MetricKind:  MetricMemory,
			Details: map[string]any{
				"memory_usage": sys.Memory.UsagePercent,
				"threshold":    t.MemoryPercent,
			},
			Status: "detected",
		})
	}
	if sys.Disk.UsagePercent > t.DiskPercent {
		threats = append(threats, Threat{
			ID:          threatID("disk_abuse", now),
			Timestamp:   now,
			Type:        ThreatResourceAbuse,
			Severity:    severity,
			Description: fmt.Sprintf("High disk usage detected: %.1f%%", sys.Disk.UsagePercent),
			Source:      sourceSystemMonitor,
			MetricKind:  MetricDisk,
			Details: map[string]any{
				"disk_usage": sys.Disk.UsagePercent,
				"threshold":  t.DiskPercent,
			},
			Status: "detected",
		})
	}
	if sys.Processes.TotalCount > t.ProcessCount && d.cooldown.Allow(ThreatSuspiciousProcess, now) {
		threats = append(threats, Threat{
			ID:          threatID("process_anomaly", now),
			Timestamp:   now,
			Type:        ThreatSuspiciousProcess,
			Severity:    d.catalog.SeverityFor(ThreatSuspiciousProcess),
			Description: fmt.Sprintf("Unusually high number of processes: %d", sys.Processes.TotalCount),
			Source:      sourceSystemMonitor,
			MetricKind:  MetricProcessCount,
			Details: map[string]any{
				"process_count": sys.Processes.TotalCount,
				"threshold":     t.ProcessCount,
			},
			Status: "detected",
		})
	}
	return threats
}

func (d *Detector) analyzeNetwork(history SnapshotHistory, t DetectionThresholds) []Threat {
	netw, ok := history.LatestNetwork()
	if !ok {
		return nil
	}
	now := time.Now()
	severity := d.catalog.SeverityFor(ThreatNetworkAnomaly)
	var threats []Threat

	if netw.Connections.Total > t.ConnectionCount {
		threats = append(threats, Threat{
			ID:          threatID("network_anomaly", now),
			Timestamp:   now,
			Type:        ThreatNetworkAnomaly,
			Severity:    severity,
			Description: fmt.Sprintf("Excessive network connections detected: %d", netw.Connections.Total),
			Source:      sourceNetworkMonitor,
			MetricKind:  MetricConnections,
			Details: map[string]any{
				"connection_count": netw.Connections.Total,
				"threshold":        t.ConnectionCount,
			},
			Status: "detected",
		})
	}
	if netw.Connections.Listening > t.ListeningPorts {
		threats = append(threats, Threat{
			ID:          threatID("port_scan", now),
			Timestamp:   now,
			Type:        ThreatNetworkAnomaly,
			Severity:    severity,
			Description: fmt.Sprintf("High number of listening ports: %d", netw.Connections.Listening),
			Source:      sourceNetworkMonitor,
			MetricKind:  MetricListeningPorts,
			Details: map[string]any{
				"listening_ports": netw.Connections.Listening,
				"threshold":       t.ListeningPorts,
			},
			Status: "detected",
		})
	}
	if netw.Traffic.ErrorsIn > t.NetworkErrors || netw.Traffic.ErrorsOut > t.NetworkErrors {
		threats = append(threats, Threat{
			ID:          threatID("network_errors", now),
			Timestamp:   now,
			Type:        ThreatNetworkAnomaly,
			Severity:    SeverityMedium,
			Description: "High network error rate detected",
			Source:      sourceNetworkMonitor,
			MetricKind:  MetricNetworkErrors,
			Details: map[string]any{
				"errors_in":  netw.Traffic.ErrorsIn,
				"errors_out": netw.Traffic.ErrorsOut,
			},
			Status: "detected",
		})
	}
	return threats
}

func (d *Detector) analyzeEvents(events []LogEvent, t DetectionThresholds) []Threat {
	if len(events) == 0 {
		return nil
	}
	now := time.Now()
	var threats []Threat

	var highSeverity []LogEvent
	failedLogins := 0
	for _, ev := range events {
		if ev.Severity == SeverityHigh {
			highSeverity = append(highSeverity, ev)
		}
		if strings.Contains(ev.Message, failedLoginPattern) {
			failedLogins++
		}
	}

	if len(highSeverity) > 0 {
		preview := highSeverity
		if len(preview) > maxEventPreview {
			preview = preview[:maxEventPreview]
		}
		threats = append(threats, Threat{
			ID:          threatID("high_severity_events", now),
			Timestamp:   now,
			Type:        ThreatSecurityEvent,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Multiple high severity security events detected: %d", len(highSeverity)),
			Source:      sourceSecurityMonitor,
			Details: map[string]any{
				"high_severity_count": len(highSeverity),
				"events":              preview,
			},
			Status: "detected",
		})
	}

	if failedLogins >= t.FailedLogins {
		threats = append(threats, Threat{
			ID:          threatID("brute_force", now),
			Timestamp:   now,
			Type:        ThreatBruteForce,
			Severity:    d.catalog.SeverityFor(ThreatBruteForce),
			Description: fmt.Sprintf("Potential brute force attack detected: %d failed login attempts", failedLogins),
			Source:      sourceSecurityMonitor,
			Details: map[string]any{
				"failed_attempts": failedLogins,
				"threshold":       t.FailedLogins,
			},
			Status: "detected",
		})
	}
	return threats
}

func (d *Detector) analyzeTrends(history SnapshotHistory, t DetectionThresholds) []Threat {
	now := time.Now()
	var threats []Threat

	if len(history.System) >= trendWindow {
		recent := history.RecentSystem(trendWindow)
		trend := make([]float64, 0, len(recent))
		for _, s := range recent {
			trend = append(trend, s.CPU.UsagePercent)
		}
		increase := trend[len(trend)-1] - trend[0]
		if increase > t.CPUTrendDelta {
			threats = append(threats, Threat{
				ID:          threatID("rapid_cpu_increase", now),
				Timestamp:   now,
				Type:        ThreatResourceAbuse,
				Severity:    SeverityMedium,
				Description: "Rapid CPU usage increase detected",
				Source:      sourcePatternAnalyzer,
				Details: map[string]any{
					"cpu_trend": trend,
					"increase":  increase,
				},
				Status: "detected",
			})
		}
	}

	if len(history.Network) >= trendWindow {
		recent := history.RecentNetwork(trendWindow)
		trend := make([]int, 0, len(recent))
		for _, n := range recent {
			trend = append(trend, n.Connections.Total)
		}
		spike := trend[len(trend)-1] - trend[0]
		if spike > t.ConnectionTrendDelta {
			threats = append(threats, Threat{
				ID:          threatID("network_spike", now),
				Timestamp:   now,
				Type:        ThreatNetworkAnomaly,
				Severity:    SeverityMedium,
				Description: "Sudden network traffic spike detected",
				Source:      sourcePatternAnalyzer,
				Details: map[string]any{
					"connection_trend": trend,
					"spike":            spike,
				},
				Status: "detected",
			})
		}
	}
	return threats
}

// record updates the analysis history ring and the running threat counters.
func (d *Detector) record(started time.Time, found int, threats []Threat) {
	rec := AnalysisRecord{
		Timestamp:    started,
		ThreatsFound: found,
		Duration:     time.Since(started),
	}
	d.mu.Lock()
	d.history = append(d.history, rec)
	if len(d.history) > analysisHistoryCap {
		d.history = d.history[len(d.history)-analysisHistoryCap:]
	}
	for _, t := range threats {
		d.total++
		d.byType[t.Type]++
		d.bySeverity[t.Severity]++
		d.bySource[t.Source]++
	}
	d.mu.Unlock()

	d.metrics.ObserveHistogram("analysis_duration_seconds", rec.Duration.Seconds(), nil)
	for _, t := range threats {
		d.metrics.IncrementCounter("threats_detected_total", map[string]string{
			"type":     string(t.Type),
			"severity": string(t.Severity),
		})
	}
}

// Statistics summarizes everything the detector has emitted so far.
func (d *Detector) Statistics() ThreatStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := ThreatStatistics{
		TotalThreats: d.total,
		ByType:       make(map[ThreatType]int, len(d.byType)),
		BySeverity:   make(map[Severity]int, len(d.bySeverity)),
		BySource:     make(map[string]int, len(d.bySource)),
	}
	for k, v := range d.byType {
		stats.ByType[k] = v
	}
	for k, v := range d.bySeverity {
		stats.BySeverity[k] = v
	}
	for k, v := range d.bySource {
		stats.BySource[k] = v
	}
	if len(d.history) > 0 {
		last := d.history[len(d.history)-1]
		stats.LastAnalysis = &last
	}
	return stats
}
