package secmon

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// EscalationPolicy selects how overdue alerts get escalated.
type EscalationPolicy string

const (
	// EscalationScheduled escalates overdue active alerts from the monitor
	// loop each tick.
	EscalationScheduled EscalationPolicy = "scheduled"
	// EscalationManual leaves escalation entirely to explicit calls.
	EscalationManual EscalationPolicy = "manual"
)

// DetectionThresholds are the numeric trigger points for the detector.
type DetectionThresholds struct {
	CPUPercent           float64       `json:"cpu_percent"`
	MemoryPercent        float64       `json:"memory_percent"`
	DiskPercent          float64       `json:"disk_percent"`
	ProcessCount         int           `json:"process_count"`
	ConnectionCount      int           `json:"connection_count"`
	ListeningPorts       int           `json:"listening_ports"`
	NetworkErrors        uint64        `json:"network_errors"`
	FailedLogins         int           `json:"failed_logins"`
	CPUTrendDelta        float64       `json:"cpu_trend_delta"`
	ConnectionTrendDelta int           `json:"connection_trend_delta"`
	Cooldown             time.Duration `json:"-"`
	CooldownSeconds      int           `json:"cooldown_seconds"`
}

// AlertRule is the lifecycle configuration applied to alerts of one threat
// type: auto-resolve eligibility, escalation timing and notification fan-out.
type AlertRule struct {
	AutoResolve          bool          `json:"auto_resolve"`
	ResolveThreshold     float64       `json:"resolve_threshold,omitempty"`
	EscalationDelay      time.Duration `json:"-"`
	EscalationSeconds    int           `json:"escalation_seconds"`
	NotificationChannels []string      `json:"notification_channels"`
}

// catalogFile is the on-disk JSON shape. Absent sections keep defaults.
type catalogFile struct {
	EscalationPolicy EscalationPolicy         `json:"escalation_policy,omitempty"`
	Thresholds       *DetectionThresholds     `json:"thresholds,omitempty"`
	Severities       map[ThreatType]Severity  `json:"severities,omitempty"`
	AlertRules       map[ThreatType]AlertRule `json:"alert_rules,omitempty"`
}

// Catalog is the immutable-per-read rule configuration shared by the
// detector and the alert manager. Reads take a copy under RLock so a hot
// reload never tears a pass in progress.
type Catalog struct {
	mu         sync.RWMutex
	thresholds DetectionThresholds
	severities map[ThreatType]Severity
	rules      map[ThreatType]AlertRule
	policy     EscalationPolicy

	logger  log.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func defaultThresholds() DetectionThresholds {
	return DetectionThresholds{
		CPUPercent:           95,
		MemoryPercent:        98,
		DiskPercent:          95,
		ProcessCount:         500,
		ConnectionCount:      1500,
		ListeningPorts:       50,
		NetworkErrors:        100,
		FailedLogins:         5,
		CPUTrendDelta:        30,
		ConnectionTrendDelta: 500,
		Cooldown:             60 * time.Second,
	}
}

func defaultSeverities() map[ThreatType]Severity {
	return map[ThreatType]Severity{
		ThreatResourceAbuse:     SeverityMedium,
		ThreatSuspiciousProcess: SeverityMedium,
		ThreatNetworkAnomaly:    SeverityHigh,
		ThreatBruteForce:        SeverityHigh,
	}
}

func defaultRules() map[ThreatType]AlertRule {
	return map[ThreatType]AlertRule{
		ThreatResourceAbuse: {
			AutoResolve:          true,
			ResolveThreshold:     70,
			EscalationDelay:      5 * time.Minute,
			NotificationChannels: []string{"dashboard", "log"},
		},
		ThreatNetworkAnomaly: {
			AutoResolve:          false,
			EscalationDelay:      3 * time.Minute,
			NotificationChannels: []string{"dashboard", "log", "email"},
		},
		ThreatBruteForce: {
			AutoResolve:          false,
			EscalationDelay:      time.Minute,
			NotificationChannels: []string{"dashboard", "log", "email", "sms"},
		},
		ThreatSecurityEvent: {
			AutoResolve:          false,
			EscalationDelay:      2 * time.Minute,
			NotificationChannels: []string{"dashboard", "log", "email"},
		},
	}
}

// fallbackRule applies to threat types with no configured rule.
func fallbackRule() AlertRule {
	return AlertRule{
		AutoResolve:          false,
		EscalationDelay:      5 * time.Minute,
		NotificationChannels: []string{"dashboard"},
	}
}

// DefaultCatalog returns a catalog with the built-in rule set.
func DefaultCatalog(logger log.Logger) *Catalog {
	return &Catalog{
		thresholds: defaultThresholds(),
		severities: defaultSeverities(),
		rules:      defaultRules(),
		policy:     EscalationScheduled,
		logger:     logger,
	}
}

// LoadCatalog builds a catalog from defaults overlaid with the JSON file at
// path. A missing file is not an error; a malformed or invalid one is.
func LoadCatalog(path string, logger log.Logger) (*Catalog, error) {
	c := DefaultCatalog(logger)
	if path == "" {
		return c, nil
	}
	if err := c.loadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read rule catalog %s: %v", path, err)
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse rule catalog %s: %v", path, err)
	}
	if err := validateCatalogFile(&file); err != nil {
		return fmt.Errorf("invalid rule catalog %s: %v", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if file.EscalationPolicy != "" {
		c.policy = file.EscalationPolicy
	}
	if file.Thresholds != nil {
		c.thresholds = overlayThresholds(c.thresholds, *file.Thresholds)
	}
	for tt, sev := range file.Severities {
		c.severities[tt] = sev
	}
	for tt, rule := range file.AlertRules {
		if rule.EscalationSeconds > 0 {
			rule.EscalationDelay = time.Duration(rule.EscalationSeconds) * time.Second
		}
		if len(rule.NotificationChannels) == 0 {
			rule.NotificationChannels = []string{"dashboard"}
		}
		c.rules[tt] = rule
	}
	return nil
}

// overlayThresholds applies the file's threshold section onto base one field
// at a time. Zero or absent fields keep the base value, so a partial file
// never disables checks it does not mention.
func overlayThresholds(base, file DetectionThresholds) DetectionThresholds {
	out := base
	if file.CPUPercent > 0 {
		out.CPUPercent = file.CPUPercent
	}
	if file.MemoryPercent > 0 {
		out.MemoryPercent = file.MemoryPercent
	}
	if file.DiskPercent > 0 {
		out.DiskPercent = file.DiskPercent
	}
	if file.ProcessCount > 0 {
		out.ProcessCount = file.ProcessCount
	}
	if file.ConnectionCount > 0 {
		out.ConnectionCount = file.ConnectionCount
	}
	if file.ListeningPorts > 0 {
		out.ListeningPorts = file.ListeningPorts
	}
	if file.NetworkErrors > 0 {
		out.NetworkErrors = file.NetworkErrors
	}
	if file.FailedLogins > 0 {
		out.FailedLogins = file.FailedLogins
	}
	if file.CPUTrendDelta > 0 {
		out.CPUTrendDelta = file.CPUTrendDelta
	}
	if file.ConnectionTrendDelta > 0 {
		out.ConnectionTrendDelta = file.ConnectionTrendDelta
	}
	if file.CooldownSeconds > 0 {
		out.Cooldown = time.Duration(file.CooldownSeconds) * time.Second
	}
	return out
}

func validateCatalogFile(file *catalogFile) error {
	switch file.EscalationPolicy {
	case "", EscalationScheduled, EscalationManual:
	default:
		return fmt.Errorf("unknown escalation policy %q", file.EscalationPolicy)
	}
	// Zero threshold fields mean "keep the default", so only reject values
	// that are set and out of range.
	if t := file.Thresholds; t != nil {
		if t.CPUPercent < 0 || t.CPUPercent > 100 {
			return fmt.Errorf("cpu_percent out of range: %v", t.CPUPercent)
		}
		if t.MemoryPercent < 0 || t.MemoryPercent > 100 {
			return fmt.Errorf("memory_percent out of range: %v", t.MemoryPercent)
		}
		if t.DiskPercent < 0 || t.DiskPercent > 100 {
			return fmt.Errorf("disk_percent out of range: %v", t.DiskPercent)
		}
		if t.ProcessCount < 0 || t.ConnectionCount < 0 || t.ListeningPorts < 0 {
			return fmt.Errorf("count thresholds must not be negative")
		}
		if t.FailedLogins < 0 {
			return fmt.Errorf("failed_logins must not be negative")
		}
		if t.CPUTrendDelta < 0 || t.ConnectionTrendDelta < 0 {
			return fmt.Errorf("trend deltas must not be negative")
		}
		if t.CooldownSeconds < 0 {
			return fmt.Errorf("cooldown_seconds must not be negative")
		}
	}
	for tt, sev := range file.Severities {
		if !sev.Valid() {
			return fmt.Errorf("rule %s has invalid severity %q", tt, sev)
		}
	}
	for tt, rule := range file.AlertRules {
		if rule.AutoResolve && rule.ResolveThreshold <= 0 {
			return fmt.Errorf("rule %s auto-resolves but has no resolve threshold", tt)
		}
		if rule.EscalationSeconds < 0 {
			return fmt.Errorf("rule %s has negative escalation_seconds", tt)
		}
	}
	return nil
}

// Watch reloads the catalog whenever the file at path changes. Reload
// failures keep the previous configuration.
func (c *Catalog) Watch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}
	c.watcher = watcher
	c.done = make(chan struct{})
	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.loadFile(path); err != nil {
					c.logger.Error().Err(err).Str("path", path).Msg("rule catalog reload failed")
					continue
				}
				c.logger.Info().Str("path", path).Msg("rule catalog reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error().Err(err).Msg("rule catalog watcher error")
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the catalog watcher, if one is running.
func (c *Catalog) Close() {
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}

// Thresholds returns a copy of the current detection thresholds.
func (c *Catalog) Thresholds() DetectionThresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

// SeverityFor returns the configured severity for a threat type, defaulting
// to medium for unknown types.
func (c *Catalog) SeverityFor(tt ThreatType) Severity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sev, ok := c.severities[tt]; ok {
		return sev
	}
	return SeverityMedium
}

// RuleFor returns the lifecycle rule for a threat type, falling back to a
// sane default for unknown types. The returned rule is a copy.
func (c *Catalog) RuleFor(tt ThreatType) AlertRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rule, ok := c.rules[tt]
	if !ok {
		return fallbackRule()
	}
	channels := make([]string, len(rule.NotificationChannels))
	copy(channels, rule.NotificationChannels)
	rule.NotificationChannels = channels
	return rule
}

// Policy returns the current escalation policy.
func (c *Catalog) Policy() EscalationPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}
