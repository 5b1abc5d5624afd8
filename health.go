package secmon

import (
	"time"
)

// Health warning thresholds, softer than the detection thresholds so the
// dashboard degrades before the detector fires.
const (
	healthCPUPercent    = 80.0
	healthMemoryPercent = 85.0
	healthDiskPercent   = 90.0
)

// HealthSummary is the overall system health view served to dashboards.
type HealthSummary struct {
	Timestamp   time.Time `json:"timestamp"`
	HealthScore int       `json:"health_score"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	DiskUsage   float64   `json:"disk_usage"`
	Status      string    `json:"status"`
}

// SystemHealth scores the latest system snapshot: 100 minus 20 per breached
// threshold, floored at zero.
func SystemHealth(snap SystemSnapshot) HealthSummary {
	score := 100
	if snap.CPU.UsagePercent > healthCPUPercent {
		score -= 20
	}
	if snap.Memory.UsagePercent > healthMemoryPercent {
		score -= 20
	}
	if snap.Disk.UsagePercent > healthDiskPercent {
		score -= 20
	}
	if score < 0 {
		score = 0
	}
	status := "critical"
	switch {
	case score > 70:
		status = "healthy"
	case score > 40:
		status = "warning"
	}
	return HealthSummary{
		Timestamp:   time.Now(),
		HealthScore: score,
		CPUUsage:    snap.CPU.UsagePercent,
		MemoryUsage: snap.Memory.UsagePercent,
		DiskUsage:   snap.Disk.UsagePercent,
		Status:      status,
	}
}

// NetworkStatusSummary is the network connectivity view served to dashboards.
type NetworkStatusSummary struct {
	Timestamp              time.Time       `json:"timestamp"`
	ActiveInterfaces       []InterfaceInfo `json:"active_interfaces"`
	TotalConnections       int             `json:"total_connections"`
	EstablishedConnections int             `json:"established_connections"`
	Status                 string          `json:"status"`
}

// NetworkStatus summarizes the latest network snapshot.
func NetworkStatus(snap NetworkSnapshot) NetworkStatusSummary {
	status := "inactive"
	if len(snap.Interfaces) > 0 {
		status = "active"
	}
	return NetworkStatusSummary{
		Timestamp:              time.Now(),
		ActiveInterfaces:       snap.Interfaces,
		TotalConnections:       snap.Connections.Total,
		EstablishedConnections: snap.Connections.Established,
		Status:                 status,
	}
}
