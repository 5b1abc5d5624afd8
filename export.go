package secmon

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned by Export for anything but json or csv.
var ErrUnsupportedFormat = errors.New("unsupported export format")

var csvHeader = []string{
	"id", "threat_id", "timestamp", "type", "severity", "status", "priority",
	"description", "source", "acknowledged", "acknowledged_by", "resolved",
	"resolved_at", "escalation_deadline",
}

// Export serializes the active-alert set. Supported formats are "json"
// (indented array) and "csv" (fixed column set, RFC3339 timestamps).
func (m *Manager) Export(format string) (string, error) {
	alerts := m.Alerts()
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(alerts, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "csv":
		var out strings.Builder
		w := csv.NewWriter(&out)
		if err := w.Write(csvHeader); err != nil {
			return "", err
		}
		for _, a := range alerts {
			resolvedAt := ""
			if a.ResolvedAt != nil {
				resolvedAt = a.ResolvedAt.Format(time.RFC3339)
			}
			row := []string{
				a.ID,
				a.ThreatID,
				a.Timestamp.Format(time.RFC3339),
				string(a.Type),
				string(a.Severity),
				string(a.Status),
				strconv.Itoa(a.Priority),
				a.Description,
				a.Source,
				strconv.FormatBool(a.Acknowledged),
				a.AcknowledgedBy,
				strconv.FormatBool(a.Resolved),
				resolvedAt,
				a.EscalationDeadline.Format(time.RFC3339),
			}
			if err := w.Write(row); err != nil {
				return "", err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", err
		}
		return out.String(), nil
	default:
		return "", fmt.Errorf("%w: %q (use \"json\" or \"csv\")", ErrUnsupportedFormat, format)
	}
}
