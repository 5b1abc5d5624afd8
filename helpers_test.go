package secmon

import (
	"time"

	"github.com/oarkflow/log"
)

func testLogger() log.Logger {
	return NewLogger("error")
}

func systemSnap(cpu, memory, disk float64, processes int) SystemSnapshot {
	return SystemSnapshot{
		Timestamp: time.Now(),
		CPU:       CPUStats{UsagePercent: cpu, Count: 4},
		Memory:    MemoryStats{UsagePercent: memory},
		Disk:      DiskStats{UsagePercent: disk},
		Processes: ProcessStats{TotalCount: processes},
	}
}

func networkSnap(total, listening int, errorsIn, errorsOut uint64) NetworkSnapshot {
	return NetworkSnapshot{
		Timestamp: time.Now(),
		Traffic:   TrafficStats{ErrorsIn: errorsIn, ErrorsOut: errorsOut},
		Connections: ConnectionStats{
			Total:       total,
			Established: total - listening,
			Listening:   listening,
		},
	}
}

func systemHistory(snaps ...SystemSnapshot) SnapshotHistory {
	return SnapshotHistory{System: snaps}
}

func failedLoginEvents(n int) []LogEvent {
	events := make([]LogEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, LogEvent{
			Timestamp: time.Now(),
			Level:     "warning",
			Source:    "auth",
			Message:   "Failed login attempt: Failed password for root from 10.0.0.9",
			Severity:  SeverityMedium,
		})
	}
	return events
}
