package secmon

import (
	"testing"
	"time"
)

func TestCooldownSuppressesWithinWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewCooldownTracker(60 * time.Second)

	if !tracker.Allow(ThreatSuspiciousProcess, base) {
		t.Fatalf("first detection should fire")
	}
	if tracker.Allow(ThreatSuspiciousProcess, base.Add(30*time.Second)) {
		t.Fatalf("detection inside the window should be suppressed")
	}
	if !tracker.Allow(ThreatSuspiciousProcess, base.Add(90*time.Second)) {
		t.Fatalf("detection after the window should fire")
	}
}

func TestCooldownReArms(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewCooldownTracker(60 * time.Second)

	if !tracker.Allow(ThreatSuspiciousProcess, base) {
		t.Fatalf("first detection should fire")
	}
	// Second firing at exactly the window boundary refreshes the timestamp.
	if !tracker.Allow(ThreatSuspiciousProcess, base.Add(60*time.Second)) {
		t.Fatalf("detection at the window boundary should fire")
	}
	// 90s after base is only 30s after the refreshed firing.
	if tracker.Allow(ThreatSuspiciousProcess, base.Add(90*time.Second)) {
		t.Fatalf("window should re-arm from the most recent firing")
	}
}

func TestCooldownIndependentPerType(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewCooldownTracker(60 * time.Second)

	if !tracker.Allow(ThreatSuspiciousProcess, base) {
		t.Fatalf("first type should fire")
	}
	if !tracker.Allow(ThreatNetworkAnomaly, base) {
		t.Fatalf("a different type should not be suppressed")
	}
}

func TestCooldownDisabledWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewCooldownTracker(0)

	for i := 0; i < 3; i++ {
		if !tracker.Allow(ThreatSuspiciousProcess, base) {
			t.Fatalf("zero window should never suppress")
		}
	}
}
