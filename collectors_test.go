package secmon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestClassifyAuthLine(t *testing.T) {
	cases := []struct {
		line         string
		wantSeverity Severity
		wantMatch    bool
	}{
		{"Jun  1 12:00:01 host sshd[123]: Failed password for root from 10.0.0.9 port 22 ssh2", SeverityHigh, true},
		{"Jun  1 12:00:02 host sshd[123]: pam_unix(sshd:auth): authentication failure", SeverityHigh, true},
		{"Jun  1 12:00:03 host sshd[123]: Invalid user admin from 10.0.0.9", SeverityMedium, true},
		{"Jun  1 12:00:04 host sshd[123]: Accepted publickey for deploy from 10.0.0.10", SeverityLow, true},
		{"Jun  1 12:00:05 host sshd[123]: pam_unix(sshd:session): session opened for user root", SeverityHigh, true},
		{"Jun  1 12:00:06 host CRON[456]: pam_unix(cron:session): session closed for user ops", "", false},
	}
	for _, tc := range cases {
		event, ok := classifyAuthLine(tc.line)
		if ok != tc.wantMatch {
			t.Fatalf("line %q: match %v, want %v", tc.line, ok, tc.wantMatch)
		}
		if ok && event.Severity != tc.wantSeverity {
			t.Fatalf("line %q: severity %s, want %s", tc.line, event.Severity, tc.wantSeverity)
		}
	}
}

func TestClassifyFailedPasswordMatchesBruteForcePattern(t *testing.T) {
	event, ok := classifyAuthLine("sshd[1]: Failed password for root from 10.0.0.9")
	if !ok {
		t.Fatalf("line should classify")
	}
	// Brute force counting keys off this message prefix.
	if !strings.Contains(event.Message, failedLoginPattern) {
		t.Fatalf("failed logins must carry the pattern, got %q", event.Message)
	}
}

func TestAuthLogSourceTailsNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	if err := os.WriteFile(path, []byte("sshd[1]: old entry before startup\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := NewAuthLogSource(testLogger(), path)

	// Prior content is skipped.
	events, err := src.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("startup content should be skipped, got %d events", len(events))
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	lines := "sshd[2]: Failed password for root from 10.0.0.9\n" +
		"CRON[3]: session closed for user ops\n" +
		"sshd[4]: Invalid user admin from 10.0.0.9\n"
	if _, err := f.WriteString(lines); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	events, err = src.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 classified events, got %d: %+v", len(events), events)
	}

	// A second collection with no new lines yields nothing.
	events, err = src.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events without new lines, got %d", len(events))
	}
}

func TestAuthLogSourceHandlesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	long := strings.Repeat("sshd[1]: noise line\n", 50)
	if err := os.WriteFile(path, []byte(long), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := NewAuthLogSource(testLogger(), path)
	if _, err := src.Collect(context.Background()); err != nil {
		t.Fatalf("collect: %v", err)
	}

	// Rotation: the file is replaced with a shorter one.
	if err := os.WriteFile(path, []byte("sshd[9]: Failed password for root from 10.0.0.9\n"), 0o644); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	events, err := src.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("rotated file should be read from the start, got %d events", len(events))
	}
}

func TestAuthLogSourceMissingFile(t *testing.T) {
	src := NewAuthLogSource(testLogger(), filepath.Join(t.TempDir(), "absent.log"))
	events, err := src.Collect(context.Background())
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events")
	}
}

func TestGatedLogSource(t *testing.T) {
	inner := &stubLogSource{events: failedLoginEvents(2)}
	gated := NewGatedLogSource(inner, 100*time.Millisecond)

	events, err := gated.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("first collection should pass through, got %d", len(events))
	}

	events, err = gated.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("collection inside the gate should return nothing, got %d", len(events))
	}

	time.Sleep(120 * time.Millisecond)
	events, err = gated.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("collection after the gate should pass through, got %d", len(events))
	}
}

func TestGatedLogSourceRetriesAfterFailure(t *testing.T) {
	inner := &stubLogSource{err: errors.New("log unreadable")}
	gated := NewGatedLogSource(inner, time.Hour)

	if _, err := gated.Collect(context.Background()); err == nil {
		t.Fatalf("expected the wrapped error")
	}

	// The failure must not consume the gate: once the source recovers, the
	// very next collection reads events.
	inner.err = nil
	inner.events = failedLoginEvents(2)
	events, err := gated.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("recovered source should pass through immediately, got %d", len(events))
	}
}
