package secmon

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubSystemSource struct {
	snap SystemSnapshot
	err  error
}

func (s *stubSystemSource) Collect(ctx context.Context) (SystemSnapshot, error) {
	return s.snap, s.err
}

type stubNetworkSource struct {
	snap NetworkSnapshot
	err  error
}

func (s *stubNetworkSource) Collect(ctx context.Context) (NetworkSnapshot, error) {
	return s.snap, s.err
}

type stubLogSource struct {
	events []LogEvent
	err    error
}

func (s *stubLogSource) Collect(ctx context.Context) ([]LogEvent, error) {
	return s.events, s.err
}

func newTestMonitor(system SystemSource, network NetworkSource, logs LogSource) (*Monitor, *Manager) {
	logger := testLogger()
	catalog := DefaultCatalog(logger)
	detector := NewDetector(catalog, logger)
	manager := NewManager(catalog, logger, nil)
	return NewMonitor(detector, manager, system, network, logs, time.Second, logger), manager
}

func TestTickCollectsAndCreatesAlerts(t *testing.T) {
	system := &stubSystemSource{snap: systemSnap(97, 50, 50, 100)}
	network := &stubNetworkSource{snap: networkSnap(100, 4, 0, 0)}
	mon, manager := newTestMonitor(system, network, nil)

	mon.tick()

	history := mon.History()
	if len(history.System) != 1 || len(history.Network) != 1 {
		t.Fatalf("snapshots not recorded: %+v", history)
	}
	alerts := manager.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert from the cpu breach, got %d", len(alerts))
	}
	if alerts[0].Type != ThreatResourceAbuse {
		t.Fatalf("unexpected alert type %s", alerts[0].Type)
	}
}

func TestTickAutoResolvesWhenMetricDrops(t *testing.T) {
	system := &stubSystemSource{snap: systemSnap(97, 50, 50, 100)}
	mon, manager := newTestMonitor(system, &stubNetworkSource{}, nil)

	mon.tick()
	if len(manager.Alerts()) != 1 {
		t.Fatalf("expected one alert after the breach")
	}

	system.snap = systemSnap(40, 50, 50, 100)
	mon.tick()
	if got := len(manager.Alerts()); got != 0 {
		t.Fatalf("alert should auto-resolve once cpu drops, still %d active", got)
	}
}

func TestTickSurvivesFailingCollectors(t *testing.T) {
	system := &stubSystemSource{err: errors.New("proc unavailable")}
	network := &stubNetworkSource{err: errors.New("netlink unavailable")}
	logs := &stubLogSource{err: errors.New("log unreadable")}
	mon, manager := newTestMonitor(system, network, logs)

	mon.tick()

	history := mon.History()
	if len(history.System) != 0 || len(history.Network) != 0 || len(history.Events) != 0 {
		t.Fatalf("failed collections must not be recorded: %+v", history)
	}
	if len(manager.Alerts()) != 0 {
		t.Fatalf("no data should mean no alerts")
	}
}

func TestTickAppendsEvents(t *testing.T) {
	logs := &stubLogSource{events: failedLoginEvents(6)}
	mon, manager := newTestMonitor(&stubSystemSource{snap: systemSnap(10, 10, 10, 10)}, &stubNetworkSource{}, logs)

	mon.tick()

	if len(mon.History().Events) != 6 {
		t.Fatalf("events not recorded")
	}
	alerts := manager.AlertsByType(ThreatBruteForce)
	if len(alerts) != 1 {
		t.Fatalf("expected a brute force alert, got %d", len(alerts))
	}
}

func TestHistoryRingsBounded(t *testing.T) {
	system := &stubSystemSource{snap: systemSnap(10, 10, 10, 10)}
	mon, _ := newTestMonitor(system, &stubNetworkSource{}, nil)

	for i := 0; i < systemHistoryCap+20; i++ {
		mon.collect(context.Background())
	}
	if got := len(mon.History().System); got != systemHistoryCap {
		t.Fatalf("system history should cap at %d, got %d", systemHistoryCap, got)
	}
}

func TestStartStop(t *testing.T) {
	mon, _ := newTestMonitor(&stubSystemSource{snap: systemSnap(10, 10, 10, 10)}, &stubNetworkSource{}, nil)
	mon.Start()
	mon.Start() // second call is a no-op
	done := make(chan struct{})
	go func() {
		mon.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Stop did not return")
	}
}
