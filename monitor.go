package secmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

const (
	defaultInterval = 5 * time.Second

	systemHistoryCap  = 100
	networkHistoryCap = 100
	eventHistoryCap   = 200

	// History cleanup runs far less often than detection.
	cleanupEvery  = time.Hour
	maxHistoryAge = 30 * 24 * time.Hour
)

// Monitor is the periodic driving loop: it collects snapshots, feeds them to
// the detector, feeds resulting threats to the alert manager, and runs the
// auto-resolve and escalation sweeps. It is the only writer of the snapshot
// history.
type Monitor struct {
	detector *Detector
	manager  *Manager
	system   SystemSource
	network  NetworkSource
	logs     LogSource
	logger   log.Logger

	interval time.Duration

	mu      sync.RWMutex
	history SnapshotHistory

	lastCleanup time.Time
	startOnce   sync.Once
	stop        chan struct{}
	done        chan struct{}
}

// NewMonitor wires the pipeline. The log source may be nil.
func NewMonitor(detector *Detector, manager *Manager, system SystemSource, network NetworkSource, logs LogSource, interval time.Duration, logger log.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		detector: detector,
		manager:  manager,
		system:   system,
		network:  network,
		logs:     logs,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop. Safe to call once.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info().Dur("interval", m.interval).Msg("security monitor started")
	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-m.stop:
			m.logger.Info().Msg("security monitor stopped")
			return
		}
	}
}

// tick runs one full detect-create cycle. Any panic is absorbed so a single
// bad snapshot never kills the loop.
func (m *Monitor) tick() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("panic", fmt.Sprint(r)).Msg("monitor cycle failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	m.collect(ctx)
	history := m.History()

	threats := m.detector.Analyze(history)
	for _, threat := range threats {
		m.manager.Create(threat)
	}
	m.manager.AutoResolve(history)
	m.manager.CheckEscalations(time.Now())

	if time.Since(m.lastCleanup) >= cleanupEvery {
		m.lastCleanup = time.Now()
		m.manager.CleanupHistory(maxHistoryAge)
	}
}

// collect appends fresh snapshots to the bounded history rings. Collector
// failures are logged and skipped; the cycle continues with what it has.
func (m *Monitor) collect(ctx context.Context) {
	var (
		sysSnap SystemSnapshot
		netSnap NetworkSnapshot
		events  []LogEvent
		sysOK   bool
		netOK   bool
	)

	if m.system != nil {
		snap, err := m.system.Collect(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("system collection failed")
		} else {
			sysSnap, sysOK = snap, true
		}
	}
	if m.network != nil {
		snap, err := m.network.Collect(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("network collection failed")
		} else {
			netSnap, netOK = snap, true
		}
	}
	if m.logs != nil {
		batch, err := m.logs.Collect(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("log collection failed")
		} else {
			events = batch
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sysOK {
		m.history.System = append(m.history.System, sysSnap)
		if len(m.history.System) > systemHistoryCap {
			m.history.System = m.history.System[len(m.history.System)-systemHistoryCap:]
		}
	}
	if netOK {
		m.history.Network = append(m.history.Network, netSnap)
		if len(m.history.Network) > networkHistoryCap {
			m.history.Network = m.history.Network[len(m.history.Network)-networkHistoryCap:]
		}
	}
	if len(events) > 0 {
		m.history.Events = append(m.history.Events, events...)
		if len(m.history.Events) > eventHistoryCap {
			m.history.Events = m.history.Events[len(m.history.Events)-eventHistoryCap:]
		}
	}
}

// History returns a copy of the current snapshot history.
func (m *Monitor) History() SnapshotHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := SnapshotHistory{
		System:  make([]SystemSnapshot, len(m.history.System)),
		Network: make([]NetworkSnapshot, len(m.history.Network)),
		Events:  make([]LogEvent, len(m.history.Events)),
	}
	copy(out.System, m.history.System)
	copy(out.Network, m.history.Network)
	copy(out.Events, m.history.Events)
	return out
}
