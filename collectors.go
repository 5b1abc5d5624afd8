package secmon

import (
	"bufio"
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemSource produces system snapshots for the monitor loop.
type SystemSource interface {
	Collect(ctx context.Context) (SystemSnapshot, error)
}

// NetworkSource produces network snapshots for the monitor loop.
type NetworkSource interface {
	Collect(ctx context.Context) (NetworkSnapshot, error)
}

// LogSource produces batches of security-relevant log events. Collectors
// report only what the host actually emitted; they never synthesize events.
type LogSource interface {
	Collect(ctx context.Context) ([]LogEvent, error)
}

const topProcessCount = 10

const bytesPerGB = 1024 * 1024 * 1024

func toGB(b uint64) float64 {
	return float64(b) / bytesPerGB
}

// SystemCollector reads live host metrics through gopsutil.
type SystemCollector struct {
	logger log.Logger
	root   string
}

// NewSystemCollector builds a collector measuring disk usage at root
// (defaults to "/").
func NewSystemCollector(logger log.Logger, root string) *SystemCollector {
	if root == "" {
		root = "/"
	}
	return &SystemCollector{logger: logger, root: root}
}

func (c *SystemCollector) Collect(ctx context.Context) (SystemSnapshot, error) {
	snap := SystemSnapshot{Timestamp: time.Now()}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return snap, err
	}
	if len(percents) > 0 {
		snap.CPU.UsagePercent = percents[0]
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPU.Count = counts
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, err
	}
	snap.Memory = MemoryStats{
		TotalGB:      toGB(vm.Total),
		AvailableGB:  toGB(vm.Available),
		UsedGB:       toGB(vm.Used),
		UsagePercent: vm.UsedPercent,
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		snap.Memory.SwapTotalGB = toGB(swap.Total)
		snap.Memory.SwapUsedGB = toGB(swap.Used)
	}

	usage, err := disk.UsageWithContext(ctx, c.root)
	if err != nil {
		return snap, err
	}
	snap.Disk = DiskStats{
		TotalGB:      toGB(usage.Total),
		UsedGB:       toGB(usage.Used),
		FreeGB:       toGB(usage.Free),
		UsagePercent: usage.UsedPercent,
	}
	if counters, err := disk.IOCountersWithContext(ctx); err == nil {
		for _, counter := range counters {
			snap.Disk.ReadBytes += counter.ReadBytes
			snap.Disk.WriteBytes += counter.WriteBytes
		}
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("process enumeration failed")
		return snap, nil
	}
	snap.Processes.TotalCount = len(procs)
	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		memPct, err := p.MemoryPercentWithContext(ctx)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		infos = append(infos, ProcessInfo{Name: name, PID: p.Pid, MemoryPercent: memPct})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].MemoryPercent > infos[j].MemoryPercent })
	if len(infos) > topProcessCount {
		infos = infos[:topProcessCount]
	}
	snap.Processes.TopByMemory = infos
	return snap, nil
}

// NetworkCollector reads live connection and traffic state through gopsutil.
type NetworkCollector struct {
	logger log.Logger
}

func NewNetworkCollector(logger log.Logger) *NetworkCollector {
	return &NetworkCollector{logger: logger}
}

func (c *NetworkCollector) Collect(ctx context.Context) (NetworkSnapshot, error) {
	snap := NetworkSnapshot{Timestamp: time.Now()}

	counters, err := gnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return snap, err
	}
	if len(counters) > 0 {
		io := counters[0]
		snap.Traffic = TrafficStats{
			BytesSent:   io.BytesSent,
			BytesRecv:   io.BytesRecv,
			PacketsSent: io.PacketsSent,
			PacketsRecv: io.PacketsRecv,
			ErrorsIn:    io.Errin,
			ErrorsOut:   io.Errout,
			DropsIn:     io.Dropin,
			DropsOut:    io.Dropout,
		}
	}

	conns, err := gnet.ConnectionsWithContext(ctx, "all")
	if err != nil {
		return snap, err
	}
	snap.Connections.Total = len(conns)
	for _, conn := range conns {
		switch conn.Status {
		case "ESTABLISHED":
			snap.Connections.Established++
		case "LISTEN":
			snap.Connections.Listening++
		case "TIME_WAIT":
			snap.Connections.TimeWait++
		case "CLOSE_WAIT":
			snap.Connections.CloseWait++
		default:
			snap.Connections.Other++
		}
	}

	if ifaces, err := gnet.InterfacesWithContext(ctx); err == nil {
		for _, iface := range ifaces {
			up := false
			for _, flag := range iface.Flags {
				if flag == "up" {
					up = true
					break
				}
			}
			if !up {
				continue
			}
			info := InterfaceInfo{Name: iface.Name}
			for _, addr := range iface.Addrs {
				info.IPAddresses = append(info.IPAddresses, addr.Addr)
			}
			if len(info.IPAddresses) > 0 {
				snap.Interfaces = append(snap.Interfaces, info)
			}
		}
	}
	return snap, nil
}

// AuthLogSource tails an sshd-style auth log and emits events for new lines
// since the previous collection. A shrinking file is treated as rotation and
// reading restarts from the beginning.
type AuthLogSource struct {
	mu     sync.Mutex
	path   string
	offset int64
	logger log.Logger
}

func NewAuthLogSource(logger log.Logger, path string) *AuthLogSource {
	if path == "" {
		path = "/var/log/auth.log"
	}
	src := &AuthLogSource{path: path, logger: logger}
	// Start at the current end so a long-lived log does not replay history.
	if info, err := os.Stat(path); err == nil {
		src.offset = info.Size()
	}
	return src
}

func (a *AuthLogSource) Collect(ctx context.Context) ([]LogEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < a.offset {
		a.offset = 0
	}
	if _, err := f.Seek(a.offset, io.SeekStart); err != nil {
		return nil, err
	}

	var events []LogEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		default:
		}
		if event, ok := classifyAuthLine(scanner.Text()); ok {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn().Err(err).Str("path", a.path).Msg("auth log scan interrupted")
	}
	pos, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		a.offset = pos
	}
	return events, nil
}

func classifyAuthLine(line string) (LogEvent, bool) {
	now := time.Now()
	switch {
	case strings.Contains(line, "Failed password") || strings.Contains(line, "authentication failure"):
		return LogEvent{
			Timestamp: now,
			Level:     "warning",
			Source:    "auth",
			Message:   "Failed login attempt: " + line,
			Severity:  SeverityHigh,
		}, true
	case strings.Contains(line, "Invalid user"):
		return LogEvent{
			Timestamp: now,
			Level:     "warning",
			Source:    "auth",
			Message:   "Invalid user login: " + line,
			Severity:  SeverityMedium,
		}, true
	case strings.Contains(line, "Accepted password") || strings.Contains(line, "Accepted publickey"):
		return LogEvent{
			Timestamp: now,
			Level:     "info",
			Source:    "auth",
			Message:   "Successful login: " + line,
			Severity:  SeverityLow,
		}, true
	case strings.Contains(line, "session opened for user root"):
		return LogEvent{
			Timestamp: now,
			Level:     "warning",
			Source:    "auth",
			Message:   "Root session opened: " + line,
			Severity:  SeverityHigh,
		}, true
	}
	return LogEvent{}, false
}

// GatedLogSource wraps a LogSource with a minimum interval between real
// collections; calls inside the gate return no events.
type GatedLogSource struct {
	mu       sync.Mutex
	source   LogSource
	interval time.Duration
	last     time.Time
}

func NewGatedLogSource(source LogSource, interval time.Duration) *GatedLogSource {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &GatedLogSource{source: source, interval: interval}
}

func (g *GatedLogSource) Collect(ctx context.Context) ([]LogEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if now.Sub(g.last) < g.interval {
		return nil, nil
	}
	events, err := g.source.Collect(ctx)
	if err != nil {
		// A failed collection does not consume the gate; the next call
		// retries immediately.
		return nil, err
	}
	g.last = now
	return events, nil
}
