package registry

import (
	"context"
	"sync"
	"time"

	"github.com/modelserve-go/modelserve/internal/log"
	"github.com/modelserve-go/modelserve/supervisor"
)

// HealthStatus is a model's most recently probed health, grounded on
// original_source/health/checker.py's HealthStatus dataclass.
type HealthStatus struct {
	Name                string
	Healthy             bool
	LastCheck           time.Time
	ConsecutiveFailures int
	LastError           string
	ResponseTimeMillis  float64
}

// MonitorEvent is emitted on Monitor.Events() whenever a probe
// completes or a restart is triggered, generalising the teacher's
// sendEvent/Events() pattern in internal/supervisor/supervisor.go to
// carry structured probe outcomes instead of log strings.
type MonitorEvent struct {
	Model   string
	Status  HealthStatus
	Message string
}

// Monitor periodically pings every supervisor in a registry and
// restarts any that reach MaxFailures consecutive failed probes,
// grounded on original_source/health/checker.py's HealthChecker,
// restructured around a single goroutine and channels instead of
// threading.Thread/Event.
type Monitor struct {
	Registry    *Registry
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
	AutoRestart bool

	OnFailure func(name string, status HealthStatus)
	OnRestart func(name string)

	events chan MonitorEvent

	mu     sync.RWMutex
	status map[string]HealthStatus

	stop chan struct{}
	done chan struct{}
}

// NewMonitor builds a Monitor over reg with the given probe interval,
// per-probe timeout, and consecutive-failure threshold.
func NewMonitor(reg *Registry, interval, timeout time.Duration, maxFailures int) *Monitor {
	return &Monitor{
		Registry:    reg,
		Interval:    interval,
		Timeout:     timeout,
		MaxFailures: maxFailures,
		AutoRestart: true,
		events:      make(chan MonitorEvent, 128),
		status:      make(map[string]HealthStatus),
	}
}

// Events returns the channel of probe/restart events.
func (m *Monitor) Events() <-chan MonitorEvent { return m.events }

// Start launches the monitoring goroutine. Safe to call once; a
// second call before Stop is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	m.stop = stop
	m.done = done
	m.mu.Unlock()

	go m.run(stop, done)
}

// Stop signals the monitoring goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Monitor) run(stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

// ProbeOnce runs a single round of health checks immediately, without
// waiting for the ticker, returning the resulting statuses.
func (m *Monitor) ProbeOnce() map[string]HealthStatus {
	m.probeAll()
	return m.Snapshot()
}

func (m *Monitor) probeAll() {
	for _, name := range m.Registry.Names() {
		sup, ok := m.Registry.Get(name)
		if !ok {
			continue
		}
		m.probeOne(name, sup)
	}
}

func (m *Monitor) probeOne(name string, sup *supervisor.Supervisor) {
	ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
	defer cancel()

	start := time.Now()
	healthy := sup.Ping(ctx)
	elapsed := time.Since(start)

	m.mu.Lock()
	prev := m.status[name]
	st := HealthStatus{
		Name:               name,
		Healthy:            healthy,
		LastCheck:          time.Now(),
		ResponseTimeMillis: float64(elapsed.Microseconds()) / 1000.0,
	}
	if healthy {
		st.ConsecutiveFailures = 0
	} else {
		st.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		st.LastError = "ping failed"
	}
	m.status[name] = st
	m.mu.Unlock()

	m.emit(MonitorEvent{Model: name, Status: st})

	if !healthy {
		if m.OnFailure != nil {
			m.OnFailure(name, st)
		}
		if m.AutoRestart && st.ConsecutiveFailures >= m.MaxFailures {
			m.restart(name, sup)
		}
	}
}

func (m *Monitor) restart(name string, sup *supervisor.Supervisor) {
	log.Global().Warnf("monitor: %q failed %d consecutive probes, restarting", name, m.MaxFailures)
	ctx, cancel := context.WithTimeout(context.Background(), m.Timeout*2+m.Interval)
	defer cancel()

	if err := sup.Restart(ctx, m.Timeout); err != nil {
		log.Global().Errorf("monitor: restart of %q failed: %v", name, err)
		m.emit(MonitorEvent{Model: name, Message: "restart failed: " + err.Error()})
		return
	}

	m.mu.Lock()
	m.status[name] = HealthStatus{Name: name, Healthy: true, LastCheck: time.Now()}
	m.mu.Unlock()

	if m.OnRestart != nil {
		m.OnRestart(name)
	}
	m.emit(MonitorEvent{Model: name, Message: "restarted"})
}

func (m *Monitor) emit(ev MonitorEvent) {
	select {
	case m.events <- ev:
	default:
		log.Global().Warnf("monitor: event channel full, dropping event for %q", ev.Model)
	}
}

// Snapshot returns the most recently observed status for every probed
// model.
func (m *Monitor) Snapshot() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]HealthStatus, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}
