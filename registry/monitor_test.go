package registry_test

import (
	"testing"
	"time"

	"github.com/modelserve-go/modelserve/config"
	"github.com/modelserve-go/modelserve/registry"
)

func TestMonitor_ProbeOneUnstartedSupervisorRecordsFailure(t *testing.T) {
	reg := registry.New()
	reg.Register(&config.Descriptor{Name: "idle_model"})

	mon := registry.NewMonitor(reg, time.Hour, 200*time.Millisecond, 3)
	status := mon.ProbeOnce()

	st, ok := status["idle_model"]
	if !ok {
		t.Fatal("expected a status entry for idle_model")
	}
	if st.Healthy {
		t.Error("expected Healthy=false: supervisor was never started")
	}
	if st.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", st.ConsecutiveFailures)
	}
}

func TestMonitor_OnFailureCallbackFires(t *testing.T) {
	reg := registry.New()
	reg.Register(&config.Descriptor{Name: "idle_model"})

	mon := registry.NewMonitor(reg, time.Hour, 200*time.Millisecond, 5)
	mon.AutoRestart = false

	var calledWith string
	mon.OnFailure = func(name string, status registry.HealthStatus) {
		calledWith = name
	}

	mon.ProbeOnce()
	if calledWith != "idle_model" {
		t.Errorf("OnFailure called with %q, want idle_model", calledWith)
	}
}

func TestMonitor_StartStopIsClean(t *testing.T) {
	reg := registry.New()
	mon := registry.NewMonitor(reg, 10*time.Millisecond, 50*time.Millisecond, 3)

	mon.Start()
	time.Sleep(30 * time.Millisecond)
	mon.Stop()
}

func TestMonitor_EventsChannelReceivesProbeResults(t *testing.T) {
	reg := registry.New()
	reg.Register(&config.Descriptor{Name: "idle_model"})

	mon := registry.NewMonitor(reg, time.Hour, 200*time.Millisecond, 5)
	mon.AutoRestart = false
	mon.ProbeOnce()

	select {
	case ev := <-mon.Events():
		if ev.Model != "idle_model" {
			t.Errorf("event model = %q, want idle_model", ev.Model)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a probe event on the events channel")
	}
}
