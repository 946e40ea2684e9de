package health

import (
	"strings"
	"testing"
	"time"
)

func TestFromCheck(t *testing.T) {
	tests := []struct {
		name  string
		check Check
		want  string
	}{
		{name: "connected", check: Check{Connected: true, Sensors: 3, Buckets: 2}, want: StateHealthy},
		{name: "disconnected", check: Check{Connected: false}, want: StateUnhealthy},
		{name: "errored", check: Check{Connected: true, LastError: "delivery failed"}, want: StateDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromCheck("c1", tt.check)
			if s.Status != tt.want {
				t.Errorf("FromCheck() status = %q, want %q", s.Status, tt.want)
			}
			if s.Healthy != (tt.want == StateHealthy) {
				t.Errorf("FromCheck() healthy = %v for %q", s.Healthy, tt.want)
			}
			if s.Component != "c1" {
				t.Errorf("FromCheck() component = %q", s.Component)
			}
			if s.Metrics == nil || s.Metrics.Sensors != tt.check.Sensors {
				t.Errorf("FromCheck() metrics = %+v", s.Metrics)
			}
		})
	}
}

func TestFromCheck_Uptime(t *testing.T) {
	s := FromCheck("c", Check{Connected: true, Started: time.Now().Add(-time.Minute)})
	if s.Metrics.Uptime < time.Minute {
		t.Errorf("uptime = %v, want >= 1m", s.Metrics.Uptime)
	}
	if FromCheck("c", Check{Connected: true}).Metrics.Uptime != 0 {
		t.Error("uptime without a start time should be zero")
	}
}

func TestFromCheck_SanitizesErrors(t *testing.T) {
	s := FromCheck("c", Check{
		Connected: false,
		LastError: "dial nats://10.0.0.5:4222 failed, token=abc123",
	})
	for _, leak := range []string{"10.0.0.5", "4222", "abc123", "nats://"} {
		if strings.Contains(s.Message, leak) {
			t.Errorf("message %q leaks %q", s.Message, leak)
		}
	}
	if !strings.HasPrefix(s.Message, "Bus disconnected") {
		t.Errorf("message %q", s.Message)
	}
}

func TestAggregate(t *testing.T) {
	healthy := NewHealthy("a", "ok")
	degraded := NewDegraded("b", "slow")
	unhealthy := NewUnhealthy("c", "down")

	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{name: "empty", subs: nil, want: StateHealthy},
		{name: "all healthy", subs: []Status{healthy, healthy}, want: StateHealthy},
		{name: "degraded wins over healthy", subs: []Status{healthy, degraded}, want: StateDegraded},
		{name: "unhealthy wins", subs: []Status{healthy, degraded, unhealthy}, want: StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("provider", tt.subs)
			if got.Status != tt.want {
				t.Errorf("Aggregate() = %q, want %q", got.Status, tt.want)
			}
			if len(got.SubStatuses) != len(tt.subs) {
				t.Errorf("Aggregate() kept %d sub statuses, want %d", len(got.SubStatuses), len(tt.subs))
			}
		})
	}
}

func TestAggregate_CopiesSubStatuses(t *testing.T) {
	subs := []Status{NewHealthy("a", "ok")}
	got := Aggregate("p", subs)
	subs[0].Component = "changed"
	if got.SubStatuses[0].Component != "a" {
		t.Error("Aggregate() must copy its input")
	}
}
