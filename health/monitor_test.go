package health

import (
	"fmt"
	"sync"
	"testing"
)

func TestMonitor_UpdateGetRemove(t *testing.T) {
	m := NewMonitor()

	m.Update("c1", Status{Status: StateHealthy, Message: "ok"})
	got, ok := m.Get("c1")
	if !ok {
		t.Fatal("status missing after Update")
	}
	if got.Component != "c1" {
		t.Errorf("component = %q, want c1", got.Component)
	}
	if got.Timestamp.IsZero() {
		t.Error("Update should stamp a zero timestamp")
	}

	m.Remove("c1")
	if _, ok := m.Get("c1"); ok {
		t.Error("status present after Remove")
	}
}

func TestMonitor_AggregateOrdersByName(t *testing.T) {
	m := NewMonitor()
	m.Update("zeta", NewHealthy("", "ok"))
	m.Update("alpha", NewUnhealthy("", "down"))

	agg := m.Aggregate("provider")
	if !agg.IsUnhealthy() {
		t.Errorf("aggregate = %q, want unhealthy", agg.Status)
	}
	if agg.SubStatuses[0].Component != "alpha" || agg.SubStatuses[1].Component != "zeta" {
		t.Errorf("sub statuses not sorted: %+v", agg.SubStatuses)
	}
	if names := m.Names(); len(names) != 2 || names[0] != "alpha" {
		t.Errorf("Names() = %v", names)
	}
}

func TestMonitor_Replace(t *testing.T) {
	m := NewMonitor()
	m.Update("old", NewHealthy("old", "ok"))

	m.Replace([]Status{NewHealthy("a", "ok"), NewDegraded("b", "slow")})

	if m.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", m.Count())
	}
	if _, ok := m.Get("old"); ok {
		t.Error("Replace should drop statuses not in the new set")
	}
	if !m.Aggregate("p").IsDegraded() {
		t.Error("aggregate should be degraded")
	}
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("s%d", i%5)
			for j := 0; j < 100; j++ {
				m.Update(name, NewHealthy(name, "ok"))
				_ = m.Aggregate("p")
				_, _ = m.Get(name)
			}
		}(i)
	}
	wg.Wait()

	if m.Count() != 5 {
		t.Errorf("Count() = %d, want 5", m.Count())
	}
}
