// Package health reports the state of the provider's sessions.
package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// States a Status can be in.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|seed|jwt|secret)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one session, or of the provider as a whole.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics describe a session's workload.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	Sensors           int           `json:"sensors"`
	Buckets           int           `json:"buckets"`
	Ticks             int64         `json:"ticks"`
	HeartbeatsDropped int64         `json:"heartbeats_dropped"`
	LastTick          time.Time     `json:"last_tick,omitempty"`
}

// IsHealthy reports whether the state is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded reports whether the state is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy reports whether the state is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// Check is a point-in-time view of a session.
type Check struct {
	Connected         bool
	LastError         string
	Started           time.Time
	Sensors           int
	Buckets           int
	Ticks             int64
	HeartbeatsDropped int64
	LastTick          time.Time
}

// FromCheck derives a status. A session without a bus connection is
// unhealthy; one that reported an error is degraded.
func FromCheck(name string, c Check) Status {
	var s Status
	switch {
	case !c.Connected:
		msg := "Bus disconnected"
		if c.LastError != "" {
			msg = msg + ": " + sanitize(c.LastError)
		}
		s = NewUnhealthy(name, msg)
	case c.LastError != "":
		s = NewDegraded(name, sanitize(c.LastError))
	default:
		s = NewHealthy(name, fmt.Sprintf("Polling %d sensors in %d buckets", c.Sensors, c.Buckets))
	}

	var uptime time.Duration
	if !c.Started.IsZero() {
		uptime = time.Since(c.Started)
	}
	s.Metrics = &Metrics{
		Uptime:            uptime,
		Sensors:           c.Sensors,
		Buckets:           c.Buckets,
		Ticks:             c.Ticks,
		HeartbeatsDropped: c.HeartbeatsDropped,
		LastTick:          c.LastTick,
	}
	return s
}

// Aggregate rolls sub-statuses up: any unhealthy makes the whole unhealthy,
// otherwise any degraded makes it degraded.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "No sessions attached")
	}

	unhealthy, degraded := 0, 0
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var s Status
	switch {
	case unhealthy > 0:
		s = NewUnhealthy(component, fmt.Sprintf("%d of %d sessions unhealthy", unhealthy, len(subs)))
	case degraded > 0:
		s = NewDegraded(component, fmt.Sprintf("%d of %d sessions degraded", degraded, len(subs)))
	default:
		s = NewHealthy(component, fmt.Sprintf("All %d sessions healthy", len(subs)))
	}
	s.SubStatuses = append([]Status(nil), subs...)
	return s
}

// sanitize strips addresses, paths and credentials from error text before
// it is served on an unauthenticated endpoint.
func sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	out := urlRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, word := range []string{"password", "token", "seed", "jwt", "secret"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(out, "[REDACTED]")
		}
	}
	return out
}
