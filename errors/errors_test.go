package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"exchange timeout", ErrExchangeTimeout, true},
		{"no reply", ErrNoReply, true},
		{"publish failed", ErrPublishFailed, true},
		{"circuit open", ErrCircuitOpen, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"wrapped deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), true},
		{"invalid descriptor", ErrInvalidDescriptor, false},
		{"nats no responders text", fmt.Errorf("nats: no responders available for request"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("timeout")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"invalid descriptor", ErrInvalidDescriptor, true},
		{"invalid topic", ErrInvalidTopic, true},
		{"serialization", ErrSerialization, true},
		{"wrapped invalid config", Wrap(ErrInvalidConfig, "Manager", "Attach", "parse link"), true},
		{"connection lost", ErrConnectionLost, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsInvalid(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(nil) {
		t.Error("nil must not be fatal")
	}
	if !IsFatal(ErrResourceExhausted) {
		t.Error("resource exhaustion must be fatal")
	}
	if IsFatal(ErrExchangeTimeout) {
		t.Error("exchange timeout must not be fatal")
	}
	if !IsFatal(WrapFatal(errors.New("duplicate collector"), "Metrics", "Register", "register")) {
		t.Error("WrapFatal must classify as fatal")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil", nil, ErrorTransient},
		{"timeout", ErrExchangeTimeout, ErrorTransient},
		{"config", ErrInvalidConfig, ErrorInvalid},
		{"exhausted", ErrResourceExhausted, ErrorFatal},
		{"unknown", errors.New("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := Classify(test.err); result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "Client", "Publish", "publish") != nil {
		t.Fatal("wrapping nil must return nil")
	}

	err := Wrap(ErrNoConnection, "Client", "Publish", "publish message")
	want := "Client.Publish: publish message failed: no connection available"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, ErrNoConnection) {
		t.Error("wrapped error must match sentinel")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.wrap(nil, "c", "m", "a") != nil {
				t.Fatal("nil in, nil out")
			}
			err := test.wrap(base, "Poller", "Poll", "exchange")
			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ClassifiedError, got %T", err)
			}
			if ce.Class != test.class {
				t.Errorf("expected class %v, got %v", test.class, ce.Class)
			}
			if ce.Component != "Poller" || ce.Operation != "Poll" {
				t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
			}
			if !errors.Is(err, base) {
				t.Error("classified error must unwrap to base")
			}
			if !strings.HasPrefix(err.Error(), "Poller.Poll: exchange failed") {
				t.Errorf("unexpected message %q", err.Error())
			}
		})
	}
}

func TestClassifiedError_NoMessage(t *testing.T) {
	ce := &ClassifiedError{Class: ErrorTransient, Err: ErrNoReply}
	if ce.Error() != ErrNoReply.Error() {
		t.Errorf("expected underlying message, got %q", ce.Error())
	}
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()

	if rc.ShouldRetry(nil, 0) {
		t.Error("nil must not retry")
	}
	if !rc.ShouldRetry(ErrConnectionTimeout, 0) {
		t.Error("transient error on first attempt must retry")
	}
	if rc.ShouldRetry(ErrConnectionTimeout, rc.MaxRetries) {
		t.Error("must stop at MaxRetries")
	}
	if rc.ShouldRetry(ErrInvalidConfig, 0) {
		t.Error("invalid config must not retry")
	}
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 3,
	}
	cfg := rc.ToRetryConfig()

	if cfg.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != rc.InitialDelay || cfg.MaxDelay != rc.MaxDelay {
		t.Error("delays not carried over")
	}
	if cfg.Multiplier != 3 || !cfg.AddJitter {
		t.Error("multiplier or jitter not set")
	}
}

func BenchmarkClassify(b *testing.B) {
	err := WrapTransient(ErrExchangeTimeout, "Poller", "Poll", "exchange")
	for i := 0; i < b.N; i++ {
		_ = Classify(err)
	}
}
