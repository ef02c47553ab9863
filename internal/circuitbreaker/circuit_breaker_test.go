package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", 3, 50*time.Millisecond, newTestLogger())
	failing := func() error { return errors.New("storefront down") }

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failing); err == nil {
			t.Fatal("Expected failure to propagate")
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 3 failures, got %s", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("Expected ErrOpen while cooling down, got %v", err)
	}
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	cb := New("test", 1, 20*time.Millisecond, newTestLogger())

	if err := cb.Execute(func() error { return errors.New("boom") }); err == nil {
		t.Fatal("Expected failure")
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Probe should pass after cooldown: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New("test", 2, time.Second, newTestLogger())

	cb.Execute(func() error { return errors.New("boom") })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errors.New("boom") })

	if cb.State() != StateClosed {
		t.Fatalf("Interleaved success must reset the count, got %s", cb.State())
	}
}
