package workers

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

func TestNew_InvalidSize(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := New(n, newTestLogger()); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("New(%d) error want = %v, got = %v", n, ErrInvalidSize, err)
		}
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const size, units = 2, 10

	p, err := New(size, newTestLogger())
	if err != nil {
		t.Fatalf("New() returned an unexpected error: %v", err)
	}

	var current, peak, completed atomic.Int32
	for i := 0; i < units; i++ {
		p.Execute(func() {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			completed.Add(1)
		})
	}
	p.Join()

	if got := completed.Load(); got != units {
		t.Errorf("expected %d completed units after Join(), got %d", units, got)
	}
	if got := peak.Load(); got > size {
		t.Errorf("expected at most %d concurrent units, saw %d", size, got)
	}
}

func TestPool_ExecuteDoesNotBlock(t *testing.T) {
	p, err := New(1, newTestLogger())
	if err != nil {
		t.Fatalf("New() returned an unexpected error: %v", err)
	}

	release := make(chan struct{})
	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			p.Execute(func() { <-release })
		}
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Execute() blocked while the only worker was busy")
	}

	close(release)
	p.Join()
}

func TestPool_PanicIsConfinedToUnit(t *testing.T) {
	p, err := New(1, newTestLogger())
	if err != nil {
		t.Fatalf("New() returned an unexpected error: %v", err)
	}

	var recovered []interface{}
	var mu sync.Mutex
	p.OnPanic = func(v interface{}) {
		mu.Lock()
		recovered = append(recovered, v)
		mu.Unlock()
	}

	var ran atomic.Bool
	p.Execute(func() { panic("boom") })
	p.Execute(func() { ran.Store(true) })
	p.Join()

	if !ran.Load() {
		t.Error("unit submitted after a panicking unit never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(recovered) != 1 || recovered[0] != "boom" {
		t.Errorf("OnPanic() want = [boom], got = %v", recovered)
	}
}

func TestPool_JoinIsIdempotent(t *testing.T) {
	p, err := New(3, newTestLogger())
	if err != nil {
		t.Fatalf("New() returned an unexpected error: %v", err)
	}
	p.Join()

	done := make(chan struct{})
	go func() {
		p.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Join() did not return")
	}

	var ran atomic.Bool
	p.Execute(func() { ran.Store(true) })
	time.Sleep(10 * time.Millisecond)
	if ran.Load() {
		t.Error("unit submitted after Join() was executed")
	}
}
