package lifecycle

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownRunsHandlersOnceAndUnblocksWait(t *testing.T) {
	c := New(nil)

	var order []int
	c.OnShutdown(func() error { order = append(order, 1); return nil })
	c.OnShutdown(func() error { order = append(order, 2); return nil })

	unblocked := make(chan struct{})
	go func() {
		c.Wait()
		close(unblocked)
	}()

	c.Shutdown()
	c.Shutdown() // second call is a no-op

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("Wait() did not unblock after Shutdown()")
	}

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("handlers ran %v, want [1 2] exactly once in order", order)
	}
	if !c.Terminated() {
		t.Error("Terminated() = false after shutdown")
	}
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	var reports int32
	c := New(func(category string, err error) {
		atomic.AddInt32(&reports, 1)
	})

	var ran []string
	c.OnShutdown(func() error { ran = append(ran, "a"); return errors.New("boom") })
	c.OnShutdown(func() error { ran = append(ran, "b"); panic("worse") })
	c.OnShutdown(func() error { ran = append(ran, "c"); return nil })

	c.Shutdown()

	if len(ran) != 3 {
		t.Errorf("handlers ran %v, want all three despite failures", ran)
	}
	if got := atomic.LoadInt32(&reports); got != 2 {
		t.Errorf("reports = %d, want 2", got)
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	c := New(nil)
	c.Install()
	first := c.sigCh
	c.Install()
	if c.sigCh != first {
		t.Error("second Install() rebound the signal channel")
	}
}

func TestTerminatedBeforeShutdown(t *testing.T) {
	c := New(nil)
	if c.Terminated() {
		t.Error("Terminated() = true before shutdown")
	}
}
