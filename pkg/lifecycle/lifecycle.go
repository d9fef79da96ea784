// Package lifecycle maps OS-level termination, reload, and status requests
// onto registered handler lists and provides a blocking termination wait.
package lifecycle

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler runs in response to a lifecycle signal. Errors and panics are
// isolated per handler and reported; they never abort remaining handlers.
type Handler func() error

// Reporter receives handler failures. category is one of "shutdown",
// "reload", "status".
type Reporter func(category string, err error)

// Controller owns the signal bindings for a managed process. SIGTERM and
// SIGINT trigger shutdown, SIGHUP reload, SIGUSR1 status. The OS signal is
// only forwarded onto a channel; handlers run on a dedicated goroutine.
type Controller struct {
	mu        sync.Mutex
	installed bool
	sigCh     chan os.Signal

	shutdownHandlers []Handler
	reloadHandlers   []Handler
	statusHandlers   []Handler

	done     chan struct{}
	doneOnce sync.Once

	report Reporter
}

// New creates a Controller. report may be nil.
func New(report Reporter) *Controller {
	if report == nil {
		report = func(string, error) {}
	}
	return &Controller{
		done:   make(chan struct{}),
		report: report,
	}
}

// OnShutdown registers a handler invoked once when shutdown is triggered.
func (c *Controller) OnShutdown(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownHandlers = append(c.shutdownHandlers, h)
}

// OnReload registers a handler invoked on every reload signal.
func (c *Controller) OnReload(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloadHandlers = append(c.reloadHandlers, h)
}

// OnStatus registers a handler invoked on every status signal.
func (c *Controller) OnStatus(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusHandlers = append(c.statusHandlers, h)
}

// Install binds the OS signals and starts the consumer goroutine. Calling
// Install again is a no-op.
func (c *Controller) Install() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installed {
		return
	}
	c.installed = true

	c.sigCh = make(chan os.Signal, 4)
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	go c.consume()
}

func (c *Controller) consume() {
	for sig := range c.sigCh {
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT:
			c.Shutdown()
		case syscall.SIGHUP:
			c.runHandlers(c.snapshot(&c.reloadHandlers), "reload")
		case syscall.SIGUSR1:
			c.runHandlers(c.snapshot(&c.statusHandlers), "status")
		}
	}
}

// Shutdown runs the shutdown handlers exactly once, in registration order,
// then sets the one-way terminal flag. Safe to call from any goroutine;
// subsequent calls return immediately.
func (c *Controller) Shutdown() {
	c.doneOnce.Do(func() {
		c.runHandlers(c.snapshot(&c.shutdownHandlers), "shutdown")
		close(c.done)
	})
}

// Wait blocks the calling goroutine until the terminal flag is set.
func (c *Controller) Wait() {
	<-c.done
}

// Terminated reports whether shutdown has completed.
func (c *Controller) Terminated() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Controller) snapshot(list *[]Handler) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Handler, len(*list))
	copy(out, *list)
	return out
}

func (c *Controller) runHandlers(handlers []Handler, category string) {
	for _, h := range handlers {
		c.runIsolated(h, category)
	}
}

func (c *Controller) runIsolated(h Handler, category string) {
	defer func() {
		if r := recover(); r != nil {
			c.report(category, fmt.Errorf("%s handler panicked: %v", category, r))
		}
	}()
	if err := h(); err != nil {
		c.report(category, fmt.Errorf("%s handler failed: %w", category, err))
	}
}
