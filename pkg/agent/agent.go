// Package agent composes the managed-process runtime: the command registry
// and dispatcher, the stdin reader loop, signal-driven lifecycle handling,
// config loading, and the protocol sender, behind a single Run entry point.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opagent/agentkit/pkg/lifecycle"
	"github.com/opagent/agentkit/pkg/protocol"
	"github.com/opagent/agentkit/pkg/secrets"
)

// App is the application behavior plugged into an Agent. Initialize runs
// before the runtime announces readiness and is where commands, lifecycle
// event callbacks, system prompt, and sidebar sections get registered.
// Start runs after readiness; it should kick off background work and return.
type App interface {
	Initialize(a *Agent) error
	Start(a *Agent) error
}

// ShutdownHandler is implemented by apps that need cleanup on termination.
type ShutdownHandler interface {
	OnShutdown(a *Agent)
}

// ConfigReloader is implemented by apps that react to config reloads. It is
// called only when the file content actually changed.
type ConfigReloader interface {
	OnConfigUpdate(a *Agent, cfg map[string]any)
}

// StatusReporter is implemented by apps that answer status signals.
type StatusReporter interface {
	OnStatus(a *Agent)
}

// MainLooper replaces the default block-until-terminated main loop. The
// implementation must return when a.Terminated() becomes true.
type MainLooper interface {
	MainLoop(a *Agent)
}

// Agent is the runtime for one managed process.
type Agent struct {
	name    string
	version string
	app     App

	in     io.Reader
	sender *protocol.Sender
	logger *slog.Logger

	lifecycle *lifecycle.Controller
	secrets   *secrets.Client
	reg       *registry

	// Events is populated by the app during Initialize.
	Events Events

	configPath string
	configMu   sync.Mutex
	config     map[string]any
	configHash [32]byte

	invocationMu  sync.Mutex
	invocationDir string

	sectionsMu sync.Mutex
	sections   map[string]sidebarSection

	maxWorkers int
	poolOnce   sync.Once
	pool       *workerPool

	running       atomic.Bool
	stopping      atomic.Bool
	readerStarted atomic.Bool
	readerDone    chan struct{}
}

// Option configures an Agent at construction time.
type Option func(*Agent)

// WithVersion sets the version announced in the ready envelope.
func WithVersion(version string) Option {
	return func(a *Agent) { a.version = version }
}

// WithMaxAsyncWorkers caps concurrent async command handlers. Zero or
// negative means the default of min(NumCPU, 8).
func WithMaxAsyncWorkers(n int) Option {
	return func(a *Agent) { a.maxWorkers = n }
}

// WithStreams replaces stdin/stdout, mainly for tests.
func WithStreams(in io.Reader, out io.Writer) Option {
	return func(a *Agent) {
		a.in = in
		a.sender = protocol.NewSender(out)
	}
}

// WithSocketPath overrides the manager side-channel socket location.
func WithSocketPath(path string) Option {
	return func(a *Agent) { a.secrets.SocketPath = path }
}

// WithConfigPath overrides the config file location.
func WithConfigPath(path string) Option {
	return func(a *Agent) { a.configPath = path }
}

// New builds an Agent around app. name identifies the agent to the manager's
// logs; it is not the process name.
func New(name string, app App, opts ...Option) *Agent {
	if strings.TrimSpace(name) == "" {
		name = "agent"
	}

	a := &Agent{
		name:       name,
		version:    "1.0.0",
		app:        app,
		in:         os.Stdin,
		sender:     protocol.NewSender(os.Stdout),
		secrets:    secrets.NewClient(),
		reg:        newRegistry(),
		sections:   make(map[string]sidebarSection),
		readerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = slog.New(newEnvelopeHandler(a.sender))

	a.lifecycle = lifecycle.New(func(category string, err error) {
		a.sender.SendError(err.Error(), 0, "")
	})
	a.lifecycle.OnShutdown(a.onShutdown)
	a.lifecycle.OnReload(a.onReload)
	a.lifecycle.OnStatus(a.onStatus)

	return a
}

// Run drives the full lifecycle: install signal handling, fetch the
// invocation directory, load config, initialize the app, publish the
// registry, start the reader, announce readiness, start the app, then block
// until terminated. It returns the app's fatal error, if any.
func (a *Agent) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.sender.SendError(fmt.Sprintf("fatal error: %v", r), 1, string(debug.Stack()))
			err = fmt.Errorf("fatal error: %v", r)
		}
		a.cleanup()
	}()

	a.lifecycle.Install()
	a.fetchInvocationDir()
	a.loadConfig()

	a.logger.Info("initializing agent", "name", a.name, "version", a.version)
	if err := a.app.Initialize(a); err != nil {
		a.sender.SendError(fmt.Sprintf("initialization failed: %v", err), 1, "")
		return fmt.Errorf("initialization failed: %w", err)
	}

	a.publishRegistry()
	a.readerStarted.Store(true)
	go a.readLoop()

	a.sender.SendReady(os.Getpid(), a.version)
	a.running.Store(true)
	a.logger.Info("agent ready", "pid", os.Getpid())

	if err := a.app.Start(a); err != nil {
		a.sender.SendError(fmt.Sprintf("start failed: %v", err), 1, "")
		return fmt.Errorf("start failed: %w", err)
	}

	if ml, ok := a.app.(MainLooper); ok {
		ml.MainLoop(a)
	} else {
		a.lifecycle.Wait()
	}
	return nil
}

// fetchInvocationDir asks the manager where the user ran the CLI from. The
// manager may not expose the socket yet, so failure is non-fatal and bounded
// by a short timeout.
func (a *Agent) fetchInvocationDir() {
	c := *a.secrets
	c.Timeout = 2 * time.Second
	dir, err := c.InvocationDir()
	if err != nil || dir == "" {
		return
	}
	if resolved, err := normalizePath(dir); err == nil {
		a.setInvocationDir(resolved)
	}
}

func (a *Agent) cleanup() {
	a.stopping.Store(true)
	a.running.Store(false)

	if a.pool != nil {
		a.pool.shutdown()
	}

	// The reader is usually parked on a stdin read; give it a moment to
	// notice EOF but never hang the exit path on it.
	if a.readerStarted.Load() {
		select {
		case <-a.readerDone:
		case <-time.After(time.Second):
		}
	}
}

func (a *Agent) onShutdown() error {
	a.logger.Info("shutting down", "name", a.name)
	a.running.Store(false)
	if h, ok := a.app.(ShutdownHandler); ok {
		h.OnShutdown(a)
	}
	return nil
}

func (a *Agent) onReload() error {
	a.logger.Info("reload requested")
	a.reloadConfig()
	return nil
}

func (a *Agent) onStatus() error {
	if s, ok := a.app.(StatusReporter); ok {
		s.OnStatus(a)
		return nil
	}
	a.logger.Info("status", "name", a.name, "running", a.running.Load(),
		"commands", len(a.reg.definitions()))
	return nil
}

// RegisterCommand binds handler to name and republishes the registry. def's
// Name is overwritten with name; everything else is normalized as given.
func (a *Agent) RegisterCommand(name string, handler Handler, def protocol.CommandDefinition) error {
	if _, err := a.reg.register(name, handler, def); err != nil {
		return err
	}
	a.publishRegistry()
	return nil
}

// UnregisterCommand removes a command and republishes the registry. Removing
// an unknown name logs a warning and returns false.
func (a *Agent) UnregisterCommand(name string) bool {
	if !a.reg.unregister(name) {
		a.logger.Warn("attempted to unregister unknown command", "command", name)
		return false
	}
	a.publishRegistry()
	return true
}

// Commands returns the normalized command definitions in name order.
func (a *Agent) Commands() []protocol.CommandDefinition {
	return a.reg.definitions()
}

func (a *Agent) publishRegistry() {
	a.sender.SendRegistry(a.reg.definitions())
}

// SetSystemPrompt publishes the agent's system prompt. replace substitutes
// the manager's base prompt instead of appending to it.
func (a *Agent) SetSystemPrompt(prompt string, replace bool) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return fmt.Errorf("system prompt must be a non-empty string")
	}
	return a.sender.SendSystemPrompt(trimmed, replace)
}

// SetDescription publishes the agent's human-readable description.
func (a *Agent) SetDescription(description string) error {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return fmt.Errorf("description must be a non-empty string")
	}
	return a.sender.SendAgentDescription(trimmed)
}

// ReportProgress emits a progress update for the invocation bound to ctx.
// Outside a command invocation, or for a fire-and-forget command without an
// id, the report is dropped.
func (a *Agent) ReportProgress(ctx context.Context, p protocol.Progress) {
	inv, ok := InvocationFromContext(ctx)
	if !ok || inv.CommandID == "" {
		return
	}
	p.CommandID = inv.CommandID
	a.sender.SendProgress(p)
}

// GetSecret fetches a named secret from the manager.
func (a *Agent) GetSecret(name string) (string, error) {
	return a.secrets.Get(name)
}

// InvocationDirectory returns the directory this invocation should operate
// in: the invocation bound to ctx when it carries one, else the cached
// process-wide directory, else the current working directory.
func (a *Agent) InvocationDirectory(ctx context.Context) string {
	if inv, ok := InvocationFromContext(ctx); ok && inv.Dir != "" {
		return inv.Dir
	}
	a.invocationMu.Lock()
	dir := a.invocationDir
	a.invocationMu.Unlock()
	if dir != "" {
		return dir
	}
	return a.WorkingDirectory()
}

// WorkingDirectory returns the process's current working directory.
func (a *Agent) WorkingDirectory() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// Logger returns the agent's structured logger. Records are shipped to the
// manager as log envelopes.
func (a *Agent) Logger() *slog.Logger {
	return a.logger
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Version returns the agent's version string.
func (a *Agent) Version() string { return a.version }

// Running reports whether the agent is past readiness and not yet
// terminated.
func (a *Agent) Running() bool { return a.running.Load() }

// Terminated reports whether shutdown has completed.
func (a *Agent) Terminated() bool { return a.lifecycle.Terminated() }

// InitiateShutdown triggers the same shutdown path as SIGTERM.
func (a *Agent) InitiateShutdown() {
	a.lifecycle.Shutdown()
}
