package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/opagent/agentkit/pkg/args"
	"github.com/opagent/agentkit/pkg/protocol"
)

// ListCommandsName is the reserved command the manager issues to read the
// registry back. It never reaches a user handler.
const ListCommandsName = "__list_commands"

func (a *Agent) handleCommand(cmd protocol.Command) {
	dir := a.resolveInvocationDir(cmd.WorkingDir)

	if cmd.Command == ListCommandsName {
		defs := a.reg.definitions()
		listing := make([]map[string]any, 0, len(defs))
		for _, def := range defs {
			listing = append(listing, def.Payload())
		}
		a.sender.SendResponse(true, cmd.ID, listing, "")
		return
	}

	handler, def, ok := a.reg.lookup(cmd.Command)
	if !ok {
		a.logger.Warn("received unknown command", "command", cmd.Command)
		a.sender.SendResponse(false, cmd.ID, nil, fmt.Sprintf("unknown command: %s", cmd.Command))
		return
	}

	prepared, err := args.Prepare(&def, cmd.Args)
	if err != nil {
		a.sender.SendResponse(false, cmd.ID, nil, err.Error())
		return
	}

	if def.Async {
		a.ensurePool().submit(func() { a.execute(cmd, handler, prepared, dir) })
		return
	}
	a.execute(cmd, handler, prepared, dir)
}

func (a *Agent) execute(cmd protocol.Command, handler Handler, prepared map[string]any, dir string) {
	logID := cmd.ID
	if logID == "" {
		logID = uuid.NewString()
	}
	logger := a.logger.With("command", cmd.Command, "command_id", logID)
	logger.Debug("executing command")

	ctx := WithInvocation(context.Background(), Invocation{CommandID: cmd.ID, Dir: dir})

	defer func() {
		if r := recover(); r != nil {
			logger.Error("command handler panicked", "panic", fmt.Sprint(r))
			a.sender.SendResponse(false, cmd.ID, nil,
				fmt.Sprintf("command '%s' panicked: %v", cmd.Command, r))
		}
	}()

	result, err := handler(ctx, prepared)
	if err != nil {
		logger.Error("command failed", "error", err.Error())
		a.sender.SendResponse(false, cmd.ID, nil, err.Error())
		return
	}
	a.sender.SendResponse(true, cmd.ID, result, "")
}

func (a *Agent) ensurePool() *workerPool {
	a.poolOnce.Do(func() {
		size := a.maxWorkers
		if size <= 0 {
			size = defaultPoolSize()
		}
		a.pool = newWorkerPool(size)
	})
	return a.pool
}

// resolveInvocationDir picks the directory for this invocation: the
// command's explicit working_dir when present, else the cached directory.
// The result is home-expanded and absolute; a non-empty resolution refreshes
// the cache.
func (a *Agent) resolveInvocationDir(explicit string) string {
	candidate := strings.TrimSpace(explicit)
	if candidate == "" {
		a.invocationMu.Lock()
		candidate = a.invocationDir
		a.invocationMu.Unlock()
	}
	if candidate == "" {
		return ""
	}

	resolved, err := normalizePath(candidate)
	if err != nil {
		a.logger.Warn("could not resolve invocation directory", "path", candidate, "error", err.Error())
		return ""
	}
	a.setInvocationDir(resolved)
	return resolved
}

func (a *Agent) setInvocationDir(dir string) {
	a.invocationMu.Lock()
	a.invocationDir = dir
	a.invocationMu.Unlock()
}

func normalizePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
