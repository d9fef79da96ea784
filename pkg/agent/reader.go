package agent

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/opagent/agentkit/pkg/protocol"
)

// readLoop consumes newline-delimited envelopes from the manager until the
// stream closes. Blank lines are skipped and malformed lines are discarded
// with a debug log; neither tears the loop down.
func (a *Agent) readLoop() {
	defer close(a.readerDone)

	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEnvelopeBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		env, err := protocol.ParseEnvelope(line)
		if err != nil {
			a.logger.Debug("discarding invalid envelope", "error", err.Error())
			continue
		}
		a.route(env)
	}

	if a.stopping.Load() {
		return
	}
	if err := scanner.Err(); err != nil {
		a.sender.SendError(fmt.Sprintf("error reading from stdin: %v", err), 0, "")
		return
	}
	// EOF with the agent still running means the manager went away.
	a.logger.Info("stdin closed, manager disconnected")
	a.lifecycle.Shutdown()
}

func (a *Agent) route(env *protocol.Envelope) {
	switch env.Type {
	case protocol.KindCommand:
		cmd := protocol.CommandFromData(env.Data)
		if cmd.Command == "" {
			a.logger.Debug("ignoring command envelope without a command name")
			return
		}
		a.handleCommand(cmd)
	case protocol.KindLifecycleEvent:
		a.handleLifecycleEvent(protocol.LifecycleEventFromData(env.Data))
	default:
		a.logger.Debug("ignoring unexpected envelope", "type", string(env.Type))
	}
}

// maxEnvelopeBytes caps a single inbound line. Command payloads carry user
// arguments, so the cap is generous.
const maxEnvelopeBytes = 10 * 1024 * 1024
