// Package invoke shells out to the manager CLI so one agent can call
// another: streaming conversational exec sessions and one-shot command
// invocations on sibling agents.
package invoke

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Event types emitted on the exec stream. The set is open; consumers switch
// on the ones they care about and ignore the rest.
const (
	EventSessionStarted   = "session.started"
	EventSessionCompleted = "session.completed"
	EventSessionFailed    = "session.failed"
	EventTurnStarted      = "turn.started"
	EventTurnCompleted    = "turn.completed"
	EventItemStarted      = "item.started"
	EventItemUpdated      = "item.updated"
	EventItemCompleted    = "item.completed"
	EventCommandProgress  = "command.progress"
)

// ErrCLINotFound means neither manager binary name is on PATH.
var ErrCLINotFound = errors.New("manager CLI not found in PATH (tried op, opagent)")

// FindCLI locates the manager binary on PATH, trying the short name first.
func FindCLI() (string, error) {
	for _, name := range []string{"op", "opagent"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrCLINotFound
}

// Event is one JSON object from the exec stream. Raw holds the full decoded
// payload; Type and SessionID are lifted out because every consumer needs
// them.
type Event struct {
	Type      string
	SessionID string
	Raw       map[string]any
}

// Str returns a string field from the raw payload, or "".
func (e Event) Str(key string) string {
	v, _ := e.Raw[key].(string)
	return v
}

// ExecResult is the outcome of a streaming exec session.
type ExecResult struct {
	Response string
	// ResumeID resumes this conversation in a later Exec call.
	ResumeID string
	Events   []Event
}

// ExecOptions tune an exec session. All fields are optional.
type ExecOptions struct {
	// Agent targets a specific agent; empty uses the manager's default.
	Agent string
	// Resume continues the conversation with this id.
	Resume string
	// NoSave keeps the conversation out of the manager's database.
	NoSave bool
	// OnEvent is called for every streamed event, in order.
	OnEvent func(Event)
}

// Client wraps one resolved manager binary.
type Client struct {
	Path string
}

// NewClient locates the manager binary and returns a client for it.
func NewClient() (*Client, error) {
	path, err := FindCLI()
	if err != nil {
		return nil, err
	}
	return &Client{Path: path}, nil
}

// Exec sends message to an agent and streams the session's events until it
// finishes. Non-JSON output lines are passed through to this process's
// stderr. On a non-zero exit the events collected so far are still returned
// alongside the error.
func (c *Client) Exec(ctx context.Context, message string, opts ExecOptions) (*ExecResult, error) {
	argv := []string{"exec", message, "--json"}
	if opts.Agent != "" {
		argv = append(argv, "--agent", opts.Agent)
	}
	if opts.Resume != "" {
		argv = append(argv, "--resume", opts.Resume)
	}
	if opts.NoSave {
		argv = append(argv, "--no-save")
	}

	cmd := exec.CommandContext(ctx, c.Path, argv...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s exec: %w", c.Path, err)
	}

	result := &ExecResult{}
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var raw map[string]any
			if err := json.Unmarshal(line, &raw); err != nil {
				fmt.Fprintln(os.Stderr, string(line))
				continue
			}

			event := Event{Raw: raw}
			event.Type, _ = raw["type"].(string)
			event.SessionID, _ = raw["session_id"].(string)
			result.Events = append(result.Events, event)

			switch event.Type {
			case EventSessionStarted:
				result.ResumeID = event.SessionID
			case EventSessionCompleted:
				result.Response = event.Str("final_response")
			}
			if opts.OnEvent != nil {
				opts.OnEvent(event)
			}
		}
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-done
	pr.Close()

	if waitErr != nil {
		return result, fmt.Errorf("exec failed: %w", waitErr)
	}
	return result, nil
}

// Command invokes a single command on another agent, equivalent to
// `op agent command <agent> <command> --args=<json>`. Plain-text stderr
// lines arrive on onProgress as they happen; the decoded stdout JSON is the
// result. onProgress may be nil.
func (c *Client) Command(ctx context.Context, agent, command string, args map[string]any, onProgress func(string)) (any, error) {
	argv := []string{"agent", "command", agent, command}
	if len(args) > 0 {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode args: %w", err)
		}
		argv = append(argv, "--args", string(encoded))
	}

	cmd := exec.CommandContext(ctx, c.Path, argv...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s agent command: %w", c.Path, err)
	}

	var stderrLines []string
	scanner := bufio.NewScanner(stderrPipe)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stderrLines = append(stderrLines, line)
		if onProgress != nil && !strings.HasPrefix(line, "{") {
			onProgress(line)
		}
	}

	if err := cmd.Wait(); err != nil {
		detail := strings.Join(stderrLines, "\n")
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail != "" {
			return nil, fmt.Errorf("command failed: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("command failed: %w", err)
	}

	out := strings.TrimSpace(stdout.String())
	var result any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		// Not JSON; hand back the raw text.
		return out, nil
	}
	return result, nil
}
