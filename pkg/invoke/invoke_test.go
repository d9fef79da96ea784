package invoke

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeStub drops an executable shell script standing in for the manager
// binary.
func writeStub(t *testing.T, script string) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "op")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755)
	require.NoError(t, err)
	return &Client{Path: path}
}

func TestExecStreamsEvents(t *testing.T) {
	c := writeStub(t, `
echo '{"type":"session.started","session_id":"sess-1"}'
echo 'spinner text that is not json'
echo '{"type":"item.updated","session_id":"sess-1","item":{"text":"thinking"}}'
echo '{"type":"session.completed","session_id":"sess-1","final_response":"All done"}'
`)

	var types []string
	result, err := c.Exec(context.Background(), "hello", ExecOptions{
		Agent:   "helper",
		OnEvent: func(e Event) { types = append(types, e.Type) },
	})
	require.NoError(t, err)

	require.Equal(t, "sess-1", result.ResumeID)
	require.Equal(t, "All done", result.Response)
	require.Equal(t, []string{EventSessionStarted, EventItemUpdated, EventSessionCompleted}, types)
	require.Len(t, result.Events, 3)
}

func TestExecNonZeroExitKeepsEvents(t *testing.T) {
	c := writeStub(t, `
echo '{"type":"session.started","session_id":"sess-2"}'
exit 3
`)

	result, err := c.Exec(context.Background(), "hello", ExecOptions{})
	require.Error(t, err)
	require.NotNil(t, result)
	require.Equal(t, "sess-2", result.ResumeID)
	require.Len(t, result.Events, 1)
}

func TestExecPassesFlags(t *testing.T) {
	// The stub echoes its argv back as the final response.
	c := writeStub(t, `
printf '{"type":"session.completed","session_id":"s","final_response":"%s"}\n' "$*"
`)

	result, err := c.Exec(context.Background(), "msg", ExecOptions{
		Agent:  "target",
		Resume: "prev-session",
		NoSave: true,
	})
	require.NoError(t, err)
	require.Contains(t, result.Response, "exec msg --json")
	require.Contains(t, result.Response, "--agent target")
	require.Contains(t, result.Response, "--resume prev-session")
	require.Contains(t, result.Response, "--no-save")
}

func TestCommandReturnsDecodedResult(t *testing.T) {
	c := writeStub(t, `
echo 'Processing file...' >&2
echo '{"internal":"json progress is not surfaced"}' >&2
echo '{"rows":42,"status":"ok"}'
`)

	var progress []string
	result, err := c.Command(context.Background(), "processor", "process_file",
		map[string]any{"path": "/tmp/data.csv"},
		func(text string) { progress = append(progress, text) })
	require.NoError(t, err)

	decoded, ok := result.(map[string]any)
	require.True(t, ok, "result should decode as an object, got %T", result)
	require.Equal(t, float64(42), decoded["rows"])
	require.Equal(t, []string{"Processing file..."}, progress)
}

func TestCommandNonJSONResultIsRawText(t *testing.T) {
	c := writeStub(t, `echo 'plain text answer'`)

	result, err := c.Command(context.Background(), "a", "cmd", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "plain text answer", result)
}

func TestCommandFailureIncludesStderr(t *testing.T) {
	c := writeStub(t, `
echo 'agent not running' >&2
exit 1
`)

	_, err := c.Command(context.Background(), "a", "cmd", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "agent not running")
}

func TestFindCLIMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := FindCLI()
	require.ErrorIs(t, err, ErrCLINotFound)
}
