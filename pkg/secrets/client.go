// Package secrets retrieves secrets and the current invocation directory
// from the manager over its side-channel domain socket. Each request is a
// one-shot connection carrying a single newline-terminated JSON line.
package secrets

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// EnvSocketPath overrides the manager socket location.
	EnvSocketPath = "OPAGENT_SOCKET_PATH"

	// DefaultSocketName is the socket filename under the temp directory
	// when EnvSocketPath is unset.
	DefaultSocketName = "opagent.sock"

	requestSecret        = "secret_get"
	requestInvocationDir = "get_invocation_dir"

	// DefaultTimeout bounds a full request/response round trip.
	DefaultTimeout = 5 * time.Second
)

// ErrEmptyName is returned before dialing when the secret name is blank.
var ErrEmptyName = errors.New("secret name cannot be empty")

// Client talks to the manager's side-channel socket.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// NewClient builds a client with the resolved socket path and the default
// timeout.
func NewClient() *Client {
	return &Client{
		SocketPath: ResolveSocketPath(),
		Timeout:    DefaultTimeout,
	}
}

// ResolveSocketPath returns the socket location: the EnvSocketPath value if
// set, else the well-known temp-directory default.
func ResolveSocketPath() string {
	if path := os.Getenv(EnvSocketPath); path != "" {
		return path
	}
	return filepath.Join(os.TempDir(), DefaultSocketName)
}

// Get fetches a named secret. The name is trimmed and must be non-empty.
func (c *Client) Get(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrEmptyName
	}

	resp, err := c.roundTrip(map[string]any{
		"type":        requestSecret,
		"secret_name": trimmed,
	})
	if err != nil {
		return "", err
	}

	if ok, _ := resp["success"].(bool); !ok {
		if msg, _ := resp["error"].(string); msg != "" {
			return "", errors.New(msg)
		}
		return "", errors.New("failed to retrieve secret")
	}

	value, ok := resp["secret"].(string)
	if !ok {
		return "", errors.New("manager response missing secret value")
	}
	return value, nil
}

// InvocationDir queries the directory the user invoked the manager CLI
// from. Callers treat a failure as "not available" rather than fatal.
func (c *Client) InvocationDir() (string, error) {
	resp, err := c.roundTrip(map[string]any{"type": requestInvocationDir})
	if err != nil {
		return "", err
	}

	if ok, _ := resp["success"].(bool); !ok {
		return "", errors.New("manager could not provide invocation directory")
	}
	dir, _ := resp["invocation_dir"].(string)
	if dir == "" {
		return "", errors.New("manager response missing invocation directory")
	}
	return dir, nil
}

func (c *Client) roundTrip(payload map[string]any) (map[string]any, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to contact manager at %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set socket deadline: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if len(line) == 0 {
		if err != nil {
			return nil, fmt.Errorf("manager returned no response: %w", err)
		}
		return nil, errors.New("manager returned no response")
	}

	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("invalid response from manager: %w", err)
	}
	return resp, nil
}
