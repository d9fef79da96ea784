package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opagent/agentkit/pkg/protocol"
)

// lineRecorder captures outbound envelopes so tests can inspect them while
// async handlers are still emitting.
type lineRecorder struct {
	mu    sync.Mutex
	lines [][]byte
}

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range bytes.Split(bytes.TrimSpace(p), []byte{'\n'}) {
		if len(line) > 0 {
			r.lines = append(r.lines, append([]byte(nil), line...))
		}
	}
	return len(p), nil
}

func (r *lineRecorder) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(r.lines))
	for _, line := range r.lines {
		var env protocol.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			t.Fatalf("recorded line is not an envelope: %v (%s)", err, line)
		}
		out = append(out, env)
	}
	return out
}

// ofKind filters recorded envelopes by kind.
func (r *lineRecorder) ofKind(t *testing.T, kind protocol.MessageKind) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for _, env := range r.envelopes(t) {
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

// waitForKind polls until at least n envelopes of the kind arrived.
func (r *lineRecorder) waitForKind(t *testing.T, kind protocol.MessageKind, n int) []protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.ofKind(t, kind); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q envelopes, have %d", n, kind, len(r.ofKind(t, kind)))
	return nil
}

type noopApp struct{}

func (noopApp) Initialize(*Agent) error { return nil }
func (noopApp) Start(*Agent) error      { return nil }

func newTestAgent(t *testing.T, in string) (*Agent, *lineRecorder) {
	t.Helper()
	rec := &lineRecorder{}
	a := New("test-agent", noopApp{}, WithStreams(strings.NewReader(in), rec))
	return a, rec
}

func TestCommandsAreListedSorted(t *testing.T) {
	a, _ := newTestAgent(t, "")
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := a.RegisterCommand(name, noop, protocol.CommandDefinition{}); err != nil {
			t.Fatalf("RegisterCommand(%q): %v", name, err)
		}
	}

	var names []string
	for _, def := range a.Commands() {
		names = append(names, def.Name)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Commands() order = %v, want %v", names, want)
		}
	}
}

func TestRegisterCommandRejectsBadInput(t *testing.T) {
	a, _ := newTestAgent(t, "")
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }

	if err := a.RegisterCommand("   ", noop, protocol.CommandDefinition{}); err == nil {
		t.Error("empty name accepted")
	}
	if err := a.RegisterCommand("ok", nil, protocol.CommandDefinition{}); err == nil {
		t.Error("nil handler accepted")
	}
}

func TestUnknownCommandFails(t *testing.T) {
	a, rec := newTestAgent(t, "")

	a.handleCommand(protocol.Command{Command: "nope", ID: "7"})

	resps := rec.ofKind(t, protocol.KindResponse)
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	data := resps[0].Data
	if data["success"] != false {
		t.Errorf("success = %v, want false", data["success"])
	}
	if data["command_id"] != "7" {
		t.Errorf("command_id = %v, want 7", data["command_id"])
	}
	if msg, _ := data["error"].(string); !strings.Contains(msg, "unknown command") {
		t.Errorf("error = %q, want mention of unknown command", msg)
	}
}

func TestMissingRequiredArgFailsBeforeHandler(t *testing.T) {
	a, rec := newTestAgent(t, "")

	called := false
	handler := func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	}
	def := protocol.CommandDefinition{
		Arguments: []protocol.ArgumentSpec{{Name: "path", Type: "string", Required: true}},
	}
	if err := a.RegisterCommand("open", handler, def); err != nil {
		t.Fatal(err)
	}

	a.handleCommand(protocol.Command{Command: "open", ID: "1", Args: map[string]any{}})

	if called {
		t.Error("handler ran despite missing required argument")
	}
	resps := rec.ofKind(t, protocol.KindResponse)
	if len(resps) != 1 || resps[0].Data["success"] != false {
		t.Fatalf("want one failure response, got %v", resps)
	}
	if msg, _ := resps[0].Data["error"].(string); !strings.Contains(msg, "path") {
		t.Errorf("error = %q, want mention of the missing argument", msg)
	}
}

func TestGreetEndToEnd(t *testing.T) {
	line := `{"type":"command","timestamp":"2026-01-01T00:00:00Z","data":{"command":"greet","id":"1","args":{"name":"Ada"}}}` + "\n"
	a, rec := newTestAgent(t, "junk not json\n\n"+line)

	greet := func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"greeting": fmt.Sprintf("Hello, %s", args["name"])}, nil
	}
	def := protocol.CommandDefinition{
		Arguments: []protocol.ArgumentSpec{{Name: "name", Type: "string", Required: true}},
	}
	if err := a.RegisterCommand("greet", greet, def); err != nil {
		t.Fatal(err)
	}

	a.stopping.Store(true) // keep EOF from triggering shutdown handling
	a.readLoop()

	resps := rec.ofKind(t, protocol.KindResponse)
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1 (invalid line must be discarded)", len(resps))
	}
	data := resps[0].Data
	if data["success"] != true || data["command_id"] != "1" {
		t.Fatalf("unexpected response: %v", data)
	}
	result, _ := data["result"].(map[string]any)
	if result["greeting"] != "Hello, Ada" {
		t.Errorf("greeting = %v, want Hello, Ada", result["greeting"])
	}
}

func TestCommandWithoutNameIsIgnored(t *testing.T) {
	line := `{"type":"command","timestamp":"2026-01-01T00:00:00Z","data":{"id":"9","args":{"x":1}}}` + "\n"
	a, rec := newTestAgent(t, line)

	a.stopping.Store(true)
	a.readLoop()

	if resps := rec.ofKind(t, protocol.KindResponse); len(resps) != 0 {
		t.Errorf("nameless command produced responses: %v", resps)
	}
}

func TestListCommandsBypassesHandlers(t *testing.T) {
	a, rec := newTestAgent(t, "")
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	a.RegisterCommand("beta", noop, protocol.CommandDefinition{})
	a.RegisterCommand("alpha", noop, protocol.CommandDefinition{})

	a.handleCommand(protocol.Command{Command: ListCommandsName, ID: "9"})

	resps := rec.ofKind(t, protocol.KindResponse)
	if len(resps) != 1 || resps[0].Data["success"] != true {
		t.Fatalf("want one success response, got %v", resps)
	}
	listing, _ := resps[0].Data["result"].([]any)
	if len(listing) != 2 {
		t.Fatalf("listing has %d entries, want 2", len(listing))
	}
	first, _ := listing[0].(map[string]any)
	if first["name"] != "alpha" {
		t.Errorf("listing[0] = %v, want alpha first", first["name"])
	}
}

func TestAsyncCommandsCarryDistinctInvocations(t *testing.T) {
	const n = 5
	rec := &lineRecorder{}
	a := New("test-agent", noopApp{},
		WithStreams(strings.NewReader(""), rec), WithMaxAsyncWorkers(n))

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(n)

	handler := func(ctx context.Context, _ map[string]any) (any, error) {
		a.ReportProgress(ctx, protocol.Progress{Text: "working"})
		started.Done()
		<-release
		return "done", nil
	}
	def := protocol.CommandDefinition{Async: true}
	if err := a.RegisterCommand("work", handler, def); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		a.handleCommand(protocol.Command{Command: "work", ID: fmt.Sprintf("id-%d", i)})
	}

	done := make(chan struct{})
	go func() { started.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("async handlers did not all start; dispatch may be serialized")
	}
	close(release)

	progress := rec.waitForKind(t, protocol.KindCommandProgress, n)
	seen := map[string]bool{}
	for _, env := range progress {
		id, _ := env.Data["command_id"].(string)
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("progress carried %d distinct command ids, want %d: %v", len(seen), n, seen)
	}

	rec.waitForKind(t, protocol.KindResponse, n)
}

func TestHandlerPanicBecomesFailureResponse(t *testing.T) {
	a, rec := newTestAgent(t, "")
	boom := func(context.Context, map[string]any) (any, error) { panic("kaboom") }
	a.RegisterCommand("boom", boom, protocol.CommandDefinition{})

	a.handleCommand(protocol.Command{Command: "boom", ID: "3"})

	resps := rec.ofKind(t, protocol.KindResponse)
	if len(resps) != 1 || resps[0].Data["success"] != false {
		t.Fatalf("want one failure response, got %v", resps)
	}
	if msg, _ := resps[0].Data["error"].(string); !strings.Contains(msg, "kaboom") {
		t.Errorf("error = %q, want panic value included", msg)
	}
}

func TestProgressOutsideInvocationIsDropped(t *testing.T) {
	a, rec := newTestAgent(t, "")
	a.ReportProgress(context.Background(), protocol.Progress{Text: "hello"})
	if got := rec.ofKind(t, protocol.KindCommandProgress); len(got) != 0 {
		t.Errorf("progress emitted outside an invocation: %v", got)
	}
}

func TestUnregisterCommand(t *testing.T) {
	a, _ := newTestAgent(t, "")
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	a.RegisterCommand("tmp", noop, protocol.CommandDefinition{})

	if !a.UnregisterCommand("tmp") {
		t.Error("UnregisterCommand returned false for a registered command")
	}
	if a.UnregisterCommand("tmp") {
		t.Error("UnregisterCommand returned true for a removed command")
	}
	if len(a.Commands()) != 0 {
		t.Errorf("registry not empty after unregister: %v", a.Commands())
	}
}

func TestLifecycleEventUpdatesInvocationDir(t *testing.T) {
	a, _ := newTestAgent(t, "")

	var gotOld, gotNew string
	a.Events.InvocationDirChanged = func(oldPath, newPath string) {
		gotOld, gotNew = oldPath, newPath
	}

	a.handleLifecycleEvent(protocol.LifecycleEvent{
		EventType: "invocation_directory_changed",
		Data:      map[string]any{"old_path": "/a", "new_path": "/b"},
	})

	if gotOld != "/a" || gotNew != "/b" {
		t.Errorf("callback got (%q, %q), want (/a, /b)", gotOld, gotNew)
	}
	if dir := a.InvocationDirectory(context.Background()); dir != "/b" {
		t.Errorf("InvocationDirectory = %q, want /b", dir)
	}
}

func TestConversationSwitchedFields(t *testing.T) {
	a, _ := newTestAgent(t, "")

	var gotID, gotPrev string
	var gotCount int
	a.Events.ConversationSwitched = func(conversationID, previousID string, messageCount int) {
		gotID, gotPrev, gotCount = conversationID, previousID, messageCount
	}

	a.handleLifecycleEvent(protocol.LifecycleEvent{
		EventType: "conversation_switched",
		Data: map[string]any{
			"conversation_id": "c2",
			"previous_id":     "c1",
			"message_count":   float64(7),
		},
	})

	if gotID != "c2" || gotPrev != "c1" || gotCount != 7 {
		t.Errorf("callback got (%q, %q, %d), want (c2, c1, 7)", gotID, gotPrev, gotCount)
	}
}

func TestLifecycleEventPanicIsContained(t *testing.T) {
	a, _ := newTestAgent(t, "")
	a.Events.ConversationDeleted = func(string) { panic("handler bug") }

	// Must not propagate.
	a.handleLifecycleEvent(protocol.LifecycleEvent{
		EventType: "conversation_deleted",
		Data:      map[string]any{"conversation_id": "c1"},
	})
}

func TestSidebarSections(t *testing.T) {
	a, rec := newTestAgent(t, "")

	if err := a.RegisterSection("stats", "Stats", "empty", false); err != nil {
		t.Fatal(err)
	}
	if err := a.UpdateSection("stats", "5 items"); err != nil {
		t.Fatal(err)
	}
	// Updating an unknown id registers it with the id as title.
	if err := a.UpdateSection("ghost", "x"); err != nil {
		t.Errorf("UpdateSection(unknown) = %v, want auto-register", err)
	}
	if !a.UnregisterSection("ghost") {
		t.Error("auto-registered section missing from state")
	}
	if !a.UnregisterSection("stats") {
		t.Error("UnregisterSection returned false for a registered section")
	}
	if a.UnregisterSection("stats") {
		t.Error("UnregisterSection returned true for a removed section")
	}

	sections := rec.ofKind(t, protocol.KindSidebarSection)
	if len(sections) != 3 {
		t.Fatalf("got %d sidebar_section envelopes, want 3", len(sections))
	}
	if sections[1].Data["content"] != "5 items" || sections[1].Data["title"] != "Stats" {
		t.Errorf("update envelope = %v, want refreshed content with original title", sections[1].Data)
	}
	if sections[2].Data["title"] != "ghost" {
		t.Errorf("auto-register envelope = %v, want id as title", sections[2].Data)
	}
	if got := rec.ofKind(t, protocol.KindSidebarSectionRemoval); len(got) != 2 {
		t.Errorf("got %d removal envelopes, want 2", len(got))
	}
}
