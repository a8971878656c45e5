package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/namnv2496/bytescript/internal/sandbox"
	"github.com/namnv2496/bytescript/internal/sandbox/sandboxtest"
)

type runtimeRunner struct {
	rt *sandbox.Runtime
}

func (r runtimeRunner) Open(ctx context.Context, code string) (*sandbox.Session, error) {
	return r.rt.Start(ctx, sandbox.Request{Code: code})
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	launcher := &sandboxtest.Launcher{Script: func(w *sandboxtest.Worker) {
		cmd, _ := w.Code()
		w.Status(sandbox.StatusRunning)
		w.Post(sandbox.TypeLog, "ran: "+cmd.Code)
		w.Status(sandbox.StatusDone)
	}}
	hub := NewHub(runtimeRunner{rt: sandbox.NewRuntime(launcher, sandbox.Config{}, nil)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnections))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, username, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?username=" + username + "&room=" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", username, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first message accepted by match, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func ofType(typ string) func(Message) bool {
	return func(m Message) bool { return m.Type == typ }
}

func presenceIs(members ...string) func(Message) bool {
	want, _ := json.Marshal(members)
	return func(m Message) bool { return m.Type == TypePresence && m.Payload == string(want) }
}

func TestHubRejectsMissingParams(t *testing.T) {
	_, srv := newTestHub(t)
	resp, err := http.Get(srv.URL + "/ws?username=alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHubRelaysWithinRoom(t *testing.T) {
	hub, srv := newTestHub(t)
	alice := dial(t, srv, "alice", "r1")
	readUntil(t, alice, presenceIs("alice"))
	bob := dial(t, srv, "bob", "r1")
	readUntil(t, alice, presenceIs("alice", "bob"))
	readUntil(t, bob, presenceIs("alice", "bob"))
	carol := dial(t, srv, "carol", "r2")
	readUntil(t, carol, presenceIs("carol"))

	if got := hub.Members("r1"); len(got) != 2 {
		t.Fatalf("unexpected members %v", got)
	}

	if err := alice.WriteJSON(Message{Type: TypeDelta, Payload: `{"action":"insert"}`, User: "mallory", RoomID: "r2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readUntil(t, bob, ofType(TypeDelta))
	if got.User != "alice" || got.RoomID != "r1" || got.Payload != `{"action":"insert"}` {
		t.Fatalf("unexpected relayed message %+v", got)
	}

	// carol is in another room and must not see the delta.
	_ = carol.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg Message
	if err := carol.ReadJSON(&msg); err == nil {
		t.Fatalf("message leaked across rooms: %+v", msg)
	}
}

func TestHubPresenceOnLeave(t *testing.T) {
	_, srv := newTestHub(t)
	alice := dial(t, srv, "alice", "r1")
	bob := dial(t, srv, "bob", "r1")
	readUntil(t, alice, presenceIs("alice", "bob"))

	if err := bob.WriteJSON(Message{Type: TypeStop}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, alice, presenceIs("alice"))
}

func TestHubRunBroadcastsOutputToRoom(t *testing.T) {
	_, srv := newTestHub(t)
	alice := dial(t, srv, "alice", "r1")
	bob := dial(t, srv, "bob", "r1")
	readUntil(t, alice, presenceIs("alice", "bob"))
	readUntil(t, bob, presenceIs("alice", "bob"))

	if err := alice.WriteJSON(Message{Type: TypeRun, Payload: `console.log(1)`}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, conn := range []*websocket.Conn{alice, bob} {
		out := readUntil(t, conn, func(m Message) bool {
			return m.Type == TypeRunOutput && strings.Contains(m.Payload, `"log"`)
		})
		var sm sandbox.Message
		if err := json.Unmarshal([]byte(out.Payload), &sm); err != nil {
			t.Fatalf("decode run output: %v", err)
		}
		if sm.Text() != "ran: console.log(1)" {
			t.Fatalf("unexpected output %q", sm.Text())
		}
		res := readUntil(t, conn, ofType(TypeRunResult))
		var rr RunResult
		if err := json.Unmarshal([]byte(res.Payload), &rr); err != nil {
			t.Fatalf("decode run result: %v", err)
		}
		if rr.Status != sandbox.StatusDone || res.User != "alice" {
			t.Fatalf("unexpected run result %+v from %s", rr, res.User)
		}
	}
}

// blockedRunner holds every Open until release is closed, like a service
// whose sandbox slots are all taken.
type blockedRunner struct {
	release chan struct{}
}

func (r blockedRunner) Open(ctx context.Context, _ string) (*sandbox.Session, error) {
	select {
	case <-r.release:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestHubSlowRunDoesNotStallOtherRooms(t *testing.T) {
	runner := blockedRunner{release: make(chan struct{})}
	hub := NewHub(runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnections))
	t.Cleanup(func() {
		close(runner.release)
		srv.Close()
		cancel()
	})

	alice := dial(t, srv, "alice", "r1")
	readUntil(t, alice, presenceIs("alice"))
	carol := dial(t, srv, "carol", "r2")
	dave := dial(t, srv, "dave", "r2")
	readUntil(t, dave, presenceIs("carol", "dave"))

	if err := alice.WriteJSON(Message{Type: TypeRun, Payload: `console.log(1)`}); err != nil {
		t.Fatalf("write: %v", err)
	}
	start := time.Now()
	if err := carol.WriteJSON(Message{Type: TypeDelta, Payload: `{"action":"insert"}`}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, dave, ofType(TypeDelta))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("delta in another room waited %s on a pending run", elapsed)
	}
}
