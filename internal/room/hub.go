// Package room implements pair-programming rooms: members share editor deltas
// over a websocket and can run the room's code together.
package room

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/namnv2496/bytescript/internal/sandbox"
)

// Message is the envelope for all room messages.
//
// Type values:
//   - "delta"        an editor delta (payload = JSON-encoded delta object)
//   - "full_sync"    full document content sent to a new joiner
//   - "request_sync" sent by a new joiner to ask existing members for full_sync
//   - "stop"         member is disconnecting
//   - "presence"     server to members, payload = JSON array of usernames
//   - "run"          run the payload as code for the whole room
//   - "run_stop"     stop the room's current run
//   - "run_output"   server to members, payload = JSON sandbox message
//   - "run_result"   server to members, payload = JSON {status, error}
type Message struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
	User    string `json:"user"`
	RoomID  string `json:"roomId"`
}

const (
	TypeDelta       = "delta"
	TypeFullSync    = "full_sync"
	TypeRequestSync = "request_sync"
	TypeStop        = "stop"
	TypePresence    = "presence"
	TypeRun         = "run"
	TypeRunStop     = "run_stop"
	TypeRunOutput   = "run_output"
	TypeRunResult   = "run_result"
)

// RunResult is the payload of a run_result message.
type RunResult struct {
	Status sandbox.Status `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// Runner starts a streamed sandbox session.
type Runner interface {
	Open(ctx context.Context, code string) (*sandbox.Session, error)
}

type client struct {
	conn     *websocket.Conn
	username string
	roomID   string
	writeMu  sync.Mutex
}

func (c *client) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub routes messages between the members of each room.
type Hub struct {
	runner   Runner
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
	runs    map[string]*sandbox.Session
	// runGen counts run and run_stop requests per room; an opening run that
	// is no longer the latest is stopped as soon as it starts.
	runGen map[string]uint64

	broadcast chan Message
}

func NewHub(runner Runner, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		runner: runner,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]*client),
		runs:      make(map[string]*sandbox.Session),
		runGen:    make(map[string]uint64),
		broadcast: make(chan Message, 256),
	}
}

// HandleConnections upgrades a `?username=&room=` request and reads the
// member's messages until it disconnects.
func (h *Hub) HandleConnections(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	roomID := r.URL.Query().Get("room")
	if username == "" || roomID == "" {
		http.Error(w, "username and room are required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	log := h.logger.With(zap.String("user", username), zap.String("room", roomID))
	log.Info("member connected")
	h.mu.Lock()
	h.clients[ws] = &client{conn: ws, username: username, roomID: roomID}
	h.mu.Unlock()
	h.announcePresence(roomID)

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			log.Info("member disconnected", zap.Error(err))
			h.remove(ws)
			return
		}
		// The query params identify the member; client supplied fields are ignored.
		msg.User = username
		msg.RoomID = roomID
		h.broadcast <- msg
	}
}

// Run dispatches messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopRuns()
			return
		case msg := <-h.broadcast:
			h.dispatch(ctx, msg)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, msg Message) {
	switch msg.Type {
	case TypeStop:
		h.mu.Lock()
		for conn, info := range h.clients {
			if info.username == msg.User && info.roomID == msg.RoomID {
				h.logger.Info("disconnecting member", zap.String("user", msg.User), zap.String("room", msg.RoomID))
				conn.Close()
				delete(h.clients, conn)
				break
			}
		}
		h.mu.Unlock()
		h.announcePresence(msg.RoomID)
	case TypeRun:
		h.startRun(ctx, msg)
	case TypeRunStop:
		h.mu.Lock()
		h.runGen[msg.RoomID]++
		sess := h.runs[msg.RoomID]
		h.mu.Unlock()
		if sess != nil {
			sess.Stop()
		}
	case TypePresence, TypeRunOutput, TypeRunResult:
		// Server-originated types are not accepted from members.
	default:
		h.relay(msg, msg.User)
	}
}

// relay sends msg to everyone in its room except the member named skip.
func (h *Hub) relay(msg Message, skip string) {
	// Snapshot the room, then write outside the lock so a slow write does not
	// block other goroutines.
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, info := range h.clients {
		if info.roomID == msg.RoomID && info.username != skip {
			targets = append(targets, info)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(msg); err != nil {
			h.logger.Warn("write failed", zap.String("user", c.username), zap.Error(err))
			h.remove(c.conn)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	info, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	if ok {
		conn.Close()
		h.announcePresence(info.roomID)
	}
}

// Members returns the usernames connected to roomID, sorted.
func (h *Hub) Members(roomID string) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	h.mu.RLock()
	for _, info := range h.clients {
		if info.roomID == roomID {
			set.Add(info.username)
		}
	}
	h.mu.RUnlock()
	members := set.ToSlice()
	sort.Strings(members)
	return members
}

func (h *Hub) announcePresence(roomID string) {
	payload, _ := json.Marshal(h.Members(roomID))
	h.relay(Message{Type: TypePresence, Payload: string(payload), RoomID: roomID}, "")
}

// startRun runs msg.Payload for the room. A room has at most one run; a new
// run stops the previous one. Opening a sandbox can wait for a free slot, so it
// happens off the dispatch goroutine.
func (h *Hub) startRun(ctx context.Context, msg Message) {
	if h.runner == nil {
		return
	}
	h.mu.Lock()
	h.runGen[msg.RoomID]++
	gen := h.runGen[msg.RoomID]
	prev := h.runs[msg.RoomID]
	h.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	go h.openRun(ctx, msg, gen)
}

func (h *Hub) openRun(ctx context.Context, msg Message, gen uint64) {
	sess, err := h.runner.Open(ctx, msg.Payload)
	if err != nil {
		h.logger.Error("room run failed to start", zap.String("room", msg.RoomID), zap.Error(err))
		result, _ := json.Marshal(RunResult{Status: sandbox.StatusError, Error: err.Error()})
		h.relay(Message{Type: TypeRunResult, Payload: string(result), User: msg.User, RoomID: msg.RoomID}, "")
		return
	}

	h.mu.Lock()
	latest := h.runGen[msg.RoomID] == gen
	var prev *sandbox.Session
	if latest {
		prev = h.runs[msg.RoomID]
		h.runs[msg.RoomID] = sess
	}
	h.mu.Unlock()

	if !latest {
		sess.Stop()
		go func() {
			for range sess.Messages() {
			}
		}()
		return
	}
	if prev != nil {
		prev.Stop()
	}
	h.stream(sess, msg)
}

func (h *Hub) stream(sess *sandbox.Session, msg Message) {
	for m := range sess.Messages() {
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		h.relay(Message{Type: TypeRunOutput, Payload: string(data), User: msg.User, RoomID: msg.RoomID}, "")
	}
	term := sess.Wait()

	h.mu.Lock()
	if h.runs[msg.RoomID] == sess {
		delete(h.runs, msg.RoomID)
	}
	h.mu.Unlock()

	result, _ := json.Marshal(RunResult{Status: term.Status, Error: term.Error})
	h.relay(Message{Type: TypeRunResult, Payload: string(result), User: msg.User, RoomID: msg.RoomID}, "")
}

func (h *Hub) stopRuns() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sess := range h.runs {
		sess.Stop()
	}
}
