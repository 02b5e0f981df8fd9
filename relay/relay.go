// Package relay is the session-oriented sync hub: it authenticates a
// connecting device, assigns it to its owner's room, and forwards opaque
// binary update frames between all devices in that room. The relay never
// inspects, decrypts, or transforms frame contents; it is an
// authenticated pipe plus a join-time catch-up log.
package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultRoomCapacity is the per-room device ceiling.
	DefaultRoomCapacity = 16
	// DefaultSendBuffer is the per-connection outbound queue length.
	DefaultSendBuffer = 256

	defaultPongWait  = 60 * time.Second
	defaultWriteWait = 10 * time.Second
)

// controlFrame is the JSON lifecycle channel. Payload frames are always
// binary; control frames are always text. Clients never see payload data
// on this channel.
type controlFrame struct {
	Type    string `json:"type"` // "connected" or "error"
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Relay multiplexes authenticated per-principal rooms over websocket
// connections.
type Relay struct {
	verifier     *Verifier
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	roomCapacity int
	sendBuffer   int
	pongWait     time.Duration
	writeWait    time.Duration

	// mu guards only the room map. Each room carries its own lock so
	// tenants never contend on each other's traffic.
	mu    sync.RWMutex
	rooms map[string]*room
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRoomCapacity sets the per-room device ceiling.
func WithRoomCapacity(n int) Option {
	return func(r *Relay) {
		r.roomCapacity = n
	}
}

// WithSendBuffer sets the per-connection outbound queue length. A
// connection whose queue overflows is disconnected rather than allowed to
// stall delivery to its siblings.
func WithSendBuffer(n int) Option {
	return func(r *Relay) {
		r.sendBuffer = n
	}
}

// WithHeartbeat sets the liveness window. A connection that does not
// answer a ping within pongWait is treated as dead and force-closed.
func WithHeartbeat(pongWait time.Duration) Option {
	return func(r *Relay) {
		r.pongWait = pongWait
	}
}

// New creates a Relay that validates connection credentials with verifier.
func New(verifier *Verifier, opts ...Option) *Relay {
	r := &Relay{
		verifier:     verifier,
		roomCapacity: DefaultRoomCapacity,
		sendBuffer:   DefaultSendBuffer,
		pongWait:     defaultPongWait,
		writeWait:    defaultWriteWait,
		rooms:        make(map[string]*room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Payloads are ciphertext; origin checks belong to the outer
			// HTTP layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	r.logger = r.logger.With("component", "relay")
	return r
}

// ServeHTTP upgrades GET /sync?room=R&token=T. Authentication happens
// after the upgrade so failures reach the client as an explicit error
// control frame rather than an opaque handshake rejection.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	roomName := req.URL.Query().Get("room")
	token := req.URL.Query().Get("token")

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	if roomName == "" || token == "" {
		r.reject(ws, CodeInvalidRequest, "room and token are required")
		return
	}

	claims, err := r.verifier.Verify(token)
	if err != nil {
		code := CodeUnauthorized
		if err == ErrTokenExpired {
			code = CodeTokenExpired
		}
		r.logger.Info("rejected connection", "room", roomName, "code", code)
		r.reject(ws, code, err.Error())
		return
	}

	var (
		c        *conn
		snapshot [][]byte
	)
	for {
		rm := r.roomFor(roomName, claims.Principal)
		c = newConn(r, rm, ws, claims.Principal)
		snapshot, err = rm.join(c)
		if err == nil {
			break
		}
		// A room torn down between resolve and join is re-resolved; the
		// next roomFor mints a live replacement.
		if errors.Is(err, errRoomDiscarded) {
			continue
		}
		code := CodeUnauthorized
		if err == ErrRoomFull {
			code = CodeCapacityExceeded
		}
		r.logger.Info("join refused",
			"room", roomName, "principal", claims.Principal, "code", code)
		r.reject(ws, code, err.Error())
		return
	}

	r.logger.Info("device joined", "room", roomName, "principal", claims.Principal)
	c.run(snapshot)
}

// RoomCount reports the number of live rooms.
func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Relay) roomFor(name, principal string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[name]
	if !ok {
		// Rooms are created lazily; the first authenticated principal to
		// name a room owns it, and ownership is checked on every
		// subsequent join. The room name alone never grants access.
		rm = &room{
			name:     name,
			owner:    principal,
			capacity: r.roomCapacity,
			conns:    make(map[*conn]struct{}),
		}
		r.rooms[name] = rm
	}
	return rm
}

// dropRoomIfEmpty discards a room and its in-memory update log once the
// last device leaves. The log is a catch-up cache, not authoritative
// storage; durable persistence is an external collaborator's concern.
func (r *Relay) dropRoomIfEmpty(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm.mu.Lock()
	empty := len(rm.conns) == 0
	if empty {
		// Marked under rm.mu so an in-flight join that already resolved
		// this room sees the removal and re-resolves instead of landing
		// in an object the relay no longer tracks.
		rm.dead = true
	}
	rm.mu.Unlock()
	if empty && r.rooms[rm.name] == rm {
		delete(r.rooms, rm.name)
		r.logger.Info("room discarded", "room", rm.name)
	}
}

func (r *Relay) reject(ws *websocket.Conn, code, message string) {
	ws.SetWriteDeadline(time.Now().Add(r.writeWait))
	ws.WriteJSON(controlFrame{Type: "error", Code: code, Message: message})
	ws.Close()
}
