package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one device's registered connection.
type conn struct {
	relay     *Relay
	room      *room
	ws        *websocket.Conn
	principal string
	send      chan []byte
	closeOnce sync.Once
}

func newConn(r *Relay, rm *room, ws *websocket.Conn, principal string) *conn {
	return &conn{
		relay:     r,
		room:      rm,
		ws:        ws,
		principal: principal,
		send:      make(chan []byte, r.sendBuffer),
	}
}

// run drives the connection until it dies: the write pump delivers the
// catch-up snapshot and then queued frames with periodic pings; the read
// pump (this goroutine) forwards inbound binary frames to the room.
func (c *conn) run(snapshot [][]byte) {
	go c.writePump(snapshot)
	c.readPump()
}

func (c *conn) readPump() {
	defer c.close()

	c.ws.SetReadDeadline(time.Now().Add(c.relay.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.relay.pongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		// Only binary frames are payload; anything else on the inbound
		// path is ignored rather than interpreted.
		if msgType != websocket.BinaryMessage || len(frame) == 0 {
			continue
		}
		c.room.broadcast(c, frame)
	}
}

func (c *conn) writePump(snapshot [][]byte) {
	pingPeriod := c.relay.pongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	if err := c.writeJSON(controlFrame{Type: "connected"}); err != nil {
		return
	}
	// Replay the room's update log so a reconnecting device catches up
	// without replaying history from its peers.
	for _, frame := range snapshot {
		if err := c.writeBinary(frame); err != nil {
			return
		}
	}

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.writeBinary(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.relay.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) writeBinary(frame []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.relay.writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *conn) writeJSON(frame controlFrame) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.relay.writeWait))
	return c.ws.WriteJSON(frame)
}

// close tears the connection down exactly once: membership is released
// promptly so a dead device never leaks a half-open room slot.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.room.leave(c)
		c.ws.Close()
		c.relay.dropRoomIfEmpty(c.room)
		c.relay.logger.Info("device left",
			"room", c.room.name, "principal", c.principal)
	})
}
