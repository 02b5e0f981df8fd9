package relay

import (
	"errors"
	"sync"
)

// errRoomDiscarded reports a join that raced with the room's teardown.
// The caller re-resolves through roomFor, which mints a live replacement.
var errRoomDiscarded = errors.New("room discarded")

// room is one principal's isolated broadcast group. All state is guarded
// by the room's own mutex; no cross-room lock exists, so one tenant's
// load never serializes another's.
type room struct {
	name     string
	owner    string
	capacity int

	mu    sync.Mutex
	conns map[*conn]struct{}
	log   [][]byte
	// dead is set when the room is removed from the relay's map. A join
	// that resolved the room before removal must not land in it, or the
	// device would occupy an object the relay no longer tracks.
	dead bool
}

// join registers a device and returns the update log it must replay to
// catch up. Registration and snapshot capture happen atomically, so a
// frame broadcast during the join is either in the snapshot or queued to
// the new device, never lost and never duplicated.
func (rm *room) join(c *conn) ([][]byte, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.dead {
		return nil, errRoomDiscarded
	}
	if c.principal != rm.owner {
		return nil, ErrUnauthorized
	}
	if len(rm.conns) >= rm.capacity {
		return nil, ErrRoomFull
	}

	snapshot := make([][]byte, len(rm.log))
	copy(snapshot, rm.log)
	rm.conns[c] = struct{}{}
	return snapshot, nil
}

func (rm *room) leave(c *conn) {
	rm.mu.Lock()
	delete(rm.conns, c)
	rm.mu.Unlock()
}

// broadcast appends a frame to the catch-up log and forwards it, raw and
// unmodified, to every device in the room except the sender. A device
// whose outbound queue is full is disconnected so it cannot stall
// delivery to the others.
func (rm *room) broadcast(from *conn, frame []byte) {
	rm.mu.Lock()
	rm.log = append(rm.log, frame)
	var overflowed []*conn
	for c := range rm.conns {
		if c == from {
			continue
		}
		select {
		case c.send <- frame:
		default:
			overflowed = append(overflowed, c)
		}
	}
	rm.mu.Unlock()

	for _, c := range overflowed {
		c.relay.logger.Warn("disconnecting slow consumer",
			"room", rm.name, "principal", c.principal)
		go c.close()
	}
}
