package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay(t *testing.T, opts ...Option) (*httptest.Server, *Signer) {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	r := New(NewVerifier(testKey), opts...)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, NewSigner(testKey)
}

func wsURL(server *httptest.Server, room, token string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") +
		"/?room=" + room + "&token=" + token
}

// dial connects and consumes the initial control frame.
func dial(t *testing.T, server *httptest.Server, room, token string) (*websocket.Conn, controlFrame) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server, room, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)

	var cf controlFrame
	require.NoError(t, json.Unmarshal(frame, &cf))
	return ws, cf
}

func readBinary(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	return frame
}

func TestRelayBroadcast(t *testing.T) {
	server, signer := newTestRelay(t)
	token, err := signer.Mint("alice", time.Minute)
	require.NoError(t, err)

	first, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)
	second, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)
	third, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)

	require.NoError(t, first.WriteMessage(websocket.BinaryMessage, []byte("update-1")))
	assert.Equal(t, []byte("update-1"), readBinary(t, second))
	assert.Equal(t, []byte("update-1"), readBinary(t, third))

	// The sender never sees its own frame back; the next frame the
	// first device reads is the second device's update.
	require.NoError(t, second.WriteMessage(websocket.BinaryMessage, []byte("update-2")))
	assert.Equal(t, []byte("update-2"), readBinary(t, first))
	assert.Equal(t, []byte("update-2"), readBinary(t, third))
}

func TestRelayRejectsForeignPrincipal(t *testing.T) {
	server, signer := newTestRelay(t)
	aliceToken, err := signer.Mint("alice", time.Minute)
	require.NoError(t, err)
	bobToken, err := signer.Mint("bob", time.Minute)
	require.NoError(t, err)

	_, cf := dial(t, server, "alice-notes", aliceToken)
	require.Equal(t, "connected", cf.Type)

	// A valid token for the wrong principal does not open the room.
	_, cf = dial(t, server, "alice-notes", bobToken)
	assert.Equal(t, "error", cf.Type)
	assert.Equal(t, CodeUnauthorized, cf.Code)
}

func TestRelayCapacity(t *testing.T) {
	server, signer := newTestRelay(t, WithRoomCapacity(1))
	token, err := signer.Mint("alice", time.Minute)
	require.NoError(t, err)

	_, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)

	_, cf = dial(t, server, "alice-notes", token)
	assert.Equal(t, "error", cf.Type)
	assert.Equal(t, CodeCapacityExceeded, cf.Code)
}

func TestRelaySnapshotCatchUp(t *testing.T) {
	server, signer := newTestRelay(t)
	token, err := signer.Mint("alice", time.Minute)
	require.NoError(t, err)

	first, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)
	require.NoError(t, first.WriteMessage(websocket.BinaryMessage, []byte("old-1")))
	require.NoError(t, first.WriteMessage(websocket.BinaryMessage, []byte("old-2")))

	// Frames settle into the room log before the latecomer joins.
	// Echo suppression means the sender cannot observe delivery, so poll.
	require.Eventually(t, func() bool {
		second, cf := dial(t, server, "alice-notes", token)
		if cf.Type != "connected" {
			return false
		}
		defer second.Close()
		second.SetReadDeadline(time.Now().Add(time.Second))
		_, frame, err := second.ReadMessage()
		return err == nil && string(frame) == "old-1"
	}, 5*time.Second, 50*time.Millisecond)

	second, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)
	assert.Equal(t, []byte("old-1"), readBinary(t, second))
	assert.Equal(t, []byte("old-2"), readBinary(t, second))
}

func TestRelayExpiredToken(t *testing.T) {
	server, _ := newTestRelay(t)
	token, err := NewSigner(testKey).Mint("alice", -time.Minute)
	require.NoError(t, err)

	_, cf := dial(t, server, "alice-notes", token)
	assert.Equal(t, "error", cf.Type)
	assert.Equal(t, CodeTokenExpired, cf.Code)
}

func TestRelayMissingParams(t *testing.T) {
	server, _ := newTestRelay(t)
	ws, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(server.URL, "http")+"/?room=alice-notes", nil)
	require.NoError(t, err)
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)

	var cf controlFrame
	require.NoError(t, json.Unmarshal(frame, &cf))
	assert.Equal(t, "error", cf.Type)
	assert.Equal(t, CodeInvalidRequest, cf.Code)
}

func TestRelayDropsEmptyRoom(t *testing.T) {
	r := New(NewVerifier(testKey), WithLogger(quietLogger()))
	server := httptest.NewServer(r)
	defer server.Close()

	token, err := NewSigner(testKey).Mint("alice", time.Minute)
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server, "alice-notes", token), nil)
	require.NoError(t, err)
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, 1, r.RoomCount())

	ws.Close()
	assert.Eventually(t, func() bool { return r.RoomCount() == 0 },
		5*time.Second, 20*time.Millisecond)
}

// roomConns reports the live connection count of a tracked room.
func roomConns(r *Relay, name string) int {
	r.mu.RLock()
	rm, ok := r.rooms[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.conns)
}

func TestJoinAfterRoomDiscarded(t *testing.T) {
	r := New(NewVerifier(testKey), WithLogger(quietLogger()))

	// A join can resolve a room, then lose the race with the teardown of
	// its last member. The resolved object must refuse the join so the
	// device re-resolves instead of occupying an untracked room.
	rm := r.roomFor("alice-notes", "alice")
	r.dropRoomIfEmpty(rm)
	require.Equal(t, 0, r.RoomCount())

	pending := &conn{relay: r, room: rm, principal: "alice", send: make(chan []byte, 1)}
	_, err := rm.join(pending)
	require.ErrorIs(t, err, errRoomDiscarded)

	// Re-resolving mints a live room; joining it succeeds and is tracked.
	rm2 := r.roomFor("alice-notes", "alice")
	require.NotSame(t, rm, rm2)
	_, err = rm2.join(&conn{relay: r, room: rm2, principal: "alice", send: make(chan []byte, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, r.RoomCount())
	assert.Equal(t, 1, roomConns(r, "alice-notes"))
}

func TestDiscardedRoomNeverSplitsDevices(t *testing.T) {
	r := New(NewVerifier(testKey), WithLogger(quietLogger()))

	rm := r.roomFor("alice-notes", "alice")
	r.dropRoomIfEmpty(rm)

	// Another principal naming the freed room owns the replacement, and
	// the stale object cannot admit anyone alongside it.
	fresh := r.roomFor("alice-notes", "bob")
	require.Equal(t, "bob", fresh.owner)
	_, err := rm.join(&conn{relay: r, room: rm, principal: "alice", send: make(chan []byte, 1)})
	assert.ErrorIs(t, err, errRoomDiscarded)
}

func TestRelayClosesUnresponsiveConnection(t *testing.T) {
	r := New(NewVerifier(testKey),
		WithLogger(quietLogger()),
		WithHeartbeat(200*time.Millisecond))
	server := httptest.NewServer(r)
	defer server.Close()

	token, err := NewSigner(testKey).Mint("alice", time.Minute)
	require.NoError(t, err)

	// A dialer that never reads answers no pings: gorilla only delivers
	// ping frames to the pong handler during reads.
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server, "alice-notes", token), nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, 1, r.RoomCount())

	// The dead connection must be force-closed and its slot freed well
	// inside the liveness window plus teardown slack.
	assert.Eventually(t, func() bool { return r.RoomCount() == 0 },
		5*time.Second, 20*time.Millisecond)
}

func TestRelayDisconnectsSlowConsumer(t *testing.T) {
	r := New(NewVerifier(testKey),
		WithLogger(quietLogger()),
		WithSendBuffer(1))
	server := httptest.NewServer(r)
	defer server.Close()

	token, err := NewSigner(testKey).Mint("alice", time.Minute)
	require.NoError(t, err)

	sender, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)
	healthy, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)
	_, cf = dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type) // stalled: never reads again

	received := make(chan []byte, 4096)
	go func() {
		for {
			_, frame, err := healthy.ReadMessage()
			if err != nil {
				return
			}
			received <- frame
		}
	}()

	// Large frames fill the stalled device's socket and then its bounded
	// queue; the overflow must disconnect it, not stall the room.
	frame := bytes.Repeat([]byte{0xAB}, 64*1024)
	deadline := time.Now().Add(10 * time.Second)
	for roomConns(r, "alice-notes") == 3 && time.Now().Before(deadline) {
		require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, frame))
	}
	require.Equal(t, 2, roomConns(r, "alice-notes"), "stalled device was not disconnected")

	// The healthy sibling keeps receiving after the disconnect.
	require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, []byte("still-here")))
	require.Eventually(t, func() bool {
		select {
		case got := <-received:
			return string(got) == "still-here"
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClientReceivesBroadcast(t *testing.T) {
	server, signer := newTestRelay(t)
	token, err := signer.Mint("alice", time.Minute)
	require.NoError(t, err)

	sender, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []byte, 1)
	client := NewClient(
		"ws"+strings.TrimPrefix(server.URL, "http"),
		"alice-notes", token,
		WithClientLogger(quietLogger()))

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, func(frame []byte) { got <- frame })
	}()

	// Wait for the client to finish joining before broadcasting.
	require.Eventually(t, func() bool {
		return client.Send([]byte{0x01}) == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, []byte("synced")))
	select {
	case frame := <-got:
		assert.Equal(t, []byte("synced"), frame)
	case <-time.After(5 * time.Second):
		t.Fatal("client never received the broadcast")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestClientConcurrentSend(t *testing.T) {
	server, signer := newTestRelay(t)
	token, err := signer.Mint("alice", time.Minute)
	require.NoError(t, err)

	receiver, cf := dial(t, server, "alice-notes", token)
	require.Equal(t, "connected", cf.Type)
	go func() {
		for {
			if _, _, err := receiver.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(
		"ws"+strings.TrimPrefix(server.URL, "http"),
		"alice-notes", token,
		WithClientLogger(quietLogger()))
	go client.Run(ctx, func([]byte) {})

	require.Eventually(t, func() bool {
		return client.Send([]byte{0x01}) == nil
	}, 5*time.Second, 20*time.Millisecond)

	// Many goroutines sending through one client must serialize cleanly
	// on the single websocket writer.
	var wg sync.WaitGroup
	errs := make(chan error, 8*20)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				errs <- client.Send([]byte("frame"))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestClientStopsOnBadToken(t *testing.T) {
	server, _ := newTestRelay(t)

	client := NewClient(
		"ws"+strings.TrimPrefix(server.URL, "http"),
		"alice-notes", "bogus-token",
		WithClientLogger(quietLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := client.Run(ctx, func([]byte) {})
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrUnauthorized)
}
