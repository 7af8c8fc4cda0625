package beatsy

import (
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeConn is a minimal Conn that records writes instead of touching a real
// socket, mirroring the seam the Hub was built around for testability.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	failing bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return websocket.ErrCloseSent
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was not met before timeout")
}

func TestHubBroadcastReachesAllRegisteredClients(t *testing.T) {
	h  := NewHub(nil)
	go h.Run()

	connA, connB := &fakeConn{}, &fakeConn{}
	clientA      := h.Register("a", connA)
	clientB      := h.Register("b", connB)
	clientA.Bind("Alex", false)
	clientB.Bind("Sam", false)

	waitFor(t, time.Second, func() bool { return h.ClientCount() == 2 })

	h.Broadcast(OutboundEvent{Type: EventGameReset, Data: GameResetData{}})

	waitFor(t, time.Second, func() bool { return connA.writeCount() == 1 && connB.writeCount() == 1 })
}

func TestHubBroadcastTargetsSingleClient(t *testing.T) {
	h  := NewHub(nil)
	go h.Run()

	connA, connB := &fakeConn{}, &fakeConn{}
	clientA      := h.Register("a", connA)
	clientB      := h.Register("b", connB)
	clientA.Bind("Alex", false)
	clientB.Bind("Sam", false)

	waitFor(t, time.Second, func() bool { return h.ClientCount() == 2 })

	h.Broadcast(OutboundEvent{Type: EventError, TargetPlayer: "Alex", Data: ErrorData{Code: "x"}})

	waitFor(t, time.Second, func() bool { return connA.writeCount() == 1 })
	if connB.writeCount() != 0 {
		t.Errorf("connB.writeCount() = %d, want 0 (event targeted Alex only)", connB.writeCount())
	}
}

func TestHubUnregisterInvokesOnDisconnect(t *testing.T) {
	var mu sync.Mutex
	var disconnected string

	h := NewHub(func(playerName string) {
		mu.Lock()
		defer mu.Unlock()
		disconnected = playerName
	})
	go h.Run()

	client := h.Register("a", &fakeConn{})
	client.Bind("Alex", false)
	waitFor(t, time.Second, func() bool { return h.ClientCount() == 1 })

	h.Unregister(client)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnected == "Alex"
	})
}

func TestHubQueueOverflowDisconnectsClient(t *testing.T) {
	h  := NewHub(nil)
	go h.Run()

	conn   := &fakeConn{failing: true} // writePump will error on every write and exit
	client := h.Register("a", conn)
	client.Bind("Alex", false)
	waitFor(t, time.Second, func() bool { return h.ClientCount() == 1 })

	for i := 0; i < outboundQueueSize+4; i++ {
		h.Broadcast(OutboundEvent{Type: EventBetPlaced, Data: BetPlacedData{PlayerName: "Alex"}})
	}

	waitFor(t, 2*time.Second, func() bool { return h.ClientCount() == 0 })
}
