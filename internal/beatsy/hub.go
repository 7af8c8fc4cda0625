package beatsy

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// outboundQueueSize bounds each connection's per-client mailbox; a
	// client that can't keep up is disconnected rather than slowing the
	// Hub down for everyone else.
	outboundQueueSize = 64

	// PingInterval and PongTimeout govern the Connection Layer's heartbeat;
	// exported so the transport package (which owns the raw socket) can
	// apply the same tunables.
	PingInterval = 25 * time.Second
	PongTimeout  = 20 * time.Second
)

// wireEvent is the server -> client envelope: {type: "beatsy/event",
// event_type, data, timestamp}.
type wireEvent struct {
	Type      string `json:"type"`
	EventType string `json:"event_type"`
	Data      any `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is the subset of *websocket.Conn the Hub needs, so tests can swap in
// a fake without opening a real socket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one registered connection. The Hub owns the Connection set
// exclusively; the Coordinator never sees a *Client, only player
// names in its own Players slice.
type Client struct {
	id         string
	conn       Conn
	send       chan []byte
	playerName string      // bound after a successful join_game/reconnect; "" until then
	isAdmin    bool

	closeOnce sync.Once
	closed    chan struct{}
}

// BoundPlayer returns the player name this connection has bound, or "".
func (c *Client) BoundPlayer() string { return c.playerName }

// Bind records which player this connection now represents.
func (c *Client) Bind(name string, admin bool) {
	c.playerName = name
	c.isAdmin = admin
}

// IsAdmin reports whether this connection was bound with admin rights, i.e.
// presented a valid admin token on join_game. It can be true for a player
// the Coordinator did not tag is_admin.
func (c *Client) IsAdmin() bool { return c.isAdmin }

// Hub maintains the registry of live connections and fans out broadcast
// events with per-client isolation. Registration/unregistration is
// itself serialized through a dedicated goroutine (Run) fed by
// register/unregister channels.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan wireEvent

	mu sync.RWMutex // guards reads of clients from outside Run (e.g. len for logging)

	onDisconnect func(playerName string)
}

// NewHub builds an empty Hub. onDisconnect, if non-nil, is invoked
// (outside any lock, from the Hub's own Run goroutine) whenever a bound
// client's connection is torn down, so the Coordinator can be told via
// SetConnected without the Hub ever calling back into it under a lock.
func NewHub(onDisconnect func(playerName string)) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		register: make(chan *Client),
		unregister: make(chan *Client),
		broadcast: make(chan wireEvent, 256),
		onDisconnect: onDisconnect,
	}
}

// Run is the Hub's registry loop. It must run in its own goroutine for the
// lifetime of the process.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

			if c.playerName != "" && h.onDisconnect != nil {
				h.onDisconnect(c.playerName)
			}

		case ev := <-h.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Queue overflow: disconnect the offending client
					// instead of backpressuring the Hub.
					delete(h.clients, c)
					close(c.send)
					go c.conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast serializes ev once and enqueues it to every matching client's
// mailbox. If ev.TargetPlayer is set, only that player's connection(s)
// receive it.
func (h *Hub) Broadcast(ev OutboundEvent) {
	we := wireEvent{
		Type: "beatsy/event",
		EventType: ev.Type,
		Data: ev.Data,
		Timestamp: time.Now().UTC(),
	}

	if ev.TargetPlayer == "" {
		h.broadcast <- we
		return
	}

	payload, err := json.Marshal(we)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.playerName != ev.TargetPlayer {
			continue
		}
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
			go c.conn.Close()
		}
	}
}

// SendTo enqueues ev directly to one client's mailbox, bypassing player-name
// matching entirely. Used for point-to-point acks/errors addressed to a
// connection the transport layer already holds a reference to — including
// before it has bound a player name, when Broadcast's TargetPlayer matching
// has nothing to match against.
func (h *Hub) SendTo(c *Client, ev OutboundEvent) {
	we := wireEvent{
		Type: "beatsy/event",
		EventType: ev.Type,
		Data: ev.Data,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(we)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		delete(h.clients, c)
		close(c.send)
		go c.conn.Close()
	}
}

// Register admits a new connection into the Hub's registry and starts its
// dedicated writer goroutine.
func (h *Hub) Register(id string, conn Conn) *Client {
	c := &Client{
		id: id,
		conn: conn,
		send: make(chan []byte, outboundQueueSize),
		closed: make(chan struct{}),
	}
	h.register <- c
	go c.writePump()
	return c
}

// Unregister tears the connection down: stops its writer (by closing send,
// which writePump ranges over) and notifies the Hub's registry loop.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

func (c *Client) writePump() {
	defer func() {
		c.closeOnce.Do(func() { close(c.closed) })
		_ = c.conn.Close()
	}()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Closed reports whether this client's writer has exited.
func (c *Client) Closed() <-chan struct{} { return c.closed }

// ClientCount reports the number of currently registered connections
// (used for operational logging, not for game logic — the Coordinator
// derives "eligible players" from Players, never from the Connection set).
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
