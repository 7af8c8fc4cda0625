// Package transport implements the Connection Layer (C4): WebSocket
// lifecycle, message framing, command dispatch, heartbeat, and rate
// limiting; and the Admin HTTP Surface (C7).
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"github.com/mholzi/beatsy/internal/beatsy"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize: 1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Unauthenticated by design: the player endpoint accepts any
		// same-LAN browser. Game-session authorization happens
		// at the command layer (join_game/reconnect), not at the socket.
		return true
	},
}

// clientMessage is the inbound wire schema: {"type": "<command>", "data": {...}}.
type clientMessage struct {
	Type string `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Server glues the Coordinator and Hub to the HTTP/WebSocket surface.
type Server struct {
	Coord *beatsy.Coordinator
	Hub   *beatsy.Hub
	Admin *AdminAuth

	Logf func(format string, args...any)
}

// NewServer wires a Connection Layer around the given Coordinator and Hub.
func NewServer(coord *beatsy.Coordinator, hub *beatsy.Hub, admin *AdminAuth) *Server {
	return &Server{
		Coord: coord,
		Hub: hub,
		Admin: admin,
		Logf: func(string,...any) {},
	}
}

// ServeWS upgrades the request to a WebSocket and runs the connection's
// read loop until it closes. Registered on the player endpoint with no
// authentication.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logf("WS: upgrade failed: %v", err)
		return
	}

	connID := uuid.NewString()
	client := s.Hub.Register(connID, conn)

	conn.SetReadDeadline(time.Now().Add(beatsy.PingInterval + beatsy.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(beatsy.PingInterval + beatsy.PongTimeout))
		return nil
	})

	done := make(chan struct{})
	go s.heartbeat(conn, done)

	rl := newConnLimiter()

	defer func() {
		close(done)
		s.Hub.Unregister(client)
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // malformed JSON: ignore, connection stays open
		}

		if !rl.Allow(msg.Type) {
			s.sendError(client, beatsy.ErrRateLimited, "rate limit exceeded for "+msg.Type)
			continue
		}

		s.dispatch(client, msg)
	}
}

// heartbeat pings the connection every PingInterval until done is closed or
// a write fails, in which case the socket is abandoned and ReadMessage's
// deadline eventually trips the read loop.
func (s *Server) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(beatsy.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(client *beatsy.Client, msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Type {
	case "join_game":
		s.handleJoin(ctx, client, msg.Data)
	case "reconnect":
		s.handleReconnect(ctx, client, msg.Data)
	case "place_bet":
		s.handlePlaceBet(ctx, client, msg.Data)
	case "submit_guess":
		s.handleSubmitGuess(ctx, client, msg.Data)
	case "start_game":
		s.handleAdminCommand(ctx, client, msg.Data, "start_game")
	case "next_song":
		s.handleAdminCommand(ctx, client, msg.Data, "next_song")
	case "stop_game":
		s.handleAdminCommand(ctx, client, msg.Data, "stop_game")
	default:
		s.sendError(client, beatsy.ErrUnknownCommand, "unrecognized command type: "+msg.Type)
	}
}

type joinData struct {
	Name       string `json:"name"`
	AdminToken string `json:"admin_token"`
}

func (s *Server) handleJoin(ctx context.Context, client *beatsy.Client, raw json.RawMessage) {
	var d joinData
	if err := json.Unmarshal(raw, &d); err != nil {
		s.sendError(client, beatsy.ErrInvalidName, "malformed join_game payload")
		return
	}

	var proof string
	if d.AdminToken != "" {
		if secret, err := s.Admin.ParseAdminToken(d.AdminToken); err == nil {
			proof = secret
		}
	}

	res := s.Coord.Dispatch(ctx, beatsy.JoinGame{Name: d.Name, AdminProof: proof})
	if res.Err != nil {
		s.sendError(client, res.Err.Code, res.Err.Message)
		return
	}

	client.Bind(res.ResolvedName, proof != "")
	s.sendAck(client, map[string]any{"player_name": res.ResolvedName, "session_id": res.SessionID})
}

type reconnectData struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleReconnect(ctx context.Context, client *beatsy.Client, raw json.RawMessage) {
	var d reconnectData
	if err := json.Unmarshal(raw, &d); err != nil {
		s.sendError(client, beatsy.ErrSessionUnknown, "malformed reconnect payload")
		return
	}

	res := s.Coord.Dispatch(ctx, beatsy.Reconnect{SessionID: d.SessionID})
	if res.Err != nil {
		s.sendError(client, res.Err.Code, res.Err.Message)
		return
	}

	client.Bind(res.ResolvedName, client.IsAdmin())
	s.Hub.SendTo(client, beatsy.OutboundEvent{
		Type: beatsy.EventPlayerReconnected,
		Data: beatsy.PlayerReconnectedData{PlayerName: res.ResolvedName, State: res.Snapshot},
	})
	s.sendAck(client, map[string]any{"player_name": res.ResolvedName})
}

type betData struct {
	Bet bool `json:"bet"`
}

func (s *Server) handlePlaceBet(ctx context.Context, client *beatsy.Client, raw json.RawMessage) {
	if client.BoundPlayer() == "" {
		s.sendError(client, beatsy.ErrNoActiveRound, "join before placing a bet")
		return
	}
	var d betData
	_ = json.Unmarshal(raw, &d)

	res := s.Coord.Dispatch(ctx, beatsy.PlaceBet{Name: client.BoundPlayer(), Bet: d.Bet})
	if res.Err != nil {
		s.sendError(client, res.Err.Code, res.Err.Message)
	}
}

type guessData struct {
	Year int `json:"year"`
	Bet  bool `json:"bet"`
}

func (s *Server) handleSubmitGuess(ctx context.Context, client *beatsy.Client, raw json.RawMessage) {
	if client.BoundPlayer() == "" {
		s.sendError(client, beatsy.ErrNoActiveRound, "join before guessing")
		return
	}
	var d guessData
	if err := json.Unmarshal(raw, &d); err != nil {
		s.sendError(client, beatsy.ErrYearOutOfRange, "malformed submit_guess payload")
		return
	}

	res := s.Coord.Dispatch(ctx, beatsy.SubmitGuess{Name: client.BoundPlayer(), Year: d.Year, Bet: d.Bet})
	if res.Err != nil {
		s.sendError(client, res.Err.Code, res.Err.Message)
	}
}

type adminCommandData struct {
	AdminToken string `json:"admin_token"`
	Config     *beatsy.GameConfig `json:"config,omitempty"`
}

func (s *Server) handleAdminCommand(ctx context.Context, client *beatsy.Client, raw json.RawMessage, kind string) {
	var d adminCommandData
	_ = json.Unmarshal(raw, &d)

	isAdmin := client.IsAdmin()
	if !isAdmin && d.AdminToken != "" {
		if _, err := s.Admin.ParseAdminToken(d.AdminToken); err == nil {
			isAdmin = true
		}
	}

	var res beatsy.Result
	switch kind {
	case "start_game":
		res = s.Coord.Dispatch(ctx, beatsy.StartGame{IsAdmin: isAdmin, ConfigOverride: d.Config})
	case "next_song":
		res = s.Coord.Dispatch(ctx, beatsy.NextSong{IsAdmin: isAdmin})
	case "stop_game":
		res = s.Coord.Dispatch(ctx, beatsy.StopGame{IsAdmin: isAdmin})
	}

	if res.Err != nil {
		s.sendError(client, res.Err.Code, res.Err.Message)
	}
}

// sendAck writes a synchronous success reply directly to the originating
// client's mailbox via Hub.SendTo — a point-to-point reply to the command
// that issued it, distinct from the events the Coordinator asks the Hub to
// fan out by player name.
func (s *Server) sendAck(client *beatsy.Client, data any) {
	s.Hub.SendTo(client, beatsy.OutboundEvent{Type: "ack", Data: data})
}

// sendError replies to the connection that triggered it, regardless of
// whether it has bound a player name yet — a pre-bind validation failure
// (e.g. an invalid join_game name) must reach only the offending client,
// never every connection, so this never routes through Broadcast's
// TargetPlayer matching.
func (s *Server) sendError(client *beatsy.Client, code, message string) {
	s.Hub.SendTo(client, beatsy.OutboundEvent{
		Type: beatsy.EventError,
		Data: beatsy.ErrorData{Code: code, Message: message},
	})
}

// connLimiter holds one token bucket per rate-limited command class for a
// single connection.
type connLimiter struct {
	limiters map[string]*rate.Limiter
}

func newConnLimiter() *connLimiter {
	return &connLimiter{
		limiters: map[string]*rate.Limiter{
			"join_game": rate.NewLimiter(rate.Every(5*time.Second), 1),
			"place_bet": rate.NewLimiter(rate.Every(time.Second), 1),
			"submit_guess": rate.NewLimiter(rate.Every(time.Second), 1),
		},
	}
}

func (l *connLimiter) Allow(commandType string) bool {
	lim, ok := l.limiters[commandType]
	if !ok {
		lim = rate.NewLimiter(5, 5) // "all others: 5 per second burst"
		l.limiters[commandType] = lim
	}
	return lim.Allow()
}
