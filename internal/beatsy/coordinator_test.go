package beatsy

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeBroadcaster records every event the Coordinator hands it, standing in
// for the Broadcast Hub in isolation.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []OutboundEvent
}

func (b *fakeBroadcaster) Broadcast(ev OutboundEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *fakeBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n     := 0
	for _, ev := range b.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeBroadcaster, context.CancelFunc) {
	t.Helper()
	catalog := map[string][]Song{
		"mix": {
			{ID: "s1", Title: "One", Artist: "A", Year: 1999},
			{ID: "s2", Title: "Two", Artist: "B", Year: 2005},
		},
	}
	adapter := NewInMemoryAdapter(catalog, []PlaybackTarget{{ID: "living_room"}})
	b       := &fakeBroadcaster{}
	cfg     := testConfig()
	cfg.PlaylistID = "mix"

	c           := NewCoordinator(cfg, adapter, b)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	return c, b, cancel
}

func TestJoinGameAssignsFirstAdminProof(t *testing.T) {
	c, _, cancel := newTestCoordinator(t)
	defer cancel()
	ctx          := context.Background()

	start := c.Dispatch(ctx, StartGame{IsAdmin: true})
	if start.Err != nil {
		t.Fatalf("start_game failed: %v", start.Err)
	}
	secret := start.AdminSecret
	if secret == "" {
		t.Fatal("expected a minted admin secret")
	}

	first := c.Dispatch(ctx, JoinGame{Name: "Alex", AdminProof: secret})
	if first.Err != nil {
		t.Fatalf("join_game failed: %v", first.Err)
	}

	second := c.Dispatch(ctx, JoinGame{Name: "Alex", AdminProof: secret})
	if second.Err != nil {
		t.Fatalf("join_game failed: %v", second.Err)
	}
	if second.ResolvedName != "Alex (2)" {
		t.Errorf("ResolvedName = %q, want %q", second.ResolvedName, "Alex (2)")
	}

	status := c.Dispatch(ctx, GetStatus{})
	if status.Status.PlayerCount != 2 {
		t.Errorf("PlayerCount = %d, want 2", status.Status.PlayerCount)
	}

	if !c.state.Players[0].IsAdmin {
		t.Error("expected the first join presenting the admin proof to be tagged is_admin")
	}
	if c.state.Players[1].IsAdmin {
		t.Error("expected a second join presenting the same proof not to be tagged is_admin")
	}
}

func TestJoinGameRejectsInvalidName(t *testing.T) {
	c, _, cancel := newTestCoordinator(t)
	defer cancel()
	ctx          := context.Background()

	c.Dispatch(ctx, StartGame{IsAdmin: true})

	res := c.Dispatch(ctx, JoinGame{Name: "!!!"})
	if res.Err == nil || res.Err.Code != ErrInvalidName {
		t.Errorf("expected invalid_name error, got %+v", res.Err)
	}
}

func TestNextSongRequiresAdmin(t *testing.T) {
	c, _, cancel := newTestCoordinator(t)
	defer cancel()
	ctx          := context.Background()

	c.Dispatch(ctx, StartGame{IsAdmin: true})

	res := c.Dispatch(ctx, NextSong{IsAdmin: false})
	if res.Err == nil || res.Err.Code != ErrNotAdmin {
		t.Errorf("expected not_admin error, got %+v", res.Err)
	}
}

func TestRoundEndsWhenAllSubmitted(t *testing.T) {
	c, b, cancel := newTestCoordinator(t)
	defer cancel()
	ctx          := context.Background()

	c.Dispatch(ctx, StartGame{IsAdmin: true})
	c.Dispatch(ctx, JoinGame{Name: "Alex"})
	c.Dispatch(ctx, JoinGame{Name: "Sam"})

	next := c.Dispatch(ctx, NextSong{IsAdmin: true})
	if next.Err != nil {
		t.Fatalf("next_song failed: %v", next.Err)
	}

	g1 := c.Dispatch(ctx, SubmitGuess{Name: "Alex", Year: 1999})
	if g1.Err != nil {
		t.Fatalf("submit_guess failed: %v", g1.Err)
	}
	g2 := c.Dispatch(ctx, SubmitGuess{Name: "Sam", Year: 2005})
	if g2.Err != nil {
		t.Fatalf("submit_guess failed: %v", g2.Err)
	}

	// The round should have ended as soon as the second (last eligible)
	// guess landed, without waiting for the deadline timer.
	if b.count(EventRoundEnded) != 1 {
		t.Errorf("round_ended broadcast count = %d, want 1", b.count(EventRoundEnded))
	}

	status := c.Dispatch(ctx, GetStatus{})
	if status.Status.Status != StatusLobby {
		t.Errorf("Status = %q, want %q after round end", status.Status.Status, StatusLobby)
	}
}

func TestSubmitGuessRejectsOutOfRangeYear(t *testing.T) {
	c, _, cancel := newTestCoordinator(t)
	defer cancel()
	ctx          := context.Background()

	c.Dispatch(ctx, StartGame{IsAdmin: true})
	c.Dispatch(ctx, JoinGame{Name: "Alex"})
	c.Dispatch(ctx, NextSong{IsAdmin: true})

	res := c.Dispatch(ctx, SubmitGuess{Name: "Alex", Year: 1800})
	if res.Err == nil || res.Err.Code != ErrYearOutOfRange {
		t.Errorf("expected year_out_of_range, got %+v", res.Err)
	}
}

func TestDeadlineExpiredIsNoOpAfterRoundAlreadyEnded(t *testing.T) {
	c, b, cancel := newTestCoordinator(t)
	defer cancel()
	ctx          := context.Background()

	c.Dispatch(ctx, StartGame{IsAdmin: true})
	c.Dispatch(ctx, JoinGame{Name: "Alex"})
	c.Dispatch(ctx, NextSong{IsAdmin: true})
	c.Dispatch(ctx, SubmitGuess{Name: "Alex", Year: 1999})

	if b.count(EventRoundEnded) != 1 {
		t.Fatalf("expected round to have already ended via all-submitted")
	}

	// Deliver a stale deadline_expired for the round that already ended;
	// it must not produce a second round_ended broadcast.
	res := c.handle(deadlineExpired{roundNumber: 1})
	if len(res.Events) != 0 {
		t.Errorf("expected no events from a stale deadline_expired, got %+v", res.Events)
	}
	if b.count(EventRoundEnded) != 1 {
		t.Errorf("round_ended broadcast count = %d, want still 1", b.count(EventRoundEnded))
	}
}

func TestStopGameEndsActiveRoundAndGame(t *testing.T) {
	c, _, cancel := newTestCoordinator(t)
	defer cancel()
	ctx          := context.Background()

	c.Dispatch(ctx, StartGame{IsAdmin: true})
	c.Dispatch(ctx, JoinGame{Name: "Alex"})
	c.Dispatch(ctx, NextSong{IsAdmin: true})

	res := c.Dispatch(ctx, StopGame{IsAdmin: true})
	if res.Err != nil {
		t.Fatalf("stop_game failed: %v", res.Err)
	}

	status := c.Dispatch(ctx, GetStatus{})
	if status.Status.Status != StatusEnded {
		t.Errorf("Status = %q, want %q", status.Status.Status, StatusEnded)
	}

	joinAfterEnd := c.Dispatch(ctx, JoinGame{Name: "Late"})
	if joinAfterEnd.Err == nil || joinAfterEnd.Err.Code != ErrGameEnded {
		t.Errorf("expected game_ended error joining after stop_game, got %+v", joinAfterEnd.Err)
	}
}

func TestStopGameRestoresPreGameSnapshot(t *testing.T) {
	c, _, cancel := newTestCoordinator(t)
	defer cancel()
	ctx := context.Background()

	c.Dispatch(ctx, StartGame{IsAdmin: true})
	c.Dispatch(ctx, JoinGame{Name: "Alex"})
	c.Dispatch(ctx, NextSong{IsAdmin: true})

	adapter := c.adapter.(*InMemoryAdapter)
	if _, playing := adapter.playing["living_room"]; !playing {
		t.Fatalf("expected next_song to have started playback on the target")
	}

	res := c.Dispatch(ctx, StopGame{IsAdmin: true})
	if res.Err != nil {
		t.Fatalf("stop_game failed: %v", res.Err)
	}

	if _, stillPlaying := adapter.playing["living_room"]; stillPlaying {
		t.Error("expected stop_game to restore the target to its pre-game idle snapshot")
	}
}

func TestReconnectBindsExistingSession(t *testing.T) {
	c, _, cancel := newTestCoordinator(t)
	defer cancel()
	ctx          := context.Background()

	c.Dispatch(ctx, StartGame{IsAdmin: true})
	joined := c.Dispatch(ctx, JoinGame{Name: "Alex"})

	reconnect := c.Dispatch(ctx, Reconnect{SessionID: joined.SessionID})
	if reconnect.Err != nil {
		t.Fatalf("reconnect failed: %v", reconnect.Err)
	}
	if reconnect.ResolvedName != "Alex" {
		t.Errorf("ResolvedName = %q, want Alex", reconnect.ResolvedName)
	}

	unknown := c.Dispatch(ctx, Reconnect{SessionID: "does-not-exist"})
	if unknown.Err == nil || unknown.Err.Code != ErrSessionUnknown {
		t.Errorf("expected session_unknown, got %+v", unknown.Err)
	}
}

func TestDispatchReturnsErrorWhenNoRunLoopIsConsuming(t *testing.T) {
	// Built directly, with Run never started: cmdCh has no receiver, so
	// Dispatch can only ever resolve via ctx cancellation.
	adapter := NewInMemoryAdapter(map[string][]Song{}, nil)
	c       := NewCoordinator(testConfig(), adapter, &fakeBroadcaster{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := c.Dispatch(ctx, GetStatus{})
	if res.Err == nil {
		t.Error("expected Dispatch to report an error when nothing consumes the command channel")
	}
}
