package transport

import "testing"

func TestConnLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := newConnLimiter()

	if !rl.Allow("join_game") {
		t.Fatal("expected first join_game to be allowed")
	}
	if rl.Allow("join_game") {
		t.Error("expected a second immediate join_game to be rate limited")
	}
}

func TestConnLimiterTracksClassesIndependently(t *testing.T) {
	rl := newConnLimiter()

	if !rl.Allow("place_bet") {
		t.Fatal("expected first place_bet to be allowed")
	}
	if !rl.Allow("join_game") {
		t.Error("expected join_game to have its own independent bucket")
	}
}

func TestConnLimiterDefaultsUnknownCommandsToBurstBucket(t *testing.T) {
	rl := newConnLimiter()

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("reconnect") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed = %d, want 5 (burst of 5 for the generic bucket)", allowed)
	}
}
