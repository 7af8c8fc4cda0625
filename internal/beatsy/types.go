// Package beatsy implements the music year-guessing game engine: the Game
// Coordinator, Broadcast Hub, Round Engine, and Playback Adapter interface.
package beatsy

import (
	"errors"
	"fmt"
	"time"
)

// Error codes surfaced to clients in `error` events, per the event catalog.
const (
	ErrInvalidName        = "invalid_name"
	ErrDuplicateResolved  = "duplicate_name_resolved"
	ErrSessionUnknown     = "session_unknown"
	ErrNoActiveRound      = "no_active_round"
	ErrRoundAlreadyActive = "round_already_active"
	ErrAlreadySubmitted   = "already_submitted"
	ErrLateSubmission     = "late_submission"
	ErrYearOutOfRange     = "year_out_of_range"
	ErrNotAdmin           = "not_admin"
	ErrInvalidConfig      = "invalid_config"
	ErrPlaylistEmpty      = "playlist_empty"
	ErrPoolExhausted      = "pool_exhausted"
	ErrPlaybackFailed     = "playback_failed"
	ErrUnknownCommand     = "unknown_command"
	ErrRateLimited        = "rate_limited"
	ErrQueueOverflow      = "queue_overflow"
	ErrGameEnded          = "game_ended"
)

// GameConfig holds the tunables for one game. Fields are validated on write
// and never mutated mid-round.
type GameConfig struct {
	TimerDuration  time.Duration `json:"timer_duration" mapstructure:"timer_duration"`
	YearRangeMin   int           `json:"year_range_min" mapstructure:"year_range_min"`
	YearRangeMax   int           `json:"year_range_max" mapstructure:"year_range_max"`
	ExactPoints    int           `json:"exact_points" mapstructure:"exact_points"`
	ClosePoints    int           `json:"close_points" mapstructure:"close_points"`
	NearPoints     int           `json:"near_points" mapstructure:"near_points"`
	BetMultiplier  int           `json:"bet_multiplier" mapstructure:"bet_multiplier"`
	PlaybackTarget string        `json:"playback_target" mapstructure:"playback_target"`
	PlaylistID     string        `json:"playlist_id" mapstructure:"playlist_id"`
}

// Validate enforces the invariants from the data model: timer bounds, a
// sane year range, and non-negative point values.
func (c GameConfig) Validate() error {
	if c.TimerDuration < 10*time.Second || c.TimerDuration > 120*time.Second {
		return fmt.Errorf("timer_duration must be between 10s and 120s, got %s", c.TimerDuration)
	}
	if c.YearRangeMin >= c.YearRangeMax {
		return fmt.Errorf("year_range_min (%d) must be less than year_range_max (%d)", c.YearRangeMin, c.YearRangeMax)
	}
	if c.ExactPoints < 0 || c.ClosePoints < 0 || c.NearPoints < 0 {
		return errors.New("point values must be non-negative")
	}
	if c.BetMultiplier < 1 {
		return errors.New("bet_multiplier must be at least 1")
	}
	return nil
}

// Player is a participant in the game. Name is unique within the game;
// duplicates are resolved with a " (N)" suffix on insert.
type Player struct {
	Name        string `json:"name"`
	SessionID   string `json:"-"`
	TotalPoints int    `json:"total_points"`
	IsAdmin     bool   `json:"is_admin"`
	Connected   bool   `json:"connected"`
}

// Song is an immutable catalog entry. Year is required; entries missing one
// are filtered out before they ever reach the available pool.
type Song struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Year     int    `json:"year"`
	CoverRef string `json:"cover_reference"`
}

// Guess is one player's submission against the active round.
type Guess struct {
	PlayerName  string    `json:"player_name"`
	Year        int       `json:"year"`
	BetPlaced   bool      `json:"bet_placed"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RoundStatus is the lifecycle of a single round.
type RoundStatus string

const (
	RoundActive RoundStatus = "active"
	RoundEnded  RoundStatus = "ended"
)

// Round is one song cycle: selection, guessing window, scoring.
// Once Status is RoundEnded the round is immutable.
type Round struct {
	Number    int
	SongID    string
	StartedAt time.Time
	Deadline  time.Time
	Status    RoundStatus
	Guesses   map[string]Guess // player name -> guess
}

// GameStatus tracks the top-level game lifecycle.
type GameStatus string

const (
	StatusSetup  GameStatus = "setup"
	StatusLobby  GameStatus = "lobby"
	StatusActive GameStatus = "active"
	StatusEnded  GameStatus = "ended"
)

// PlayerResult is one entry in a round_ended payload.
type PlayerResult struct {
	Name         string `json:"name"`
	Guess        int    `json:"guess"`
	PointsEarned int    `json:"points_earned"`
	BetPlaced    bool   `json:"bet_placed"`
}

// LeaderboardEntry is a ranked player in the leaderboard.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	Name        string `json:"name"`
	TotalPoints int    `json:"total_points"`
}

// scoreGuess applies the proximity-tier formula from the data model:
// exact/close/near/miss, with the bet multiplier only kicking in on a
// positive base score.
func scoreGuess(cfg GameConfig, correctYear int, g Guess) int {
	delta := correctYear - g.Year
	if delta < 0 {
		delta = -delta
	}

	var base int
	switch {
	case delta == 0:
		base = cfg.ExactPoints
	case delta <= 2:
		base = cfg.ClosePoints
	case delta <= 5:
		base = cfg.NearPoints
	default:
		base = 0
	}

	if base > 0 && g.BetPlaced {
		return base * cfg.BetMultiplier
	}
	return base
}
