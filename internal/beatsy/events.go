package beatsy

import "time"

// Event type names for the server -> client event catalog.
const (
	EventPlayerJoined      = "player_joined"
	EventPlayerReconnected = "player_reconnected"
	EventBetPlaced         = "bet_placed"
	EventGuessSubmitted    = "guess_submitted"
	EventRoundStarted      = "round_started"
	EventRoundEnded        = "round_ended"
	EventGameReset         = "game_reset"
	EventError             = "error"
)

// OutboundEvent pairs an event type with its payload and, optionally, the
// bound player name of the one client it's meant for. An empty TargetPlayer
// means broadcast to everyone.
type OutboundEvent struct {
	Type         string
	Data         any
	TargetPlayer string
}

// PlayerJoinedData is the player_joined payload.
type PlayerJoinedData struct {
	PlayerName   string `json:"player_name"`
	TotalPlayers int `json:"total_players"`
}

// StateSnapshot is handed to a reconnecting client so it can repaint without
// having missed any broadcasts (Broadcast Hub is at-most-once; reconnect is
// the catch-up path).
type StateSnapshot struct {
	Status      GameStatus `json:"status"`
	Round       *RoundSnapshot `json:"round,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	TotalPoints int `json:"total_points"`
}

// RoundSnapshot is the subset of round state safe to hand a reconnecting
// client: never discloses the correct year while the round is active.
type RoundSnapshot struct {
	Number        int `json:"number"`
	TimerDuration float64 `json:"timer_duration"`
	StartedAt     time.Time `json:"started_at"`
	HasGuessed    bool `json:"has_guessed"`
}

// PlayerReconnectedData is the player_reconnected payload.
type PlayerReconnectedData struct {
	PlayerName string `json:"player_name"`
	State      StateSnapshot `json:"state_snapshot"`
}

// BetPlacedData is the bet_placed payload.
type BetPlacedData struct {
	PlayerName string `json:"player_name"`
}

// GuessSubmittedData is the guess_submitted payload. The guessed year is
// deliberately not disclosed to other clients.
type GuessSubmittedData struct {
	PlayerName string `json:"player_name"`
}

// RoundStartedSongData is the round_started song payload; year is
// deliberately omitted.
type RoundStartedSongData struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverRef string `json:"cover_reference"`
}

// RoundStartedData is the round_started payload.
type RoundStartedData struct {
	RoundNumber   int `json:"round_number"`
	Song          RoundStartedSongData `json:"song"`
	TimerDuration float64 `json:"timer_duration"`
	StartedAt     time.Time `json:"started_at"`
}

// RoundEndedData is the round_ended payload.
type RoundEndedData struct {
	CorrectYear int `json:"correct_year"`
	Results     []PlayerResult `json:"results"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// GameResetData is the game_reset payload (empty).
type GameResetData struct{}

// ErrorData is the error event payload.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
