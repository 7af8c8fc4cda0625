package beatsy

import (
	"context"
	"crypto/rand"
	"math/big"
	"sort"
	"time"
)

// Engine owns everything that happens between next_song and round_ended:
// song selection, playlist loading, the round deadline (set by newRound),
// guess collection, and scoring. The timer that fires at the deadline is
// armed by the Coordinator. It holds no lock of its own — callers invoke it
// from inside the Coordinator's serialization boundary.
type Engine struct {
	adapter PlaybackAdapter

	available map[string]Song // id -> song, remaining pool
	played    map[string]Song // id -> song, already used
}

// NewEngine builds a Round Engine bound to the given Playback Adapter. The
// pool starts empty; LoadPlaylist populates it on start_game.
func NewEngine(adapter PlaybackAdapter) *Engine {
	return &Engine{
		adapter: adapter,
		available: make(map[string]Song),
		played: make(map[string]Song),
	}
}

// LoadPlaylist asks the Playback Adapter for the configured playlist,
// resets available/played, and reports the skipped-for-missing-year count.
func (e *Engine) LoadPlaylist(ctx context.Context, playlistID string) (skipped int, err error) {
	songs, skipped, err := e.adapter.LoadPlaylist(ctx, playlistID)
	if err != nil {
		return 0, err
	}

	e.available = make(map[string]Song, len(songs))
	e.played = make(map[string]Song)
	for _, s := range songs {
		if s.Year == 0 {
			continue
		}
		e.available[s.ID] = s
	}
	return skipped, nil
}

// PoolSize reports how many songs remain in the available set.
func (e *Engine) PoolSize() int {
	return len(e.available)
}

// ErrPoolEmpty distinguishes "nothing left to draw" from a real adapter
// error in SelectSong.
type ErrPoolEmpty struct{}

func (ErrPoolEmpty) Error() string { return "beatsy: song pool exhausted" }

// SelectSong performs a uniform random draw without replacement, moving the
// chosen song from available to played atomically with the draw.
func (e *Engine) SelectSong() (Song, error) {
	if len(e.available) == 0 {
		return Song{}, ErrPoolEmpty{}
	}

	ids := make([]string, 0, len(e.available))
	for id := range e.available {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic ordering before the random draw

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(ids))))
	if err != nil {
		return Song{}, err
	}
	id := ids[n.Int64()]

	song := e.available[id]
	delete(e.available, id)
	e.played[id] = song
	return song, nil
}

// Excluding removes a song from consideration entirely (used by the retry
// policy: a playback failure retries with a different song rather than the
// same one).
func (e *Engine) Excluding(id string) {
	if s, ok := e.available[id]; ok {
		delete(e.available, id)
		e.played[id] = s
	}
}

// newRound arms a fresh active round for songID starting now.
func newRound(number int, songID string, timerDuration time.Duration) *Round {
	now := time.Now()
	return &Round{
		Number: number,
		SongID: songID,
		StartedAt: now,
		Deadline: now.Add(timerDuration),
		Status: RoundActive,
		Guesses: make(map[string]Guess),
	}
}

// AcceptGuess validates and records a guess against the round, per the
// submit_guess preconditions: active round, before deadline, no prior guess.
func AcceptGuess(r *Round, name string, year int, bet bool, now time.Time) (Guess, string, bool) {
	if r == nil || r.Status != RoundActive {
		return Guess{}, ErrNoActiveRound, false
	}
	if now.After(r.Deadline) {
		return Guess{}, ErrLateSubmission, false
	}
	if _, exists := r.Guesses[name]; exists {
		return Guess{}, ErrAlreadySubmitted, false
	}

	g := Guess{PlayerName: name, Year: year, BetPlaced: bet, SubmittedAt: now}
	r.Guesses[name] = g
	return g, "", true
}

// AllSubmitted reports whether every eligible (joined, connected) player has
// a guess recorded for the round — the "all-players-submitted" early-end
// condition.
func AllSubmitted(r *Round, eligible []string) bool {
	if r == nil {
		return false
	}
	for _, name := range eligible {
		if _, ok := r.Guesses[name]; !ok {
			return false
		}
	}
	return true
}

// ScoreRound computes per-player results for the round's song and updates
// each player's TotalPoints in place. Results are sorted by points_earned
// descending, ties broken by name ascending.
func ScoreRound(cfg GameConfig, correctYear int, r *Round, players map[string]*Player) []PlayerResult {
	results := make([]PlayerResult, 0, len(r.Guesses))

	for name, g := range r.Guesses {
		earned := scoreGuess(cfg, correctYear, g)
		if p, ok := players[name]; ok {
			p.TotalPoints += earned
		}
		results = append(results, PlayerResult{
			Name: name,
			Guess: g.Year,
			PointsEarned: earned,
			BetPlaced: g.BetPlaced,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].PointsEarned != results[j].PointsEarned {
			return results[i].PointsEarned > results[j].PointsEarned
		}
		return results[i].Name < results[j].Name
	})

	return results
}

// Leaderboard returns a stable ranking of players by TotalPoints descending,
// ties at the same rank, alphabetical within a tie.
func Leaderboard(players []*Player) []LeaderboardEntry {
	sorted := make([]*Player, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalPoints != sorted[j].TotalPoints {
			return sorted[i].TotalPoints > sorted[j].TotalPoints
		}
		return sorted[i].Name < sorted[j].Name
	})

	out        := make([]LeaderboardEntry, len(sorted))
	rank       := 0
	prevPoints := 0
	for i, p := range sorted {
		if i == 0 || p.TotalPoints != prevPoints {
			rank = i + 1
		}
		prevPoints = p.TotalPoints
		out[i] = LeaderboardEntry{Rank: rank, Name: p.Name, TotalPoints: p.TotalPoints}
	}
	return out
}

// TopKWithSelf slices the full leaderboard to its top k entries, inlining
// the requesting player's own entry at the end if they fall outside the
// top k.
func TopKWithSelf(board []LeaderboardEntry, k int, self string) []LeaderboardEntry {
	if k <= 0 || k >= len(board) {
		return board
	}

	out := make([]LeaderboardEntry, 0, k+1)
	out = append(out, board[:k]...)

	for _, e := range out {
		if e.Name == self {
			return out
		}
	}
	for _, e := range board[k:] {
		if e.Name == self {
			out = append(out, e)
			break
		}
	}
	return out
}
