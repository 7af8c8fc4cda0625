package beatsy

import (
	"strconv"
	"time"
)

// GameState is the top-level container owned exclusively by the
// Coordinator. All mutation goes through Dispatch; nothing outside this
// package ever touches it directly.
type GameState struct {
	Config      GameConfig
	Status      GameStatus
	Players     []*Player  // ordered by join time
	Round       *Round     // nil if no round has started yet
	AdminSecret string     // minted at start_game; proves admin on the first matching join_game
	RoundNumber int
}

// PlayerByName returns the player with the given name, or nil.
func (s *GameState) PlayerByName(name string) *Player {
	for _, p := range s.Players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PlayerBySession returns the player bound to the given session id, or nil.
func (s *GameState) PlayerBySession(sessionID string) *Player {
	for _, p := range s.Players {
		if p.SessionID == sessionID {
			return p
		}
	}
	return nil
}

// HasAdmin reports whether any player currently carries is_admin.
func (s *GameState) HasAdmin() bool {
	for _, p := range s.Players {
		if p.IsAdmin {
			return true
		}
	}
	return false
}

// EligiblePlayerNames returns the names of joined, connected players — the
// set used for the all-submitted early-end check. ScoreRound does not
// consult it: every guess recorded in the round is scored.
func (s *GameState) EligiblePlayerNames() []string {
	names := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Connected {
			names = append(names, p.Name)
		}
	}
	return names
}

// resolveDuplicateName implements the suffix rule: while name exists among
// Players, append " (k)" starting at k=2, smallest k producing an unused
// name.
func resolveDuplicateName(existing []*Player, name string) string {
	taken := make(map[string]bool, len(existing))
	for _, p := range existing {
		taken[p.Name] = true
	}
	if !taken[name] {
		return name
	}
	for k := 2; ; k++ {
		candidate := name + " (" + strconv.Itoa(k) + ")"
		if !taken[candidate] {
			return candidate
		}
	}
}
