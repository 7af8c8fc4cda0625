package beatsy

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Broadcaster is the subset of the Broadcast Hub the Coordinator depends on.
// Kept as an interface so the Coordinator can be exercised in tests without
// a real Hub.
type Broadcaster interface {
	Broadcast(ev OutboundEvent)
}

// CmdError is the error half of a command Result.
type CmdError struct {
	Code    string
	Message string
}

func (e *CmdError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Result is what every command handler returns. Events is nil on error.
type Result struct {
	Events       []OutboundEvent
	Err          *CmdError
	ResolvedName string          // for join_game/reconnect replies: the name actually bound
	SessionID    string          // for join_game/reconnect replies
	AdminSecret  string          // for start_game replies: the freshly minted admin secret
	Status       *StatusView     // for get_status replies
	Config       GameConfig      // for start_game replies: the effective config now in force
	Snapshot     StateSnapshot   // for reconnect replies: delivered point-to-point, never broadcast
}

// StatusView is the read-only projection of GameState exposed to the Admin
// HTTP surface.
type StatusView struct {
	Status      GameStatus
	PlayerCount int
	PoolSize    int
	RoundNumber int
	Leaderboard []LeaderboardEntry
}

type cmdEnvelope struct {
	cmd   Command
	reply chan Result
}

var validNamePattern = regexp.MustCompile(`^[A-Za-z0-9 ]{1,20}$`)

// Coordinator is the sole owner of GameState (C1). Every external mutation
// is dispatched as a Command onto a single-consumer channel, so handlers
// always observe a consistent snapshot.
type Coordinator struct {
	state   GameState
	engine  *Engine
	hub     Broadcaster
	adapter PlaybackAdapter

	cmdCh chan cmdEnvelope
	timer *time.Timer

	playbackSnapshot any  // captured once per game, before the first Play, restored on stop_game
	snapshotTaken    bool

	Logf func(format string, args...any)
}

// NewCoordinator builds a Coordinator in the setup state, with an empty
// lobby, bound to the given Playback Adapter and Broadcast Hub.
func NewCoordinator(cfg GameConfig, adapter PlaybackAdapter, hub Broadcaster) *Coordinator {
	return &Coordinator{
		state: GameState{
			Config: cfg,
			Status: StatusSetup,
		},
		engine: NewEngine(adapter),
		hub: hub,
		adapter: adapter,
		cmdCh: make(chan cmdEnvelope),
		Logf: func(string,...any) {},
	}
}

// Run is the Coordinator's dedicated single-consumer loop. It blocks until
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if c.timer != nil {
				c.timer.Stop()
			}
			return
		case env := <-c.cmdCh:
			result := c.handle(env.cmd)
			for _, ev := range result.Events {
				c.hub.Broadcast(ev)
			}
			if env.reply != nil {
				env.reply <- result
			}
		}
	}
}

// Dispatch sends a command to the Coordinator's run loop and blocks for its
// result, or until ctx is cancelled.
func (c *Coordinator) Dispatch(ctx context.Context, cmd Command) Result {
	reply := make(chan Result, 1)
	select {
	case c.cmdCh <- cmdEnvelope{cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return Result{Err: &CmdError{Code: ErrNoActiveRound, Message: "coordinator unavailable"}}
	}

	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return Result{Err: &CmdError{Code: ErrNoActiveRound, Message: "timed out waiting for coordinator"}}
	}
}

func (c *Coordinator) handle(cmd Command) Result {
	switch t := cmd.(type) {
	case JoinGame:
		return c.handleJoinGame(t)
	case Reconnect:
		return c.handleReconnect(t)
	case PlaceBet:
		return c.handlePlaceBet(t)
	case SubmitGuess:
		return c.handleSubmitGuess(t)
	case StartGame:
		return c.handleStartGame(t)
	case NextSong:
		return c.handleNextSong(t)
	case StopGame:
		return c.handleStopGame(t)
	case deadlineExpired:
		return c.handleDeadlineExpired(t)
	case GetStatus:
		return c.handleGetStatus(t)
	case SetConnected:
		return c.handleSetConnected(t)
	default:
		return Result{Err: &CmdError{Code: ErrUnknownCommand, Message: "unrecognized command"}}
	}
}

func errResult(code, msg string) Result {
	return Result{Err: &CmdError{Code: code, Message: msg}}
}

func (c *Coordinator) handleJoinGame(cmd JoinGame) Result {
	if c.state.Status == StatusEnded {
		return errResult(ErrGameEnded, "the game has ended")
	}
	if !validNamePattern.MatchString(cmd.Name) {
		return errResult(ErrInvalidName, "name must be 1-20 alphanumeric characters or spaces")
	}

	resolved := resolveDuplicateName(c.state.Players, cmd.Name)

	isAdmin := false
	if cmd.AdminProof != "" && c.state.AdminSecret != "" && cmd.AdminProof == c.state.AdminSecret && !c.state.HasAdmin() {
		isAdmin = true
	}

	p := &Player{
		Name: resolved,
		SessionID: uuid.NewString(),
		IsAdmin: isAdmin,
		Connected: true,
	}
	c.state.Players = append(c.state.Players, p)

	return Result{
		ResolvedName: resolved,
		SessionID: p.SessionID,
		Events: []OutboundEvent{{
			Type: EventPlayerJoined,
			Data: PlayerJoinedData{PlayerName: resolved, TotalPlayers: len(c.state.Players)},
		}},
	}
}

// handleReconnect never emits a broadcast event for player_reconnected: the
// connection issuing this command hasn't bound a player name yet (that
// happens in the transport layer once Dispatch returns), so a Hub.Broadcast
// keyed on TargetPlayer would match no one. The snapshot goes out in
// Result.Snapshot instead, for the transport to deliver directly to the
// connection that asked.
func (c *Coordinator) handleReconnect(cmd Reconnect) Result {
	p := c.state.PlayerBySession(cmd.SessionID)
	if p == nil {
		return errResult(ErrSessionUnknown, "no player bound to this session")
	}
	p.Connected = true

	return Result{
		ResolvedName: p.Name,
		SessionID: p.SessionID,
		Snapshot: c.snapshotFor(p),
	}
}

func (c *Coordinator) snapshotFor(p *Player) StateSnapshot {
	snap := StateSnapshot{
		Status: c.state.Status,
		Leaderboard: Leaderboard(c.state.Players),
		TotalPoints: p.TotalPoints,
	}
	if c.state.Round != nil && c.state.Round.Status == RoundActive {
		_, guessed := c.state.Round.Guesses[p.Name]
		snap.Round = &RoundSnapshot{
			Number: c.state.Round.Number,
			TimerDuration: c.state.Config.TimerDuration.Seconds(),
			StartedAt: c.state.Round.StartedAt,
			HasGuessed: guessed,
		}
	}
	return snap
}

func (c *Coordinator) handlePlaceBet(cmd PlaceBet) Result {
	if c.state.Round == nil || c.state.Round.Status != RoundActive {
		return errResult(ErrNoActiveRound, "no round is active")
	}
	if _, exists := c.state.Round.Guesses[cmd.Name]; exists {
		return errResult(ErrAlreadySubmitted, "guess already submitted this round")
	}

	return Result{
		Events: []OutboundEvent{{
			Type: EventBetPlaced,
			Data: BetPlacedData{PlayerName: cmd.Name},
		}},
	}
}

func (c *Coordinator) handleSubmitGuess(cmd SubmitGuess) Result {
	if cmd.Year < c.state.Config.YearRangeMin || cmd.Year > c.state.Config.YearRangeMax {
		return errResult(ErrYearOutOfRange, "guess year is outside the configured range")
	}

	_, code, ok := AcceptGuess(c.state.Round, cmd.Name, cmd.Year, cmd.Bet, time.Now())
	if !ok {
		return errResult(code, "guess rejected")
	}

	events := []OutboundEvent{{
		Type: EventGuessSubmitted,
		Data: GuessSubmittedData{PlayerName: cmd.Name},
	}}

	if AllSubmitted(c.state.Round, c.state.EligiblePlayerNames()) {
		events = append(events, c.endRound()...)
	}

	return Result{Events: events}
}

func (c *Coordinator) handleStartGame(cmd StartGame) Result {
	if !cmd.IsAdmin {
		return errResult(ErrNotAdmin, "start_game requires admin")
	}

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	cfg := c.state.Config
	if cmd.ConfigOverride != nil {
		cfg = *cmd.ConfigOverride
	}
	if err := cfg.Validate(); err != nil {
		return errResult(ErrInvalidConfig, err.Error())
	}

	ctx, cancel  := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	skipped, err := c.engine.LoadPlaylist(ctx, cfg.PlaylistID)
	if err != nil || c.engine.PoolSize() == 0 {
		return errResult(ErrPlaylistEmpty, "no year-bearing tracks available in the configured playlist")
	}
	c.Logf("GAME: loaded playlist %q, %d skipped for missing year", cfg.PlaylistID, skipped)

	c.state.Config = cfg
	c.state.Players = nil
	c.state.Round = nil
	c.state.RoundNumber = 0
	c.state.Status = StatusLobby
	c.state.AdminSecret = uuid.NewString()
	c.playbackSnapshot = nil
	c.snapshotTaken = false

	return Result{
		AdminSecret: c.state.AdminSecret,
		Config: cfg,
		Events: []OutboundEvent{{Type: EventGameReset, Data: GameResetData{}}},
	}
}

func (c *Coordinator) handleNextSong(cmd NextSong) Result {
	if !cmd.IsAdmin {
		return errResult(ErrNotAdmin, "next_song requires admin")
	}
	if c.state.Round != nil && c.state.Round.Status == RoundActive {
		return errResult(ErrRoundAlreadyActive, "a round is already active")
	}
	if c.engine.PoolSize() == 0 {
		return errResult(ErrPoolExhausted, "no songs remain in the pool")
	}

	song, err := c.pickAndPlay()
	if err != nil {
		return errResult(ErrPlaybackFailed, err.Error())
	}

	c.state.Status = StatusActive
	c.state.RoundNumber++
	c.state.Round = newRound(c.state.RoundNumber, song.ID, c.state.Config.TimerDuration)

	roundNumber := c.state.RoundNumber
	c.timer = time.AfterFunc(c.state.Config.TimerDuration, func() {
		reply := make(chan Result, 1)
		c.cmdCh <- cmdEnvelope{cmd: deadlineExpired{roundNumber: roundNumber}, reply: reply}
	})

	return Result{
		Events: []OutboundEvent{{
			Type: EventRoundStarted,
			Data: RoundStartedData{
				RoundNumber: c.state.RoundNumber,
				Song: RoundStartedSongData{
					Title: song.Title,
					Artist: song.Artist,
					CoverRef: song.CoverRef,
				},
				TimerDuration: c.state.Config.TimerDuration.Seconds(),
				StartedAt: c.state.Round.StartedAt,
			},
		}},
	}
}

// pickAndPlay draws a song and asks the Playback Adapter to play it,
// retrying up to 3 times with a different song on playback failure before
// giving up.
func (c *Coordinator) pickAndPlay() (Song, error) {
	const maxAttempts = 4 // one initial try plus up to 3 retries
	var lastErr error

	if !c.snapshotTaken {
		c.snapshotTaken = true
		ctx, cancel := context.WithTimeout(context.Background(), playbackCallTimeout)
		snap, err := c.adapter.SnapshotState(ctx, c.state.Config.PlaybackTarget)
		cancel()
		if err != nil {
			c.Logf("GAME: snapshot of playback target %q failed, stop_game will restore an empty snapshot: %v", c.state.Config.PlaybackTarget, err)
		} else {
			c.playbackSnapshot = snap
		}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		song, err := c.engine.SelectSong()
		if err != nil {
			return Song{}, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), playbackCallTimeout)
		playErr     := c.adapter.Play(ctx, c.state.Config.PlaybackTarget, song.ID)
		cancel()

		if playErr == nil {
			return song, nil
		}

		lastErr = playErr
		c.Logf("GAME: playback failed for song %q (attempt %d/%d): %v", song.ID, attempt+1, maxAttempts, playErr)
		c.engine.Excluding(song.ID)
	}

	return Song{}, fmt.Errorf("pool_exhausted_or_broken: %w", lastErr)
}

func (c *Coordinator) handleStopGame(cmd StopGame) Result {
	if !cmd.IsAdmin {
		return errResult(ErrNotAdmin, "stop_game requires admin")
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state.Round != nil && c.state.Round.Status == RoundActive {
		c.state.Round.Status = RoundEnded
	}

	if c.state.Config.PlaybackTarget != "" {
		ctx, cancel := context.WithTimeout(context.Background(), playbackCallTimeout)
		_ = c.adapter.RestoreState(ctx, c.state.Config.PlaybackTarget, c.playbackSnapshot)
		cancel()
	}

	c.state.Status = StatusEnded

	return Result{
		Events: []OutboundEvent{{Type: EventGameReset, Data: GameResetData{}}},
	}
}

// ListPlaybackTargets exposes the bound Playback Adapter's device list to
// the Admin HTTP surface. It does not touch
// GameState and is safe to call concurrently with Run.
func (c *Coordinator) ListPlaybackTargets(ctx context.Context) ([]PlaybackTarget, error) {
	return c.adapter.ListPlaybackTargets(ctx)
}

// ValidatePlaylist asks the Playback Adapter to resolve playlistID without
// committing it to the Round Engine's pool, so the admin surface can report
// a track count before start_game actually loads it.
func (c *Coordinator) ValidatePlaylist(ctx context.Context, playlistID string) (poolSize, skipped int, err error) {
	songs, skipped, err := c.adapter.LoadPlaylist(ctx, playlistID)
	if err != nil {
		return 0, 0, err
	}
	for _, s := range songs {
		if s.Year != 0 {
			poolSize++
		}
	}
	return poolSize, skipped, nil
}

func (c *Coordinator) handleGetStatus(cmd GetStatus) Result {
	return Result{Status: &StatusView{
		Status: c.state.Status,
		PlayerCount: len(c.state.Players),
		PoolSize: c.engine.PoolSize(),
		RoundNumber: c.state.RoundNumber,
		Leaderboard: Leaderboard(c.state.Players),
	}}
}

func (c *Coordinator) handleSetConnected(cmd SetConnected) Result {
	if p := c.state.PlayerByName(cmd.Name); p != nil {
		p.Connected = cmd.Connected
	}
	return Result{}
}

func (c *Coordinator) handleDeadlineExpired(cmd deadlineExpired) Result {
	if c.state.Round == nil || c.state.Round.Number != cmd.roundNumber || c.state.Round.Status != RoundActive {
		// Already ended by all-submitted; this is the losing transition
		// and is a no-op.
		return Result{}
	}
	return Result{Events: c.endRound()}
}

// endRound performs the single permitted active -> ended transition: it
// guards against double-ending, scores the round, updates running totals,
// and returns the round_ended event.
func (c *Coordinator) endRound() []OutboundEvent {
	r := c.state.Round
	if r == nil || r.Status != RoundActive {
		return nil
	}
	r.Status = RoundEnded

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	song := c.engine.played[r.SongID]

	playerIndex := make(map[string]*Player, len(c.state.Players))
	for _, p := range c.state.Players {
		playerIndex[p.Name] = p
	}

	results := ScoreRound(c.state.Config, song.Year, r, playerIndex)

	c.state.Status = StatusLobby

	return []OutboundEvent{{
		Type: EventRoundEnded,
		Data: RoundEndedData{
			CorrectYear: song.Year,
			Results: results,
			Leaderboard: Leaderboard(c.state.Players),
		},
	}}
}
