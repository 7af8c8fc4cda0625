package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mholzi/beatsy/internal/beatsy"
)

type Config struct {
	bind           string
	playerTimeout  time.Duration
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	adminSecretTTL time.Duration
	configStore    string
	jwtSigningKey  string

	game beatsy.GameConfig
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if err := c.game.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BEATSY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "beatsy",
		Short:         "A server-side real-time music year-guessing party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BEATSY_BIND)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 20*time.Second, "not read by the server; idle connections are closed by the fixed heartbeat deadline (env: BEATSY_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BEATSY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: BEATSY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BEATSY_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "not read by the server; idle games are not torn down (env: BEATSY_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: BEATSY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: BEATSY_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BEATSY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BEATSY_VERSION)")

	fs.DurationVar(&cfg.adminSecretTTL, "admin-secret-ttl", 4*time.Hour, "lifetime of the signed admin token (env: BEATSY_ADMIN_SECRET_TTL)")
	fs.StringVar(&cfg.configStore, "config-store", "", "path to the game config snapshot file, if config persistence is desired (env: BEATSY_CONFIG_STORE)")
	fs.StringVar(&cfg.jwtSigningKey, "jwt-signing-key", "", "HMAC signing key for admin tokens; a random key is generated if unset (env: BEATSY_JWT_SIGNING_KEY)")

	fs.DurationVar(&cfg.game.TimerDuration, "timer-duration", 30*time.Second, "round guessing window, 10s-120s (env: BEATSY_TIMER_DURATION)")
	fs.IntVar(&cfg.game.YearRangeMin, "year-min", 1950, "earliest year a guess may name (env: BEATSY_YEAR_MIN)")
	fs.IntVar(&cfg.game.YearRangeMax, "year-max", time.Now().Year(), "latest year a guess may name (env: BEATSY_YEAR_MAX)")
	fs.IntVar(&cfg.game.ExactPoints, "exact-points", 10, "points for an exact year guess (env: BEATSY_EXACT_POINTS)")
	fs.IntVar(&cfg.game.ClosePoints, "close-points", 5, "points for a guess within 2 years (env: BEATSY_CLOSE_POINTS)")
	fs.IntVar(&cfg.game.NearPoints, "near-points", 2, "points for a guess within 5 years (env: BEATSY_NEAR_POINTS)")
	fs.IntVar(&cfg.game.BetMultiplier, "bet-multiplier", 2, "multiplier applied to a positive score when a bet was placed (env: BEATSY_BET_MULTIPLIER)")
	fs.StringVar(&cfg.game.PlaybackTarget, "playback-target", "", "default playback target id (env: BEATSY_PLAYBACK_TARGET)")
	fs.StringVar(&cfg.game.PlaylistID, "playlist-id", "", "default playlist id to load on start_game (env: BEATSY_PLAYLIST_ID)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("beatsy v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
