package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/mholzi/beatsy/internal/beatsy"
)

// loadGameConfigSnapshot reads a previously-persisted GameConfig from path
// and overlays it onto cfg.game, so a restarted process picks up the
// tunables an admin set in a prior run. A missing file is not an
// error; there is simply nothing to restore yet.
func loadGameConfigSnapshot(path string, cfg *beatsy.GameConfig) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config snapshot %q: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decoding config snapshot %q: %w", path, err)
	}
	return nil
}

// saveGameConfigSnapshot writes the live GameConfig back to path so the next
// start of the process can resume it. Called after every start_game made
// through the Admin HTTP surface, since start_game is the one command that
// can change GameConfig for the running game; a start_game sent over the
// WebSocket does not write a snapshot. No round or score history is
// written, only the tunables.
func saveGameConfigSnapshot(path string, cfg beatsy.GameConfig) error {
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("timer_duration", cfg.TimerDuration)
	v.Set("year_range_min", cfg.YearRangeMin)
	v.Set("year_range_max", cfg.YearRangeMax)
	v.Set("exact_points", cfg.ExactPoints)
	v.Set("close_points", cfg.ClosePoints)
	v.Set("near_points", cfg.NearPoints)
	v.Set("bet_multiplier", cfg.BetMultiplier)
	v.Set("playback_target", cfg.PlaybackTarget)
	v.Set("playlist_id", cfg.PlaylistID)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config snapshot %q: %w", path, err)
	}
	return nil
}
