package beatsy

import (
	"testing"
	"time"
)

func testConfig() GameConfig {
	return GameConfig{
		TimerDuration:  30 * time.Second,
		YearRangeMin:   1950,
		YearRangeMax:   2025,
		ExactPoints:    10,
		ClosePoints:    5,
		NearPoints:     2,
		BetMultiplier:  2,
		PlaybackTarget: "living_room",
		PlaylistID:     "party-mix",
	}
}

func TestScoreGuess(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name        string
		correctYear int
		guess       Guess
		want        int
	}{
		{"exact", 1999, Guess{Year: 1999}, 10},
		{"close under", 1999, Guess{Year: 1998}, 5},
		{"close over", 1999, Guess{Year: 2001}, 5},
		{"near", 1999, Guess{Year: 2004}, 2},
		{"miss", 1999, Guess{Year: 2010}, 0},
		{"exact with bet", 1999, Guess{Year: 1999, BetPlaced: true}, 20},
		{"miss with bet stays zero", 1999, Guess{Year: 2010, BetPlaced: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoreGuess(cfg, tt.correctYear, tt.guess)
			if got != tt.want {
				t.Errorf("scoreGuess(%d, %+v) = %d, want %d", tt.correctYear, tt.guess, got, tt.want)
			}
		})
	}
}

func TestGameConfigValidate(t *testing.T) {
	base := testConfig()
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tooShort := base
	tooShort.TimerDuration = 5 * time.Second
	if err := tooShort.Validate(); err == nil {
		t.Error("expected error for timer duration below 10s")
	}

	tooLong := base
	tooLong.TimerDuration = 121 * time.Second
	if err := tooLong.Validate(); err == nil {
		t.Error("expected error for timer duration above 120s")
	}

	badRange := base
	badRange.YearRangeMin = 2025
	badRange.YearRangeMax = 2000
	if err := badRange.Validate(); err == nil {
		t.Error("expected error for inverted year range")
	}

	negativePoints := base
	negativePoints.ExactPoints = -1
	if err := negativePoints.Validate(); err == nil {
		t.Error("expected error for negative points")
	}

	badMultiplier := base
	badMultiplier.BetMultiplier = 0
	if err := badMultiplier.Validate(); err == nil {
		t.Error("expected error for bet multiplier below 1")
	}
}
