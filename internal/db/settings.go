package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dschuurman/duskd/internal/state"
)

// SettingsRepo stores the user-adjustable timer settings.
// Implements state.Persister.
type SettingsRepo struct {
	db *sql.DB
}

// NewSettingsRepo creates a settings repository
func NewSettingsRepo(db *sql.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Load returns the persisted settings, or ok=false when none are stored yet
func (r *SettingsRepo) Load() (state.Settings, bool, error) {
	var (
		offTime      string
		lightsTimer  int
		outletsTimer int
		brightness   int
	)
	err := r.db.QueryRow(`
		SELECT off_time, lights_timer, outlets_timer, brightness
		FROM settings WHERE id = 1
	`).Scan(&offTime, &lightsTimer, &outletsTimer, &brightness)

	if err == sql.ErrNoRows {
		return state.Settings{}, false, nil
	}
	if err != nil {
		return state.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}

	clock, err := state.ParseClock(offTime)
	if err != nil {
		return state.Settings{}, false, fmt.Errorf("stored off_time: %w", err)
	}

	return state.Settings{
		OffTime:      clock,
		LightsTimer:  lightsTimer != 0,
		OutletsTimer: outletsTimer != 0,
		Brightness:   brightness,
	}, true, nil
}

// Save upserts the settings row
func (r *SettingsRepo) Save(set state.Settings) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO settings (id, off_time, lights_timer, outlets_timer, brightness, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
	`, set.OffTime.String(), boolToInt(set.LightsTimer), boolToInt(set.OutletsTimer), set.Brightness, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
