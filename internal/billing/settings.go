package billing

import (
	"errors"
	"fmt"
	"time"
)

// MaxDays caps the day count of a single grant or admin setter, well below
// the point where a day count overflows time.Duration.
const MaxDays = 36500

// Settings are the platform-wide tunables of the engine.
type Settings struct {
	TrialEnabled           bool `mapstructure:"trial_enabled"`
	TrialDays              int  `mapstructure:"trial_days"`
	TrialOnce              bool `mapstructure:"trial_once"`
	GraceDays              int  `mapstructure:"grace_days"`
	NotifyTrialBeforeDays  int  `mapstructure:"notify_trial_before_days"`
	NotifyPeriodBeforeDays int  `mapstructure:"notify_period_before_days"`
	ProPeriodDays          int  `mapstructure:"pro_period_days"`
	// Workers bounds how many records a sweep processes at once.
	Workers int `mapstructure:"workers"`
}

func DefaultSettings() Settings {
	return Settings{
		TrialEnabled:           true,
		TrialDays:              14,
		TrialOnce:              true,
		GraceDays:              3,
		NotifyTrialBeforeDays:  3,
		NotifyPeriodBeforeDays: 5,
		ProPeriodDays:          30,
		Workers:                4,
	}
}

func (s Settings) Validate() error {
	var errs []error
	if s.TrialDays <= 0 || s.TrialDays > MaxDays {
		errs = append(errs, fmt.Errorf("trial_days must be in 1..%d", MaxDays))
	}
	if s.GraceDays > MaxDays {
		errs = append(errs, fmt.Errorf("grace_days must be at most %d", MaxDays))
	}
	if s.GraceDays < 0 {
		errs = append(errs, errors.New("grace_days must not be negative"))
	}
	if s.NotifyTrialBeforeDays < 0 || s.NotifyPeriodBeforeDays < 0 {
		errs = append(errs, errors.New("notify_*_before_days must not be negative"))
	}
	if s.ProPeriodDays <= 0 || s.ProPeriodDays > MaxDays {
		errs = append(errs, fmt.Errorf("pro_period_days must be in 1..%d", MaxDays))
	}
	if s.Workers < 0 {
		errs = append(errs, errors.New("workers must not be negative"))
	}
	return errors.Join(errs...)
}

func (s Settings) workers() int {
	if s.Workers <= 0 {
		return 1
	}
	return s.Workers
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
