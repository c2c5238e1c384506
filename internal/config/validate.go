package config

import (
	"fmt"
	"time"

	"github.com/djlord-it/easy-remind/internal/cron"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// gapWindow is how far ahead the reminder schedule is sampled.
const gapWindow = 8 * 24 * time.Hour

// Validate returns nil or ValidationErrors.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.loadErrors...)

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required when STORE_DRIVER=postgres"})
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "STORE_DRIVER",
			Message: fmt.Sprintf("must be 'postgres' or 'memory', got %q", cfg.StoreDriver),
		})
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'json' or 'console', got %q", cfg.LogFormat),
		})
	}

	for _, d := range cfg.durations() {
		if *d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{Field: d.env, Message: fmt.Sprintf("invalid duration: %v", err)})
		case parsed < 0 || (parsed == 0 && !d.allowZero):
			errs = append(errs, ValidationError{Field: d.env, Message: "must be positive"})
		}
	}

	errs = append(errs, validateSchedule(cfg)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSchedule(cfg Config) ValidationErrors {
	tz := cfg.ReminderTimezone
	if tz == "" {
		tz = "UTC"
	}
	sched, err := cron.NewParser().Parse(cfg.ReminderSchedule, tz)
	if err != nil {
		return ValidationErrors{{Field: "REMINDER_SCHEDULE", Message: err.Error()}}
	}
	if cfg.ReminderMatchTolerance <= 0 {
		return nil
	}

	gap := cron.MaxGap(sched, time.Now().UTC(), gapWindow)
	if limit := 2 * cfg.ReminderMatchTolerance; gap > limit {
		return ValidationErrors{{
			Field: "REMINDER_SCHEDULE",
			Message: fmt.Sprintf("fires up to %s apart, more than twice REMINDER_MATCH_TOLERANCE (%s); reminders would be missed",
				gap, cfg.ReminderMatchTolerance),
		}}
	}
	return nil
}
