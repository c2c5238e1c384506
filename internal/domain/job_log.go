package domain

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// JobLogEntry is an append-only trace record keyed by job id.
type JobLogEntry struct {
	ID        int64
	JobID     int64
	Level     LogLevel
	Message   string
	Context   map[string]any
	CreatedAt time.Time
}
