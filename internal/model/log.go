package model

import (
	"time"
)

// Log levels written to the log stream.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LogEntry is a record in the append-only log stream. Entries are stored and
// delivered as items of LogCollection so log-consuming stages can treat them
// like any other producer.
type LogEntry struct {
	ID        string
	Time      time.Time
	Level     string
	StageID   string
	StageType string
	Message   string
	Error     string
}

// Item converts the entry into its stored item shape.
func (e LogEntry) Item() Item {
	meta := map[string]any{
		"level": e.Level,
	}
	if e.StageID != "" {
		meta["stage"] = e.StageID
	}
	if e.StageType != "" {
		meta["stageType"] = e.StageType
	}
	if e.Error != "" {
		meta["error"] = e.Error
	}
	return Item{
		URL:     "urn:uuid:" + e.ID,
		Created: e.Time,
		Title:   e.Message,
		Text:    e.Error,
		Meta:    meta,
	}
}
