package output

import "time"

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type EventName string

const (
	EventJobStarted     EventName = "job_started"
	EventItemStarted    EventName = "item_started"
	EventItemProgress   EventName = "item_progress"
	EventItemFinished   EventName = "item_finished"
	EventThumbnailReady EventName = "thumbnail_ready"
	EventJobFinished    EventName = "job_finished"
	EventJobFailed      EventName = "job_failed"
)

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Event     EventName      `json:"event"`
	JobID     string         `json:"job_id,omitempty"`
	Item      string         `json:"item,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}
