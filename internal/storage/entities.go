package storage

import "time"

// SyncRun is one reconciliation pass as recorded in the run log.
type SyncRun struct {
	RunID     string
	StartedAt time.Time
	Source    string
	Total     int
	Scheduled int
	Skipped   int
	Failed    int
	Rearmed   int
	Swept     int
	Error     string
}

type ReminderListFilter struct {
	Status string
	Limit  int
	Offset int
}

type SyncRunListFilter struct {
	Limit  int
	Offset int
}
