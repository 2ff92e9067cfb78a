package database

import "time"

// Run represents one executed script in the database.
type Run struct {
	ID                string
	ScriptHash        string
	ScriptSize        int64
	TranscriptSize    int64
	LineCount         int
	AppliedCount      int
	DirCount          int
	ExecutedAt        time.Time
	ExpiresAt         time.Time
	DeletionTokenHash string
	CreatedAt         time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalRuns       int64
	ActiveRuns      int64
	TotalLines      int64
	TranscriptBytes int64
}
