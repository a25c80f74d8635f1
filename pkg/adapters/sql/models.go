package sql

import "time"

// sessionRow holds the whole SessionState document. ActiveAgent and Seq are
// duplicated into columns so operators can query them.
type sessionRow struct {
	Key         string `gorm:"primaryKey;column:session_key;size:255"`
	ActiveAgent string `gorm:"size:255"`
	Seq         uint64
	Document    []byte
	UpdatedAt   time.Time
}

func (sessionRow) TableName() string { return "concierge_sessions" }

type stepRow struct {
	ID         uint   `gorm:"primaryKey"`
	SessionKey string `gorm:"size:255;uniqueIndex:idx_step_position,priority:1"`
	Seq        uint64 `gorm:"uniqueIndex:idx_step_position,priority:2"`
	Position   int    `gorm:"uniqueIndex:idx_step_position,priority:3"`
	Label      string `gorm:"size:512"`
	ArgsHash   string `gorm:"size:64"`
	Result     []byte
	Error      string
	RecordedAt time.Time
}

func (stepRow) TableName() string { return "concierge_steps" }
