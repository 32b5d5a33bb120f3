package model

import "time"

// EventRecord is one row of the append-only event log. Unpublished rows are
// picked up by the outbox relay.
type EventRecord struct {
	ID            string    `gorm:"primaryKey;size:36"`
	AggregateID   string    `gorm:"size:64;not null;uniqueIndex:idx_events_aggregate_version,priority:1"`
	Version       int64     `gorm:"not null;uniqueIndex:idx_events_aggregate_version,priority:2"`
	Kind          string    `gorm:"size:64;not null"`
	Payload       string    `gorm:"type:text;not null"`
	CorrelationID string    `gorm:"size:64"`
	CausationID   string    `gorm:"size:64"`
	OccurredAt    time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index"`
	Published     bool      `gorm:"not null;default:false;index"`
	PublishedAt   *time.Time
}

func (EventRecord) TableName() string { return "events" }

type EventStream struct {
	AggregateID    string    `gorm:"primaryKey;size:64"`
	CurrentVersion int64     `gorm:"not null"`
	LastModified   time.Time `gorm:"not null"`
}

func (EventStream) TableName() string { return "event_streams" }
