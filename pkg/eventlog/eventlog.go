// Package eventlog keeps a sqlite audit trail of session mutations.
// It is purely additive: recording is best-effort and must never block or
// fail an annotation operation.
package eventlog

import (
	"fmt"
	"time"

	"github.com/cyclopcam/annotator/pkg/anno"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Actions recorded in the audit trail
const (
	ActionCreated   = "created"   // human box created
	ActionConfirmed = "confirmed" // provisional box promoted
	ActionDeleted   = "deleted"
	ActionCleared   = "cleared" // all boxes on a frame removed
	ActionCategory  = "category"
	ActionFixed     = "fixed" // fixed box template inserted
)

// EventLog records one row per session mutation
type EventLog struct {
	log logs.Log
	db  *gorm.DB
}

// Event is a single audit row
type Event struct {
	ID         int64       `gorm:"primaryKey"`
	Time       dbh.IntTime `json:"time"`
	FrameID    string      `json:"frameID"`
	Action     string      `json:"action"`
	Source     string      `json:"source" gorm:"default:null"`
	CategoryID string      `json:"categoryID" gorm:"default:null"`
	Box        string      `json:"box" gorm:"default:null"` // "[x1,y1,x2,y2]", empty for frame-level actions
}

func (Event) TableName() string {
	return "event"
}

// Open or create the event log database
func Open(log logs.Log, filename string) (*EventLog, error) {
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(filename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event log '%v': %w", filename, err)
	}
	return &EventLog{
		log: log,
		db:  db,
	}, nil
}

// Record appends an audit row. Failures are logged and swallowed.
func (e *EventLog) Record(frameID, action, source, categoryID string, box *anno.Box) {
	ev := &Event{
		Time:       dbh.MakeIntTime(time.Now()),
		FrameID:    frameID,
		Action:     action,
		Source:     source,
		CategoryID: categoryID,
	}
	if box != nil {
		ev.Box = box.String()
	}
	if err := e.db.Create(ev).Error; err != nil {
		e.log.Warnf("Failed to record %v event for frame %v: %v", action, frameID, err)
	}
}

// FrameEvents returns the audit rows of one frame, oldest first
func (e *EventLog) FrameEvents(frameID string) ([]Event, error) {
	events := []Event{}
	if err := e.db.Where("frame_id = ?", frameID).Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (e *EventLog) Close() {
	if db, err := e.db.DB(); err == nil {
		db.Close()
	}
}
