// Package domain defines the persistence models for the application.
package domain

import "time"

// DispatchOutcome is the recorded envelope of one dispatch call: the full
// counts a replay must echo. A replayed response that dropped ErrorCount or
// TotalTargeted would make a partial failure look clean, so the whole
// outcome is persisted, not just the success tally.
type DispatchOutcome struct {
	Success       bool `gorm:"type:BOOLEAN NOT NULL"`
	SentCount     int  `gorm:"type:INTEGER NOT NULL"`
	ErrorCount    int  `gorm:"type:INTEGER NOT NULL"`
	TotalTargeted int  `gorm:"type:INTEGER NOT NULL"`
}

// Idempotency records the envelope of a previously processed send request,
// keyed by (user_id, scope, key). Scope names the dispatch endpoint
// ("send", "send-all", ...) so the same key can be reused across endpoints
// without collision. It lets an administrator safely retry a broadcast
// without fanning the notification out twice.
type Idempotency struct {
	ID        string          `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string          `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope     string          `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:2"`
	Key       string          `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:3"`
	Status    int             `gorm:"type:INTEGER NOT NULL"`
	Outcome   DispatchOutcome `gorm:"embedded"`
	CreatedAt time.Time       `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time       `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
