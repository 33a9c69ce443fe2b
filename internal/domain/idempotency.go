package domain

import "time"

// IdempotencyRecord is the stored outcome of a submission, keyed by
// (session_id, key). A repeated request with the same key inside the TTL is
// answered with Status and Payload verbatim, without re-running side effects.
type IdempotencyRecord struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	SessionID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_session_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_session_key,priority:2"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	Payload   []byte    `gorm:"type:BLOB NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime;index"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }
