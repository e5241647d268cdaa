package domain

import "time"

// Idempotency remembers an outbound send made under an Idempotency-Key. ChatID is
// the internal chat id, so a key used against the provider id and against the
// internal id of the same chat collides as intended. Rows past ExpiresAt are
// ignored on lookup and removed by the periodic purge.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ChatID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_send_keys_chat_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_send_keys_chat_key,priority:2"`
	MessageID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"` // HTTP status of the original send
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "send_idempotency_keys" }

// Live reports whether the key still replays at now.
func (i Idempotency) Live(now time.Time) bool { return now.Before(i.ExpiresAt) }
