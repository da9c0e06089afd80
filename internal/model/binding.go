package model

import "time"

// Binding is the persisted association between a key digest and the single
// device allowed to use it. There is no soft delete: an admin unbind removes
// the row so the digest can be bound again.
type Binding struct {
	KeyDigest    string    `json:"key_digest" gorm:"primaryKey;size:64"`
	BoundDevice  string    `json:"bound_device" gorm:"not null;size:17"`
	FirstBoundAt time.Time `json:"first_bound_at" gorm:"not null"`
	LastUsedAt   time.Time `json:"last_used_at" gorm:"not null"`
	UseCount     int64     `json:"use_count" gorm:"not null;default:1"`
}
