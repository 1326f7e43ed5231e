package domain

import "time"

// Idempotency represents a recorded result of a previously processed request,
// keyed by (user_id, scope, key). Scope is the job kind of the submission, so
// the same client key may be reused across image and video endpoints. A
// replay returns the originally created job without reserving credits again.
// A record with an empty ResourceID is a claim held by an in-flight request.
type Idempotency struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	UserID     string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope      string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_user_scope_key,priority:2"`
	Key        string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_user_scope_key,priority:3"`
	ResourceID string    `gorm:"type:char(36);not null"`
	Status     int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// Pending reports whether the key is claimed by a submission that has not
// produced a job yet.
func (r Idempotency) Pending() bool { return r.ResourceID == "" }

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
