// Package domain defines the persistence models for users, generation jobs,
// subscriptions, webhook deliveries and reference characters. These types
// are mapped with GORM and form the core data layer of the service.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobKind distinguishes the two generation job families. Both share one shape.
type JobKind string

const (
	KindImage JobKind = "image"
	KindVideo JobKind = "video"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool { return k == KindImage || k == KindVideo }

// JobStatus is the one-way lifecycle state of a GenerationJob.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusSuccess    JobStatus = "success"
	StatusFail       JobStatus = "fail"
)

// Terminal reports whether s is success or fail.
func (s JobStatus) Terminal() bool { return s == StatusSuccess || s == StatusFail }

// SubscriptionStatus mirrors the billing provider's lifecycle, collapsed to two states.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// User is a local mirror of an identity-provider account plus its credit
// balance. Profile fields are owned by identity events; Credits is owned by
// the credit ledger.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ExternalID: identity-provider user id (unique). Jobs and subscriptions
//     reference users by this id.
//   - Credits: spendable balance, never driven below zero by a reservation.
//   - SubscriptionID: current subscription back-reference, if any.
type User struct {
	ID                string    `json:"id"                  gorm:"type:char(36);primaryKey"`
	ExternalID        string    `json:"external_id"         gorm:"type:varchar(128);not null;uniqueIndex:ux_users_external"`
	Name              string    `json:"name"                gorm:"type:varchar(255);not null;default:''"`
	Email             string    `json:"email"               gorm:"type:varchar(320);not null;default:''"`
	ImageURL          string    `json:"image_url"           gorm:"type:varchar(1024);not null;default:''"`
	Credits           int64     `json:"credits"             gorm:"not null;default:0"`
	SubscriptionID    *string   `json:"subscription_id"     gorm:"type:char(36)"`
	BillingCustomerID string    `json:"billing_customer_id" gorm:"type:varchar(128);not null;default:''"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// GenerationJob is the durable record of one image or video generation
// request. It is created in the processing state after the external
// generator accepted the task and transitions exactly once to success or
// fail when the provider calls back.
type GenerationJob struct {
	ID                string    `json:"id"                            gorm:"type:char(36);primaryKey"`
	Kind              JobKind   `json:"kind"                          gorm:"type:varchar(8);not null;uniqueIndex:ux_jobs_kind_external,priority:1;index:idx_jobs_feed,priority:1;index:idx_jobs_owner,priority:1"`
	UserID            string    `json:"user_id"                       gorm:"type:varchar(128);not null;index:idx_jobs_owner,priority:2"`
	Model             string    `json:"model"                         gorm:"type:varchar(128);not null"`
	Prompt            string    `json:"prompt"                        gorm:"type:text;not null"`
	AspectRatio       string    `json:"aspect_ratio"                  gorm:"type:varchar(16);not null"`
	CharacterImageURL string    `json:"character_image_url,omitempty" gorm:"type:varchar(1024);not null;default:''"`
	ObjectImageURL    string    `json:"object_image_url,omitempty"    gorm:"type:varchar(1024);not null;default:''"`
	CreditsUsage      int64     `json:"credits_usage"                 gorm:"not null"`
	ExternalJobID     string    `json:"external_job_id"               gorm:"type:varchar(128);not null;uniqueIndex:ux_jobs_kind_external,priority:2"`
	Status            JobStatus `json:"status"                        gorm:"type:varchar(16);not null;index:idx_jobs_feed,priority:2;check:status IN ('processing','success','fail')"`
	ResultURL         string    `json:"result_url,omitempty"          gorm:"type:varchar(1024);not null;default:''"`
	FailCode          string    `json:"fail_code,omitempty"           gorm:"type:varchar(64);not null;default:''"`
	FailMessage       string    `json:"fail_message,omitempty"        gorm:"type:text"`
	CreatedAt         time.Time `json:"created_at"                    gorm:"index:idx_jobs_feed,priority:3;index:idx_jobs_owner,priority:3"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for GenerationJob.
func (GenerationJob) TableName() string { return "generation_jobs" }

// Subscription is the local mirror of a billing-provider subscription.
// Period boundaries are stored as epoch milliseconds.
type Subscription struct {
	ID                 string             `json:"id"                   gorm:"type:char(36);primaryKey"`
	ExternalID         string             `json:"external_id"          gorm:"type:varchar(128);not null;uniqueIndex:ux_subscriptions_external"`
	UserID             string             `json:"user_id"              gorm:"type:varchar(128);not null;index"`
	CustomerID         string             `json:"customer_id"          gorm:"type:varchar(128);not null;default:''"`
	ProductID          string             `json:"product_id"           gorm:"type:varchar(128);not null;default:''"`
	Status             SubscriptionStatus `json:"status"               gorm:"type:varchar(16);not null;check:status IN ('active','cancelled')"`
	CurrentPeriodStart int64              `json:"current_period_start" gorm:"not null;default:0"`
	CurrentPeriodEnd   *int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// WebhookEvent records one inbound webhook delivery. (Provider, EventID) is
// unique so redeliveries can be recognised before any business logic runs.
type WebhookEvent struct {
	ID              string         `json:"id"               gorm:"type:char(36);primaryKey"`
	Provider        string         `json:"provider"         gorm:"type:varchar(32);not null;uniqueIndex:ux_webhook_provider_event,priority:1"`
	EventID         string         `json:"event_id"         gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_provider_event,priority:2"`
	EventType       string         `json:"event_type"       gorm:"type:varchar(64);not null;default:''"`
	Payload         datatypes.JSON `json:"payload"`
	SignatureValid  bool           `json:"signature_valid"  gorm:"not null;default:false"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError string         `json:"processing_error" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }

// Character is a reference image offered on the generation form. A nil
// UserID marks a system character visible to everyone.
type Character struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    *string   `json:"user_id"    gorm:"type:varchar(128);index"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	ImageURL  string    `json:"image_url"  gorm:"type:varchar(1024);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for Character.
func (Character) TableName() string { return "characters" }
