// Package domain defines the persistence models for the comment-to-DM
// automation pipeline: connected accounts, automations, dispatch records,
// rate-limit windows, webhook audit entries, and queued dispatch jobs.
// These types are mapped with GORM and form the core data layer.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// SubscriptionStatus enumerates the billing states an account can be in.
// Billing itself is handled by an external service; the pipeline only reads
// these values through the entitlement check.
type SubscriptionStatus string

const (
	SubscriptionTrial         SubscriptionStatus = "trial"
	SubscriptionActive        SubscriptionStatus = "active"
	SubscriptionExpired       SubscriptionStatus = "expired"
	SubscriptionCancelled     SubscriptionStatus = "cancelled"
	SubscriptionPaymentFailed SubscriptionStatus = "payment_failed"
)

// MediaKind is the type of Instagram media an automation targets.
type MediaKind string

const (
	MediaPost  MediaKind = "post"
	MediaReel  MediaKind = "reel"
	MediaStory MediaKind = "story"
	MediaLive  MediaKind = "live"
)

// AutomationStatus is the lifecycle state of an automation.
type AutomationStatus string

const (
	AutomationActive   AutomationStatus = "active"
	AutomationPaused   AutomationStatus = "paused"
	AutomationDisabled AutomationStatus = "disabled"
)

// MessageKind is the content type of an automation's reply message.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageLink     MessageKind = "link"
	MessageImage    MessageKind = "image"
	MessageVideo    MessageKind = "video"
	MessageDocument MessageKind = "document"
)

// DispatchStatus is the delivery state of a dispatch record.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "pending"
	DispatchSent    DispatchStatus = "sent"
	DispatchFailed  DispatchStatus = "failed"
)

// StringList stores an ordered sequence of strings as a JSON array column.
// Order is significant: the keyword matcher returns the first match.
type StringList []string

// Value implements driver.Valuer by encoding the list as JSON.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner, accepting JSON stored as string or []byte.
// NULL scans to an empty list.
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("StringList: unsupported source type")
	}
}

// Account is a connected Instagram account owned by a platform user.
// Registration, OAuth, and billing live in external services; the pipeline
// reads accounts for entitlement checks, credentials, and sweep jobs.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - InstagramUserID: the platform-side user id; indexed for webhook lookups.
//   - EncryptedAccessToken: AES-GCM sealed Graph API token (may be empty when
//     the account has never connected or has revoked access).
//   - SubscriptionStatus + TrialEndsAt/PeriodEndsAt: entitlement inputs.
//   - Active: account-level kill switch.
type Account struct {
	ID                   string             `json:"id"                  gorm:"type:char(36);primaryKey"`
	Email                string             `json:"email"               gorm:"type:varchar(255);index"`
	InstagramUserID      string             `json:"instagram_user_id"   gorm:"type:varchar(64);index"`
	InstagramUsername    string             `json:"instagram_username"  gorm:"type:varchar(255)"`
	EncryptedAccessToken string             `json:"-"                   gorm:"type:text"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status" gorm:"type:varchar(32);not null;default:'trial';index"`
	TrialEndsAt          *time.Time         `json:"trial_ends_at"`
	PeriodEndsAt         *time.Time         `json:"period_ends_at"`
	Active               bool               `json:"active"              gorm:"not null;default:true"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }

// Automation is a standing rule mapping a target media plus keyword set to a
// reply message. Counters are advisory statistics maintained by the pipeline;
// they are not a correctness gate and tolerate eventual increments.
//
// Keywords are matched in order as substrings of the comment text. The
// message fields are snapshotted into each DispatchRecord at match time, so
// later edits do not change already-queued sends. ReplyVariants, when
// non-empty, are candidate public replies posted to the original comment
// after a successful DM (one picked at random).
type Automation struct {
	ID            string           `json:"id"              gorm:"type:char(36);primaryKey"`
	AccountID     string           `json:"account_id"      gorm:"type:char(36);not null;index"`
	Name          string           `json:"name"            gorm:"type:varchar(255);not null"`
	MediaKind     MediaKind        `json:"media_kind"      gorm:"type:varchar(16);not null;check:media_kind IN ('post','reel','story','live')"`
	MediaID       string           `json:"media_id"        gorm:"type:varchar(64);not null;index"`
	Keywords      StringList       `json:"keywords"        gorm:"type:text;not null"`
	CaseSensitive bool             `json:"case_sensitive"  gorm:"not null;default:false"`
	MessageKind   MessageKind      `json:"message_kind"    gorm:"type:varchar(16);not null;default:'text'"`
	MessageText   string           `json:"message_text"    gorm:"type:text;not null"`
	MessageMedia  string           `json:"message_media_url" gorm:"type:varchar(500)"`
	ReplyVariants StringList       `json:"reply_variants"  gorm:"type:text"`
	Status        AutomationStatus `json:"status"          gorm:"type:varchar(16);not null;default:'active';index;check:status IN ('active','paused','disabled')"`

	// Explicit column names: the default naming strategy would split the
	// DMs prefix into d_ms_*.
	CommentsProcessed int64 `json:"comments_processed" gorm:"not null;default:0"`
	DMsSent           int64 `json:"dms_sent"           gorm:"column:dms_sent;not null;default:0"`
	DMsFailed         int64 `json:"dms_failed"         gorm:"column:dms_failed;not null;default:0"`
	DMsPending        int64 `json:"dms_pending"        gorm:"column:dms_pending;not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Account is the owning account. Automations are removed when the
	// account is deleted.
	Account Account `json:"-" gorm:"foreignKey:AccountID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Automation.
func (Automation) TableName() string { return "automations" }

// DispatchRecord is one matched comment-to-DM attempt. Created by the
// matching engine with status pending; mutated only by the delivery worker.
//
// Two dedup rules hang off this table:
//   - ux_dispatch_live: at most one record in {pending,sent} per
//     (automation, commenter) — the anti-spam guarantee, enforced as a
//     partial unique index so concurrent webhook deliveries cannot both
//     insert a live record.
//   - per-comment sent guard: at most one record per comment id may reach
//     sent, checked by the worker before calling the delivery client.
type DispatchRecord struct {
	ID           string `json:"id"            gorm:"type:char(36);primaryKey"`
	AutomationID string `json:"automation_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_dispatch_live,priority:1,where:status <> 'failed'"`
	AccountID    string `json:"account_id"    gorm:"type:char(36);not null;index"`

	CommenterID       string `json:"commenter_id"       gorm:"type:varchar(64);not null;uniqueIndex:ux_dispatch_live,priority:2"`
	CommenterUsername string `json:"commenter_username" gorm:"type:varchar(255)"`

	CommentID      string `json:"comment_id"      gorm:"type:varchar(64);index"`
	CommentText    string `json:"comment_text"    gorm:"type:text"`
	MatchedKeyword string `json:"matched_keyword" gorm:"type:varchar(255)"`

	Status            DispatchStatus `json:"status"              gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','sent','failed')"`
	MessageBody       string         `json:"message_body"        gorm:"type:text"`
	PlatformMessageID string         `json:"platform_message_id" gorm:"type:varchar(128)"`
	ErrorDetail       string         `json:"error_detail"        gorm:"type:text"`
	RetryCount        int            `json:"retry_count"         gorm:"not null;default:0"`

	CreatedAt time.Time  `json:"created_at" gorm:"index"`
	SentAt    *time.Time `json:"sent_at"`
	FailedAt  *time.Time `json:"failed_at"`

	// Automation is the rule that produced this record. Dispatch records
	// are cascade-deleted with their automation.
	Automation Automation `json:"-" gorm:"foreignKey:AutomationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DispatchRecord.
func (DispatchRecord) TableName() string { return "dispatch_records" }

// RateLimitWindow is a per (account, action kind) rolling counter. Exactly
// one row exists per pair; an expired window is rolled over in place by the
// repo's atomic upsert rather than inserting a sibling row, which keeps the
// "at most one active window" invariant free of insert races.
type RateLimitWindow struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	AccountID   string    `json:"account_id"   gorm:"type:char(36);not null;uniqueIndex:ux_rate_account_action,priority:1"`
	ActionKind  string    `json:"action_kind"  gorm:"type:varchar(50);not null;uniqueIndex:ux_rate_account_action,priority:2"`
	Count       int64     `json:"count"        gorm:"not null;default:0"`
	WindowStart time.Time `json:"window_start" gorm:"not null"`
	WindowEnd   time.Time `json:"window_end"   gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for RateLimitWindow.
func (RateLimitWindow) TableName() string { return "rate_limit_windows" }

// WebhookAuditRecord is an append-mostly log of raw inbound webhook payloads.
// It is written before any business processing and mutated once to record the
// processing outcome. Audit only; never a basis for business logic.
type WebhookAuditRecord struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Kind        string    `json:"kind"         gorm:"type:varchar(100);index"`
	Payload     string    `json:"payload"      gorm:"type:text"`
	Processed   bool      `json:"processed"    gorm:"not null;default:false"`
	ErrorDetail string    `json:"error_detail" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index"`
}

// TableName returns the database table name for WebhookAuditRecord.
func (WebhookAuditRecord) TableName() string { return "webhook_audit_records" }

// DispatchJob is a durable queue entry pointing at a DispatchRecord. Jobs
// survive restarts; the in-process bus only wakes workers up. RunAt implements
// deferral (rate-limit waits, retry backoff); ClaimedAt prevents the due-job
// poller and a live worker from processing the same job concurrently.
type DispatchJob struct {
	ID               string     `json:"id"                 gorm:"type:char(36);primaryKey"`
	DispatchRecordID string     `json:"dispatch_record_id" gorm:"type:char(36);not null;index"`
	RunAt            time.Time  `json:"run_at"             gorm:"not null;index"`
	Attempts         int        `json:"attempts"           gorm:"not null;default:0"`
	Done             bool       `json:"done"               gorm:"not null;default:false;index"`
	ClaimedAt        *time.Time `json:"claimed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for DispatchJob.
func (DispatchJob) TableName() string { return "dispatch_jobs" }
