// Package domain defines the persistence models for visitor sessions,
// callback leads, and rate-limit windows. These types are mapped with GORM
// and form the core data layer of the callback gateway.
package domain

import (
	"time"
)

// Session is a visitor session bound to the "sid" cookie. It carries the
// CSRF secret that every submission must echo back and scopes the
// idempotency records created under it.
//
// Fields:
//   - ID: random opaque identifier (also the cookie value).
//   - CSRFToken: 64 hex chars, created once per session.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - ExpiresAt: after this instant the session is replaced.
type Session struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	CSRFToken string    `json:"-"          gorm:"type:char(64);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Lead is an accepted callback request. Exactly one row exists per
// (session, idempotency key); replays of the same key never add rows.
type Lead struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	RequestID      string    `json:"request_id"      gorm:"type:varchar(64);not null;index"`
	SessionID      string    `json:"session_id"      gorm:"type:char(36);not null;index:idx_lead_session_key,priority:1"`
	IdempotencyKey string    `json:"idempotency_key" gorm:"type:varchar(128);index:idx_lead_session_key,priority:2"`
	Name           string    `json:"name"            gorm:"type:varchar(255)"`
	Phone          string    `json:"phone"           gorm:"type:varchar(32);not null"`
	Email          string    `json:"email"           gorm:"type:varchar(255)"`
	Square         string    `json:"square"          gorm:"type:varchar(64)"`
	Lang           string    `json:"lang"            gorm:"type:varchar(8)"`
	CurrentURL     string    `json:"current_url"     gorm:"type:text"`
	UTMSource      string    `json:"utm_source"      gorm:"type:varchar(255)"`
	UTMMedium      string    `json:"utm_medium"      gorm:"type:varchar(255)"`
	UTMCampaign    string    `json:"utm_campaign"    gorm:"type:varchar(255)"`
	UTMTerm        string    `json:"utm_term"        gorm:"type:varchar(255)"`
	UTMContent     string    `json:"utm_content"     gorm:"type:varchar(255)"`
	RemoteIP       string    `json:"remote_ip"       gorm:"type:varchar(64)"`
	CreatedAt      time.Time `json:"created_at"      gorm:"index"`
}

// TableName returns the database table name for Lead.
func (Lead) TableName() string { return "leads" }

// RateWindow is the persisted submission counter of one client identity.
type RateWindow struct {
	Key         string    `gorm:"type:varchar(128);primaryKey"`
	Count       int       `gorm:"not null"`
	WindowStart time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for RateWindow.
func (RateWindow) TableName() string { return "rate_windows" }
