package token

import (
	"time"

	"github.com/driftlabs/mixpool/internal/events"
)

const (
	EventTokenEmitted  events.Type = "ADDRESS_TOKEN_EMITTED"
	EventTokenResolved events.Type = "ADDRESS_TOKEN_RESOLVED"
	EventTokenExpired  events.Type = "ADDRESS_TOKEN_EXPIRED"
)

// TokenEmitted is emitted when a new address token is created.
type TokenEmitted struct {
	TokenID   string     `json:"tokenId"`
	Address   string     `json:"address"`
	Purpose   Purpose    `json:"purpose"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (e TokenEmitted) EventType() events.Type { return EventTokenEmitted }
func (e TokenEmitted) OccurredAt() time.Time  { return e.Timestamp }

// TokenResolved is emitted on every successful resolution.
type TokenResolved struct {
	TokenID    string    `json:"tokenId"`
	Address    string    `json:"address"`
	Purpose    Purpose   `json:"purpose"`
	UsageCount int       `json:"usageCount"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e TokenResolved) EventType() events.Type { return EventTokenResolved }
func (e TokenResolved) OccurredAt() time.Time  { return e.Timestamp }

// TokenExpired is emitted exactly once per token, by whichever path expired it.
type TokenExpired struct {
	TokenID   string       `json:"tokenId"`
	Address   string       `json:"address"`
	Purpose   Purpose      `json:"purpose"`
	Reason    ExpiryReason `json:"reason"`
	Timestamp time.Time    `json:"timestamp"`
}

func (e TokenExpired) EventType() events.Type { return EventTokenExpired }
func (e TokenExpired) OccurredAt() time.Time  { return e.Timestamp }
