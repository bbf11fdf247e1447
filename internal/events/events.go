// Package events delivers outbound notifications to webhook subscribers.
//
// The core ledger and scoring services write events through the
// ledger.Notifier interface; everything about delivery — subscriber
// management, HMAC signing, retries, delivery records — lives here, outside
// the core's control flow. Delivery is fire-and-forget: a failing subscriber
// never blocks or fails the operation that produced the event.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is a registered webhook endpoint.
type Subscription struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	URL       string    `json:"url"        db:"url"`
	Events    []string  `json:"events"     db:"events"`
	Secret    string    `json:"-"          db:"secret"` // never returned in API responses
	Active    bool      `json:"active"     db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event is the JSON body POSTed to subscribers.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"              db:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id" db:"subscription_id"`
	EventType      string    `json:"event_type"      db:"event_type"`
	StatusCode     int       `json:"status_code"     db:"status_code"`
	Attempt        int       `json:"attempt"         db:"attempt"`
	Success        bool      `json:"success"         db:"success"`
	ErrorMessage   string    `json:"error_message"   db:"error_message"`
	DeliveredAt    time.Time `json:"delivered_at"    db:"delivered_at"`
}

// SubscribeRequest is the payload for creating a subscription.
type SubscribeRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required"`
}
