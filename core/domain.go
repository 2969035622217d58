package core

import (
	"encoding/json"
	"strings"
	"time"
)

type DispatchStatus string

const (
	DispatchStatusQueued DispatchStatus = "queued"
	DispatchStatusSent   DispatchStatus = "sent"
	DispatchStatusFailed DispatchStatus = "failed"
	DispatchStatusDead   DispatchStatus = "dead"
)

func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchStatusQueued, DispatchStatusSent, DispatchStatusFailed, DispatchStatusDead:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a record in this status is never retried again.
func (s DispatchStatus) IsTerminal() bool {
	return s == DispatchStatusSent || s == DispatchStatusDead
}

// Retryable reports whether the worker may still select a record in this status.
func (s DispatchStatus) Retryable() bool {
	return s == DispatchStatusQueued || s == DispatchStatusFailed
}

func ParseDispatchStatus(value string) (DispatchStatus, bool) {
	status := DispatchStatus(strings.ToLower(strings.TrimSpace(value)))
	return status, status.Valid()
}

// DispatchRecord is one outbound webhook and every delivery attempt made for it.
// Payload holds the exact bytes that were signed and are sent on the wire.
type DispatchRecord struct {
	ID             string          `json:"id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	TargetURL      string          `json:"target_url"`
	Signature      string          `json:"signature"`
	Status         DispatchStatus  `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	LastStatusCode int             `json:"last_status_code,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	ReplayOf       string          `json:"replay_of,omitempty"`
	LeaseOwner     string          `json:"-"`
	LeaseExpiresAt *time.Time      `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PayloadMap decodes the stored payload bytes.
func (r DispatchRecord) PayloadMap() (map[string]any, error) {
	out := map[string]any{}
	if len(r.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DueAt reports whether the record is eligible for a delivery attempt at now.
func (r DispatchRecord) DueAt(now time.Time, maxRetries int) bool {
	if !r.Status.Retryable() {
		return false
	}
	if maxRetries > 0 && r.Attempts >= maxRetries {
		return false
	}
	if r.NextRetryAt != nil && r.NextRetryAt.After(now) {
		return false
	}
	return true
}

type EnqueueRequest struct {
	EventType string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	TargetURL string         `json:"targetUrl,omitempty"`
}

type DispatchFilter struct {
	Status    DispatchStatus
	EventType string
	Limit     int
	Offset    int
}

type DispatchPage struct {
	Items  []DispatchRecord `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// ClaimRequest leases due records to one worker until LeaseUntil.
type ClaimRequest struct {
	Now        time.Time
	Limit      int
	MaxRetries int
	Owner      string
	LeaseUntil time.Time
}

// AttemptUpdate is the outcome of one delivery attempt, applied only while
// Owner still holds the lease.
type AttemptUpdate struct {
	ID          string
	Owner       string
	Status      DispatchStatus
	Attempts    int
	LastError   string
	StatusCode  int
	NextRetryAt *time.Time
	UpdatedAt   time.Time
}

type TickStats struct {
	Skipped   bool `json:"skipped"`
	Claimed   int  `json:"claimed"`
	Sent      int  `json:"sent"`
	Retried   int  `json:"retried"`
	Dead      int  `json:"dead"`
	LeaseLost int  `json:"lease_lost"`
}

func (s TickStats) Add(other TickStats) TickStats {
	s.Claimed += other.Claimed
	s.Sent += other.Sent
	s.Retried += other.Retried
	s.Dead += other.Dead
	s.LeaseLost += other.LeaseLost
	return s
}

// Delivery is a single signed POST handed to a Deliverer.
type Delivery struct {
	DispatchID string
	EventType  string
	URL        string
	Body       []byte
	Signature  string
	Attempt    int
	Headers    map[string]string
}

type DeliveryResult struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// IsSuccessStatus treats only 2xx responses as delivered.
func IsSuccessStatus(code int) bool {
	return code >= 200 && code <= 299
}

// AttemptEvent describes a finished delivery attempt for hooks.
type AttemptEvent struct {
	Record     DispatchRecord
	Previous   DispatchStatus
	StatusCode int
	Err        error
	Duration   time.Duration
}

type InboundRequest struct {
	Source   string
	Headers  map[string]string
	Body     []byte
	Metadata map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Event      string
	Metadata   map[string]any
}

const (
	InboundDeliveryPending   = "pending"
	InboundDeliveryProcessed = "processed"
	InboundDeliveryFailed    = "failed"
)

// InboundDelivery tracks one received webhook by the sender's delivery id.
type InboundDelivery struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	DeliveryID string    `json:"delivery_id"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
