package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type dispatchRecord struct {
	bun.BaseModel `bun:"table:webhook_dispatches,alias:wd"`

	ID             string     `bun:"id,pk"`
	EventType      string     `bun:"event_type,notnull"`
	Payload        []byte     `bun:"payload,notnull"`
	TargetURL      string     `bun:"target_url,notnull"`
	Signature      string     `bun:"signature,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	LastError      string     `bun:"last_error,notnull"`
	LastStatusCode int        `bun:"last_status_code,notnull"`
	NextRetryAt    *time.Time `bun:"next_retry_at,nullzero"`
	ReplayOf       string     `bun:"replay_of,notnull"`
	LeaseOwner     string     `bun:"lease_owner,notnull"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type inboundDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_inbound_deliveries,alias:wid"`

	ID         string    `bun:"id,pk"`
	Source     string    `bun:"source,notnull"`
	DeliveryID string    `bun:"delivery_id,notnull"`
	Status     string    `bun:"status,notnull"`
	Attempts   int       `bun:"attempts,notnull"`
	LastError  string    `bun:"last_error,notnull"`
	Payload    []byte    `bun:"payload"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
