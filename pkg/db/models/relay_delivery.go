package models

import (
	"time"

	"github.com/bondai/universal-reporter/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RelayDelivery is the audit row written for every forward the relay attempts.
// Identifiers are stored as fingerprints, never in clear text.
type RelayDelivery struct {
	ID                    uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	RequestID             string             `gorm:"column:request_id;not null"`
	OriginDomain          string             `gorm:"column:origin_domain;not null;default:''"`
	IdentifierFingerprint string             `gorm:"column:identifier_fingerprint;not null"`
	OfferAmount           decimal.Decimal    `gorm:"column:offer_amount;type:numeric(12,2);not null"`
	OfferSavingsAmount    decimal.Decimal    `gorm:"column:offer_savings_amount;type:numeric(12,2);not null"`
	UpstreamStatus        int                `gorm:"column:upstream_status;not null"`
	Outcome               enums.RelayOutcome `gorm:"column:outcome;not null"`
	LatencyMS             int64              `gorm:"column:latency_ms;not null"`
	CreatedAt             time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (RelayDelivery) TableName() string {
	return "relay_deliveries"
}
