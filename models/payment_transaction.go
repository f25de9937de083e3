package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Transaction types
const (
	TransactionPayment    = "payment"
	TransactionRefund     = "refund"
	TransactionChargeback = "chargeback"
)

// GatewayPaystack is the only gateway currently wired.
const GatewayPaystack = "paystack"

// PaymentTransaction is an immutable ledger row. A gateway transaction id
// appears at most once per gateway.
type PaymentTransaction struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	DonationID           uint            `gorm:"not null;index" json:"donation_id"`
	TransactionType      string          `gorm:"size:20;not null;index:idx_type_status" json:"transaction_type"`
	Gateway              string          `gorm:"size:30;not null;uniqueIndex:idx_gateway_txn" json:"gateway"`
	GatewayTransactionID string          `gorm:"size:100;not null;uniqueIndex:idx_gateway_txn" json:"gateway_transaction_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency             string          `gorm:"size:3;not null" json:"currency"`
	Status               string          `gorm:"size:20;not null;index:idx_type_status" json:"status"`
	GatewayData          datatypes.JSON  `json:"gateway_data"`
	ProcessedAt          *time.Time      `json:"processed_at"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
