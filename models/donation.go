package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Donation statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Payment methods
const (
	MethodCard  = "card"
	MethodMpesa = "mpesa"
)

// Frequencies
const (
	FrequencyOneTime = "one-time"
	FrequencyMonthly = "monthly"
)

// AnonymousDonor is stored as donor_name for anonymous donations.
const AnonymousDonor = "Anonymous"

type Donation struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	DonationNumber       string          `gorm:"size:32;uniqueIndex;not null" json:"donation_number"`
	Amount               decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency             string          `gorm:"size:3;not null;default:KES" json:"currency"`
	PaymentMethod        string          `gorm:"size:20;index:idx_method_status" json:"payment_method"` // card, mpesa
	Frequency            string          `gorm:"size:20;not null;default:one-time" json:"frequency"`
	IsRecurring          bool            `gorm:"not null;default:false" json:"is_recurring"`
	ProjectDesignation   *string         `gorm:"size:255" json:"project_designation"`
	DonorName            *string         `gorm:"size:255" json:"donor_name"`
	DonorEmail           *string         `gorm:"size:255;index" json:"donor_email"`
	DonorPhone           *string         `gorm:"size:32" json:"donor_phone"`
	DonorOrganization    *string         `gorm:"size:255" json:"donor_organization"`
	DonorMessage         string          `gorm:"type:text" json:"donor_message"`
	IsAnonymous          bool            `gorm:"not null;default:false" json:"is_anonymous"`
	Status               string          `gorm:"size:20;not null;default:pending;index:idx_status_created;index:idx_method_status" json:"status"`
	GatewayTransactionID *string         `gorm:"size:100;index" json:"gateway_transaction_id"`
	CheckoutURL          *string         `gorm:"size:500" json:"checkout_url,omitempty"`
	GatewayResponse      datatypes.JSON  `json:"gateway_response,omitempty"`
	ProcessedAt          *time.Time      `json:"processed_at"`
	ArchivedAt           gorm.DeletedAt  `gorm:"index" json:"-"`
	CreatedAt            time.Time       `gorm:"index:idx_status_created" json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the donation can no longer change status.
func (d *Donation) IsTerminal() bool {
	return IsTerminalStatus(d.Status)
}

// GatewayEmail is the address sent to the gateway; anonymous donors get the placeholder.
func (d *Donation) GatewayEmail(placeholder string) string {
	if d.DonorEmail != nil && *d.DonorEmail != "" {
		return *d.DonorEmail
	}
	return placeholder
}

// MinorAmount converts the stored amount into the gateway's minor currency unit.
func (d *Donation) MinorAmount() int64 {
	return d.Amount.Shift(2).Round(0).IntPart()
}

// IsTerminalStatus reports whether status is completed, failed or cancelled.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions lists the states each status may be reached from.
var transitions = map[string][]string{
	StatusProcessing: {StatusPending},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusPending, StatusProcessing},
	StatusCancelled:  {StatusPending, StatusProcessing},
}

// AllowedFrom returns the statuses a donation may hold before moving to status.
func AllowedFrom(status string) []string {
	return transitions[status]
}

// CanTransition reports whether from -> to is an edge of the donation state machine.
func CanTransition(from, to string) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// StatusMessage is the donor-facing text for a status.
func StatusMessage(status string) string {
	switch status {
	case StatusPending:
		return "Your donation is pending processing."
	case StatusProcessing:
		return "Your donation is being processed. Please complete the payment on your phone."
	case StatusCompleted:
		return "Thank you! Your donation has been successfully received."
	case StatusFailed:
		return "The donation could not be processed. Please try again."
	case StatusCancelled:
		return "The donation was cancelled."
	default:
		return "Unknown status"
	}
}
