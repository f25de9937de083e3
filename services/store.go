package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ustawi/donation-gateway/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDonationNotFound = errors.New("donation not found")
	ErrDuplicateNumber  = errors.New("donation number already exists")
	ErrNotArchivable    = errors.New("only completed, failed or cancelled donations can be archived")
)

// DonationStore persists donations and their payment ledger.
type DonationStore struct {
	db *gorm.DB
}

func NewDonationStore(db *gorm.DB) *DonationStore {
	return &DonationStore{db: db}
}

// Changes are columns written together with a status transition or on their own.
type Changes struct {
	GatewayTransactionID *string
	CheckoutURL          *string
	GatewayResponse      []byte
	ProcessedAt          *time.Time
}

func (c Changes) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if c.GatewayTransactionID != nil {
		cols["gateway_transaction_id"] = *c.GatewayTransactionID
	}
	if c.CheckoutURL != nil {
		cols["checkout_url"] = *c.CheckoutURL
	}
	if len(c.GatewayResponse) > 0 {
		cols["gateway_response"] = jsonColumn(c.GatewayResponse)
	}
	if c.ProcessedAt != nil {
		cols["processed_at"] = *c.ProcessedAt
	}
	return cols
}

// jsonColumn stores raw as-is when it is valid JSON and as a JSON string otherwise.
func jsonColumn(raw []byte) datatypes.JSON {
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return datatypes.JSON(quoted)
}

// Create inserts a new donation.
func (s *DonationStore) Create(ctx context.Context, d *models.Donation) error {
	err := s.db.WithContext(ctx).Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateNumber
	}
	return err
}

// FindByNumber looks a donation up by its public reference.
func (s *DonationStore) FindByNumber(ctx context.Context, number string) (*models.Donation, error) {
	var d models.Donation
	if err := s.db.WithContext(ctx).Where("donation_number = ?", number).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *DonationStore) FindByID(ctx context.Context, id uint) (*models.Donation, error) {
	var d models.Donation
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return &d, nil
}

// SaveGatewayResponse records gateway data without touching the status.
// Donations that already reached a final status keep their payload.
func (s *DonationStore) SaveGatewayResponse(ctx context.Context, id uint, changes Changes) error {
	cols := changes.columns()
	if len(cols) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Donation{}).
		Where("id = ? AND status IN ?", id, []string{models.StatusPending, models.StatusProcessing}).
		Updates(cols).Error
}

// Transition moves a donation to status `to` only if its current status is an
// allowed predecessor. It reports whether a row changed.
func (s *DonationStore) Transition(ctx context.Context, id uint, to string, changes Changes) (bool, error) {
	return transition(s.db.WithContext(ctx), id, to, changes)
}

func transition(tx *gorm.DB, id uint, to string, changes Changes) (bool, error) {
	from := models.AllowedFrom(to)
	if len(from) == 0 {
		return false, fmt.Errorf("no transition into status %q", to)
	}

	cols := changes.columns()
	cols["status"] = to
	res := tx.Model(&models.Donation{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Complete marks a donation completed and records its ledger entry in one
// transaction. A pending donation passes through processing first. applied
// reports the status change, recorded the ledger insert.
func (s *DonationStore) Complete(ctx context.Context, id uint, raw []byte, txn *models.PaymentTransaction) (applied bool, recorded bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := transition(tx, id, models.StatusProcessing, Changes{}); err != nil {
			return err
		}

		now := time.Now()
		ok, err := transition(tx, id, models.StatusCompleted, Changes{GatewayResponse: raw, ProcessedAt: &now})
		if err != nil {
			return err
		}
		applied = ok

		if txn != nil && txn.GatewayTransactionID != "" {
			recorded, err = recordTransaction(tx, txn)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return applied, recorded, nil
}

// RecordTransaction inserts a ledger row unless one already exists for the
// same gateway transaction id.
func (s *DonationStore) RecordTransaction(ctx context.Context, txn *models.PaymentTransaction) (bool, error) {
	return recordTransaction(s.db.WithContext(ctx), txn)
}

func recordTransaction(tx *gorm.DB, txn *models.PaymentTransaction) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(txn)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Transactions lists the ledger rows of a donation, newest first.
func (s *DonationStore) Transactions(ctx context.Context, donationID uint) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := s.db.WithContext(ctx).
		Where("donation_id = ?", donationID).
		Order("created_at desc").
		Find(&txns).Error
	return txns, err
}

// ListStale returns non-terminal donations created before cutoff, oldest first.
func (s *DonationStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Donation, error) {
	if limit <= 0 {
		limit = 100
	}
	var donations []models.Donation
	err := s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []string{models.StatusPending, models.StatusProcessing}, cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&donations).Error
	return donations, err
}

// Archive soft-archives a terminal donation. Rows are never hard-deleted.
func (s *DonationStore) Archive(ctx context.Context, number string) error {
	d, err := s.FindByNumber(ctx, number)
	if err != nil {
		return err
	}
	if !d.IsTerminal() {
		return ErrNotArchivable
	}
	return s.db.WithContext(ctx).Delete(d).Error
}
