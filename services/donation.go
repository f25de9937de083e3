package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ustawi/donation-gateway/models"
	"github.com/ustawi/donation-gateway/utils"
)

// ErrPersistence hides storage failures from donors.
var ErrPersistence = errors.New("we could not record your donation, please try again")

const (
	numberAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	numberSuffixLen = 6
	numberAttempts  = 3
)

// ValidationErrors maps a request field to its problem.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// DonationRequest is a donor's submission.
type DonationRequest struct {
	Amount             json.Number `json:"amount" form:"amount"`
	Currency           string      `json:"currency" form:"currency"`
	Frequency          string      `json:"frequency" form:"frequency"`
	PaymentMethod      string      `json:"payment_method" form:"payment_method"`
	ProjectDesignation string      `json:"project_designation" form:"project_designation"`
	DonorName          string      `json:"donor_name" form:"donor_name"`
	DonorEmail         string      `json:"donor_email" form:"donor_email"`
	DonorPhone         string      `json:"donor_phone" form:"donor_phone"`
	DonorOrganization  string      `json:"donor_organization" form:"donor_organization"`
	DonorMessage       string      `json:"donor_message" form:"donor_message"`
	IsAnonymous        bool        `json:"is_anonymous" form:"is_anonymous"`
}

// Submission is an accepted donation and what the donor must do next.
// Initiation is nil when the gateway could not start the payment.
type Submission struct {
	Donation   *models.Donation
	Initiation *Initiation
}

// StatusView is the public status of a donation.
type StatusView struct {
	Success       bool            `json:"success"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	Message       string          `json:"message"`
}

// Initiator starts payment for a stored donation.
type Initiator interface {
	Initiate(ctx context.Context, d *models.Donation) (*Initiation, error)
}

// DonationService accepts submissions and hands them to the gateway.
type DonationService struct {
	store     *DonationStore
	initiator Initiator
	currency  string
	maxAmount decimal.Decimal
	log       *utils.Logger
	now       func() time.Time
}

func NewDonationService(store *DonationStore, initiator Initiator, currency string, maxAmount decimal.Decimal, logger *utils.Logger) *DonationService {
	return &DonationService{
		store:     store,
		initiator: initiator,
		currency:  strings.ToUpper(currency),
		maxAmount: maxAmount,
		log:       logger,
		now:       time.Now,
	}
}

// Submit validates req, stores a pending donation and starts payment. A
// validation failure persists nothing. When the donation was stored but the
// gateway failed, the submission is returned together with the error.
func (s *DonationService) Submit(ctx context.Context, req DonationRequest) (*Submission, error) {
	d, verrs := s.build(req)
	if len(verrs) > 0 {
		return nil, verrs
	}

	if err := s.create(ctx, d); err != nil {
		s.log.Error("failed to store donation", utils.Fields{"error": err})
		return nil, ErrPersistence
	}

	s.log.Info("donation created", utils.Fields{
		"donation_id":     d.ID,
		"donation_number": d.DonationNumber,
		"payment_method":  d.PaymentMethod,
	})

	sub := &Submission{Donation: d}
	initiation, err := s.initiator.Initiate(ctx, d)
	if err != nil {
		return sub, err
	}
	sub.Initiation = initiation
	return sub, nil
}

// Status returns the public view of a donation.
func (s *DonationService) Status(ctx context.Context, number string) (*StatusView, error) {
	d, err := s.store.FindByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		Success:       true,
		Status:        d.Status,
		Amount:        d.Amount,
		Currency:      d.Currency,
		PaymentMethod: d.PaymentMethod,
		CreatedAt:     d.CreatedAt,
		CompletedAt:   d.ProcessedAt,
		Message:       models.StatusMessage(d.Status),
	}, nil
}

// create stores d, drawing a new number when one collides.
func (s *DonationService) create(ctx context.Context, d *models.Donation) error {
	var err error
	for i := 0; i < numberAttempts; i++ {
		d.DonationNumber, err = GenerateDonationNumber(s.now())
		if err != nil {
			return err
		}
		err = s.store.Create(ctx, d)
		if !errors.Is(err, ErrDuplicateNumber) {
			return err
		}
		s.log.Warn("donation number collision", utils.Fields{"donation_number": d.DonationNumber})
	}
	return err
}

func (s *DonationService) build(req DonationRequest) (*models.Donation, ValidationErrors) {
	verrs := ValidationErrors{}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount.String()))
	switch {
	case err != nil:
		verrs["amount"] = "amount must be a number"
	case !amount.IsPositive():
		verrs["amount"] = "amount must be greater than zero"
	case !amount.Equal(amount.Round(2)):
		verrs["amount"] = "amount must have at most two decimal places"
	case s.maxAmount.IsPositive() && amount.GreaterThan(s.maxAmount):
		verrs["amount"] = fmt.Sprintf("amount must not exceed %s", s.maxAmount.String())
	}

	frequency := strings.ToLower(strings.TrimSpace(req.Frequency))
	if frequency == "" {
		frequency = models.FrequencyOneTime
	}
	if frequency != models.FrequencyOneTime && frequency != models.FrequencyMonthly {
		verrs["frequency"] = "frequency must be one-time or monthly"
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "mobile_money" {
		method = models.MethodMpesa
	}
	if method != models.MethodCard && method != models.MethodMpesa {
		verrs["payment_method"] = "payment method must be card or mpesa"
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	if len(currency) != 3 {
		verrs["currency"] = "currency must be a three letter code"
	}

	name := strings.TrimSpace(req.DonorName)
	email := strings.TrimSpace(req.DonorEmail)
	phone := strings.TrimSpace(req.DonorPhone)

	if !req.IsAnonymous {
		if name == "" {
			verrs["donor_name"] = "name is required unless donating anonymously"
		}
		if email == "" {
			verrs["donor_email"] = "email is required unless donating anonymously"
		}
	}
	if email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			verrs["donor_email"] = "email is not a valid address"
		}
	}
	if method == models.MethodMpesa && phone == "" {
		verrs["donor_phone"] = "phone number is required for M-Pesa payments"
	}

	if len(verrs) > 0 {
		return nil, verrs
	}

	if req.IsAnonymous {
		name = models.AnonymousDonor
	}

	return &models.Donation{
		Amount:             amount.Round(2),
		Currency:           currency,
		PaymentMethod:      method,
		Frequency:          frequency,
		IsRecurring:        frequency == models.FrequencyMonthly,
		ProjectDesignation: optional(req.ProjectDesignation),
		DonorName:          optional(name),
		DonorEmail:         optional(email),
		DonorPhone:         optional(phone),
		DonorOrganization:  optional(req.DonorOrganization),
		DonorMessage:       strings.TrimSpace(req.DonorMessage),
		IsAnonymous:        req.IsAnonymous,
		Status:             models.StatusPending,
	}, nil
}

// GenerateDonationNumber returns a reference like DON-20250101-ABC123.
func GenerateDonationNumber(now time.Time) (string, error) {
	suffix := make([]byte, numberSuffixLen)
	max := big.NewInt(int64(len(numberAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		suffix[i] = numberAlphabet[n.Int64()]
	}
	return fmt.Sprintf("DON-%s-%s", now.Format("20060102"), suffix), nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
