package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ustawi/donation-gateway/models"
	"github.com/ustawi/donation-gateway/utils"
)

// PaymentProvider is the subset of the Paystack API the donation flow uses.
type PaymentProvider interface {
	InitializeTransaction(ctx context.Context, req models.InitializeRequest) (*models.InitializeResponse, *GatewayReply, error)
	Charge(ctx context.Context, req models.ChargeRequest) (*models.ChargeResponse, *GatewayReply, error)
	VerifyTransaction(ctx context.Context, reference string) (*models.VerifyResponse, *GatewayReply, error)
}

// Initiation actions
const (
	ActionRedirect      = "redirect"
	ActionAwaitApproval = "await_approval"
	ActionCompleted     = "completed"
)

const (
	msgInitiationFailed = "Payment initialization failed. Please try again."
	msgInvalidPhone     = "Payment failed. Please enter a valid Kenyan phone number (254XXXXXXXXX)"
	msgApprovePrompt    = "Please complete the payment authorization on your mobile phone. You will receive an M-Pesa prompt shortly."
	msgCheckPhone       = "Payment initiated. Please check your phone for the M-Pesa prompt."
	msgPaymentCompleted = "Payment completed successfully!"
	testNumberHint      = "test mobile money number"
)

// ErrNotPending is returned when initiation is attempted on a donation that left pending.
var ErrNotPending = errors.New("invalid donation request")

// InitiationError is a donor-facing initiation failure. Declined is set when
// the provider refused the charge and the donation was marked failed.
type InitiationError struct {
	Message  string
	Declined bool
	Err      error
}

func (e *InitiationError) Error() string {
	return e.Message
}

func (e *InitiationError) Unwrap() error {
	return e.Err
}

// Initiation tells the caller what the donor has to do next.
type Initiation struct {
	Action      string `json:"action"`
	RedirectURL string `json:"authorization_url,omitempty"`
	Message     string `json:"message"`
	Status      string `json:"status"`
}

// GatewayOptions are the per-deployment charge settings.
type GatewayOptions struct {
	Currency       string
	CallbackURL    string
	AnonymousEmail string
	MpesaProvider  string
	CountryCode    string
	TestPhone      string
}

// PaymentGateway turns a pending donation into a Paystack charge.
type PaymentGateway struct {
	provider PaymentProvider
	store    *DonationStore
	opts     GatewayOptions
	log      *utils.Logger
	notifier StatusNotifier
}

func NewPaymentGateway(provider PaymentProvider, store *DonationStore, opts GatewayOptions, logger *utils.Logger, notifier StatusNotifier) *PaymentGateway {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PaymentGateway{
		provider: provider,
		store:    store,
		opts:     opts,
		log:      logger,
		notifier: notifier,
	}
}

// Initiate starts payment for a pending donation. Card donations get a
// redirect to the hosted checkout; M-Pesa donations get a phone prompt.
func (g *PaymentGateway) Initiate(ctx context.Context, d *models.Donation) (*Initiation, error) {
	if d.Status != models.StatusPending {
		return nil, ErrNotPending
	}

	g.log.Info("initializing paystack payment", utils.Fields{
		"donation_id":    d.ID,
		"amount":         d.MinorAmount(),
		"currency":       d.Currency,
		"payment_method": d.PaymentMethod,
	})

	if d.PaymentMethod == models.MethodMpesa {
		return g.initiateMobileMoney(ctx, d)
	}
	return g.initiateCard(ctx, d)
}

func (g *PaymentGateway) initiateCard(ctx context.Context, d *models.Donation) (*Initiation, error) {
	req := models.InitializeRequest{
		Amount:      d.MinorAmount(),
		Email:       d.GatewayEmail(g.opts.AnonymousEmail),
		Currency:    d.Currency,
		Reference:   d.DonationNumber,
		CallbackURL: g.opts.CallbackURL,
		Channels:    []string{"card"},
		Metadata: map[string]string{
			"donation_id":         strconv.FormatUint(uint64(d.ID), 10),
			"donor_name":          deref(d.DonorName),
			"project_designation": deref(d.ProjectDesignation),
			"payment_method":      d.PaymentMethod,
		},
	}

	resp, reply, err := g.provider.InitializeTransaction(ctx, req)
	if err != nil {
		g.log.Error("card initialization failed", utils.Fields{"donation_id": d.ID, "error": err})
		return nil, &InitiationError{Message: msgInitiationFailed, Err: err}
	}

	if !reply.OK() || !resp.Status {
		// A 4xx with status:false is the provider refusing the request
		declined := reply.StatusCode < 500
		if declined {
			g.transition(ctx, d, models.StatusFailed, Changes{GatewayResponse: reply.Body})
		}
		msg := resp.Message
		if msg == "" {
			msg = "Payment initialization failed"
		}
		g.log.Warn("card initialization rejected", utils.Fields{
			"donation_id": d.ID,
			"http_status": reply.StatusCode,
			"message":     msg,
		})
		return nil, &InitiationError{Message: "Payment initialization failed: " + msg, Declined: declined}
	}

	if resp.Data.AuthorizationURL == "" {
		g.log.Error("card initialization missing authorization url", utils.Fields{"donation_id": d.ID})
		return nil, &InitiationError{Message: msgInitiationFailed}
	}

	access := resp.Data.AccessCode
	checkout := resp.Data.AuthorizationURL
	if !g.transition(ctx, d, models.StatusProcessing, Changes{
		GatewayTransactionID: &access,
		CheckoutURL:          &checkout,
		GatewayResponse:      reply.Body,
	}) {
		return nil, &InitiationError{Message: msgInitiationFailed}
	}

	return &Initiation{
		Action:      ActionRedirect,
		RedirectURL: checkout,
		Message:     "Redirecting to secure checkout.",
		Status:      models.StatusProcessing,
	}, nil
}

func (g *PaymentGateway) initiateMobileMoney(ctx context.Context, d *models.Donation) (*Initiation, error) {
	phone := NormalizePhone(deref(d.DonorPhone), g.opts.CountryCode)
	if phone == "" {
		return nil, &InitiationError{Message: "Phone number is required for M-Pesa payments."}
	}

	g.log.Info("initiating m-pesa payment", utils.Fields{
		"phone":     phone,
		"amount":    d.MinorAmount(),
		"reference": d.DonationNumber,
	})

	id := strconv.FormatUint(uint64(d.ID), 10)
	req := models.ChargeRequest{
		Amount:    d.MinorAmount(),
		Email:     d.GatewayEmail(g.opts.AnonymousEmail),
		Currency:  d.Currency,
		Reference: d.DonationNumber,
		MobileMoney: models.MobileMoney{
			Phone:    phone,
			Provider: g.opts.MpesaProvider,
		},
		Metadata: models.ChargeMetadata{
			DonationID:         d.ID,
			DonorName:          deref(d.DonorName),
			ProjectDesignation: deref(d.ProjectDesignation),
			CustomFields: []models.CustomField{
				{DisplayName: "Donation ID", VariableName: "donation_id", Value: id},
			},
		},
	}

	resp, reply, err := g.provider.Charge(ctx, req)
	if reply == nil {
		g.log.Error("m-pesa charge request failed", utils.Fields{"donation_id": d.ID, "error": err})
		return nil, &InitiationError{Message: msgInitiationFailed, Err: err}
	}

	// Keep whatever came back before judging it
	changes := Changes{GatewayResponse: reply.Body}
	if resp != nil && resp.Data.Reference != "" {
		ref := resp.Data.Reference
		changes.GatewayTransactionID = &ref
	}
	if err := g.store.SaveGatewayResponse(ctx, d.ID, changes); err != nil {
		g.log.Error("failed to save gateway response", utils.Fields{"donation_id": d.ID, "error": err})
	}

	if err != nil {
		g.log.Error("m-pesa charge response unreadable", utils.Fields{"donation_id": d.ID, "http_status": reply.StatusCode, "error": err})
		return nil, &InitiationError{Message: msgInitiationFailed, Err: err}
	}

	message := resp.Data.Message
	if message == "" {
		message = resp.Message
	}

	if strings.Contains(strings.ToLower(message), testNumberHint) {
		if !g.transition(ctx, d, models.StatusFailed, Changes{}) {
			if in := g.settledElsewhere(ctx, d); in != nil {
				return in, nil
			}
		}
		return nil, &InitiationError{
			Message:  fmt.Sprintf("For testing, please use the phone number: %s (Paystack test number for M-Pesa)", g.opts.TestPhone),
			Declined: true,
		}
	}

	if !reply.OK() {
		g.log.Warn("m-pesa charge rejected", utils.Fields{"donation_id": d.ID, "http_status": reply.StatusCode, "message": message})
		if reply.StatusCode == 400 {
			return nil, &InitiationError{Message: msgInvalidPhone}
		}
		return nil, &InitiationError{Message: msgInitiationFailed}
	}

	if resp.Data.Status == models.ChargeFailed || !resp.Status {
		if !g.transition(ctx, d, models.StatusFailed, Changes{}) {
			if in := g.settledElsewhere(ctx, d); in != nil {
				return in, nil
			}
		}
		if message == "" {
			message = "Mobile money charge failed"
		}
		return nil, &InitiationError{Message: message, Declined: true}
	}

	// A webhook may have settled the charge before its response arrived
	if !g.transition(ctx, d, models.StatusProcessing, Changes{}) {
		if in := g.settledElsewhere(ctx, d); in != nil {
			return in, nil
		}
		if d.Status != models.StatusProcessing {
			return nil, &InitiationError{Message: msgInitiationFailed}
		}
	}

	switch resp.Data.Status {
	case models.ChargePayOffline:
		text := resp.Data.DisplayText
		if text == "" {
			text = msgApprovePrompt
		}
		return &Initiation{Action: ActionAwaitApproval, Message: text, Status: models.StatusProcessing}, nil
	case models.ChargeSuccess:
		entry := ledgerEntry(d, &resp.Data, reply.Body)
		applied, _, err := g.store.Complete(ctx, d.ID, reply.Body, entry)
		if err != nil {
			g.log.Error("failed to complete donation", utils.Fields{"donation_id": d.ID, "error": err})
			return nil, &InitiationError{Message: msgInitiationFailed, Err: err}
		}
		if applied {
			d.Status = models.StatusCompleted
			g.notifier.DonationStatusChanged(d)
		}
		return &Initiation{Action: ActionCompleted, Message: msgPaymentCompleted, Status: models.StatusCompleted}, nil
	default:
		return &Initiation{Action: ActionAwaitApproval, Message: msgCheckPhone, Status: models.StatusProcessing}, nil
	}
}

// settledElsewhere re-reads d after a skipped transition. It returns the
// completed initiation when another channel already completed the donation,
// and nil otherwise. d.Status is refreshed either way.
func (g *PaymentGateway) settledElsewhere(ctx context.Context, d *models.Donation) *Initiation {
	fresh, err := g.store.FindByID(ctx, d.ID)
	if err != nil {
		g.log.Error("donation lookup failed", utils.Fields{"donation_id": d.ID, "error": err})
		return nil
	}
	d.Status = fresh.Status
	if fresh.Status != models.StatusCompleted {
		return nil
	}
	g.log.Info("donation completed before the charge response", utils.Fields{"donation_id": d.ID})
	return &Initiation{Action: ActionCompleted, Message: msgPaymentCompleted, Status: models.StatusCompleted}
}

// transition applies a guarded status change, updates d and notifies
// listeners. It reports whether the change was applied.
func (g *PaymentGateway) transition(ctx context.Context, d *models.Donation, to string, changes Changes) bool {
	ok, err := g.store.Transition(ctx, d.ID, to, changes)
	if err != nil {
		g.log.Error("failed to update donation status", utils.Fields{"donation_id": d.ID, "status": to, "error": err})
		return false
	}
	if !ok {
		g.log.Warn("donation status change skipped", utils.Fields{"donation_id": d.ID, "from": d.Status, "to": to})
		return false
	}
	d.Status = to
	g.notifier.DonationStatusChanged(d)
	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
