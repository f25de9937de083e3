package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ustawi/donation-gateway/models"
	"github.com/ustawi/donation-gateway/utils"
)

var (
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrVerificationFailed = errors.New("transaction verification failed")
	ErrMissingReference   = errors.New("invalid payment reference")
)

// Reconciliation outcomes
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeCancelled    = "cancelled"
	OutcomePending      = "pending"
	OutcomeAlreadyFinal = "already_final"
	OutcomeIgnored      = "ignored"
)

// cancellationPhrases mark a failed charge as donor-cancelled. The match is
// best effort over free text.
var cancellationPhrases = []string{
	"cancelled",
	"canceled",
	"user abort",
	"user declined",
	"user_cancelled",
}

// verifiedFailures are verify statuses that end a donation as failed.
var verifiedFailures = map[string]bool{
	models.ChargeFailed:    true,
	models.ChargeAbandoned: true,
	"reversed":             true,
}

// Reconciliation is the result of applying one gateway event.
type Reconciliation struct {
	Outcome  string
	Donation *models.Donation
	Recorded bool
}

// Reconciler applies callbacks and webhooks to stored donations exactly once.
type Reconciler struct {
	provider PaymentProvider
	store    *DonationStore
	secret   []byte
	log      *utils.Logger
	notifier StatusNotifier
}

func NewReconciler(provider PaymentProvider, store *DonationStore, secretKey string, logger *utils.Logger, notifier StatusNotifier) *Reconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Reconciler{
		provider: provider,
		store:    store,
		secret:   []byte(secretKey),
		log:      logger,
		notifier: notifier,
	}
}

// HandleCallback verifies the transaction behind a donor redirect with the
// gateway and applies the verified result.
func (r *Reconciler) HandleCallback(ctx context.Context, reference string) (*Reconciliation, error) {
	return r.verify(ctx, reference, "callback")
}

// Reverify re-queries the gateway for a donation on demand.
func (r *Reconciler) Reverify(ctx context.Context, reference string) (*Reconciliation, error) {
	return r.verify(ctx, reference, "manual")
}

func (r *Reconciler) verify(ctx context.Context, reference, source string) (*Reconciliation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrMissingReference
	}

	resp, reply, err := r.provider.VerifyTransaction(ctx, reference)
	if err != nil {
		r.log.Error("transaction verification error", utils.Fields{"reference": reference, "source": source, "error": err})
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if !reply.OK() || !resp.Status {
		r.log.Warn("transaction verification rejected", utils.Fields{
			"reference":   reference,
			"source":      source,
			"http_status": reply.StatusCode,
			"message":     resp.Message,
		})
		return nil, ErrVerificationFailed
	}

	d, err := r.store.FindByNumber(ctx, reference)
	if err != nil {
		r.log.Error("donation lookup failed", utils.Fields{"reference": reference, "source": source, "error": err})
		return nil, err
	}

	switch {
	case resp.Data.Status == models.ChargeSuccess:
		return r.complete(ctx, d, &resp.Data, reply.Body)
	case verifiedFailures[resp.Data.Status]:
		return r.fail(ctx, d, models.StatusFailed, reply.Body)
	default:
		r.log.Info("transaction not final yet", utils.Fields{"reference": reference, "gateway_status": resp.Data.Status})
		return &Reconciliation{Outcome: OutcomePending, Donation: d}, nil
	}
}

// VerifySignature checks the hex HMAC-SHA512 of body against signature.
func (r *Reconciler) VerifySignature(body []byte, signature string) bool {
	if len(r.secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, r.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleWebhook authenticates and applies a webhook delivery. Only a bad
// signature should be reported back to the gateway; every other error is
// for logging.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (*Reconciliation, error) {
	if !r.VerifySignature(body, signature) {
		r.log.Warn("invalid paystack webhook signature", utils.Fields{"received": signature})
		return nil, ErrInvalidSignature
	}

	event, err := models.ParseWebhookEvent(body)
	if err != nil {
		r.log.Error("undecodable webhook payload", utils.Fields{"error": err})
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	r.log.Info("paystack webhook event", utils.Fields{"event": event.Kind})

	if !event.Known {
		r.log.Info("unhandled paystack event", utils.Fields{"event": event.Kind})
		return &Reconciliation{Outcome: OutcomeIgnored}, nil
	}

	data := event.Data
	if data.Reference == "" {
		return nil, ErrMissingReference
	}

	d, err := r.store.FindByNumber(ctx, data.Reference)
	if err != nil {
		r.log.Error("donation not found for webhook", utils.Fields{"reference": data.Reference, "event": event.Kind, "error": err})
		return nil, err
	}

	switch event.Kind {
	case models.EventChargeSuccess:
		return r.complete(ctx, d, data, event.Raw)
	default:
		status := models.StatusFailed
		if IsCancellation(data.Message, data.GatewayResponse) {
			status = models.StatusCancelled
		}
		return r.fail(ctx, d, status, event.Raw)
	}
}

func (r *Reconciler) complete(ctx context.Context, d *models.Donation, data *models.TransactionData, raw []byte) (*Reconciliation, error) {
	if d.Status == models.StatusCompleted {
		r.log.Info("donation already marked as completed", utils.Fields{"donation_id": d.ID})
		return &Reconciliation{Outcome: OutcomeAlreadyFinal, Donation: d}, nil
	}

	applied, recorded, err := r.store.Complete(ctx, d.ID, raw, ledgerEntry(d, data, raw))
	if err != nil {
		r.log.Error("failed to complete donation", utils.Fields{"donation_id": d.ID, "error": err})
		return nil, err
	}
	if recorded {
		r.log.Info("payment transaction recorded", utils.Fields{"donation_id": d.ID, "transaction_id": data.ID.String()})
	}

	fresh, err := r.store.FindByID(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if !applied {
		if fresh.Status != models.StatusCompleted {
			r.log.Warn("successful charge for closed donation", utils.Fields{"donation_id": d.ID, "status": fresh.Status})
		}
		return &Reconciliation{Outcome: OutcomeAlreadyFinal, Donation: fresh, Recorded: recorded}, nil
	}

	r.log.Info("donation marked as completed", utils.Fields{"donation_id": d.ID, "amount": d.Amount.String()})
	r.notifier.DonationStatusChanged(fresh)
	return &Reconciliation{Outcome: OutcomeCompleted, Donation: fresh, Recorded: recorded}, nil
}

func (r *Reconciler) fail(ctx context.Context, d *models.Donation, status string, raw []byte) (*Reconciliation, error) {
	if d.IsTerminal() {
		return &Reconciliation{Outcome: OutcomeAlreadyFinal, Donation: d}, nil
	}

	ok, err := r.store.Transition(ctx, d.ID, status, Changes{GatewayResponse: raw})
	if err != nil {
		r.log.Error("failed to update donation status", utils.Fields{"donation_id": d.ID, "status": status, "error": err})
		return nil, err
	}

	fresh, err := r.store.FindByID(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Reconciliation{Outcome: OutcomeAlreadyFinal, Donation: fresh}, nil
	}

	r.log.Info("donation marked as "+status, utils.Fields{"donation_id": d.ID, "reference": d.DonationNumber})
	r.notifier.DonationStatusChanged(fresh)
	return &Reconciliation{Outcome: status, Donation: fresh}, nil
}

// ReconcileStale re-verifies pending and processing donations older than age.
// It returns how many donations reached a final state.
func (r *Reconciler) ReconcileStale(ctx context.Context, age time.Duration, limit int) (int, error) {
	stale, err := r.store.ListStale(ctx, time.Now().Add(-age), limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, d := range stale {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		res, err := r.Reverify(ctx, d.DonationNumber)
		if err != nil {
			continue
		}
		switch res.Outcome {
		case OutcomeCompleted, OutcomeFailed, OutcomeCancelled:
			settled++
		}
	}
	return settled, nil
}

// IsCancellation guesses from gateway free text whether the donor cancelled.
func IsCancellation(message, gatewayResponse string) bool {
	for _, text := range []string{message, gatewayResponse} {
		text = strings.ToLower(text)
		for _, phrase := range cancellationPhrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
	}
	return false
}

// ledgerEntry builds the payment row for a successful gateway transaction.
func ledgerEntry(d *models.Donation, data *models.TransactionData, raw []byte) *models.PaymentTransaction {
	now := time.Now()
	amount := d.Amount
	if data.Amount > 0 {
		amount = decimal.New(data.Amount, -2)
	}
	currency := data.Currency
	if currency == "" {
		currency = d.Currency
	}
	return &models.PaymentTransaction{
		DonationID:           d.ID,
		TransactionType:      models.TransactionPayment,
		Gateway:              models.GatewayPaystack,
		GatewayTransactionID: data.ID.String(),
		Amount:               amount,
		Currency:             currency,
		Status:               models.StatusCompleted,
		GatewayData:          jsonColumn(raw),
		ProcessedAt:          &now,
	}
}
