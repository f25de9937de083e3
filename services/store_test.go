package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ustawi/donation-gateway/models"
)

func ledgerRow(donationID uint, gatewayID string) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		DonationID:           donationID,
		TransactionType:      models.TransactionPayment,
		Gateway:              models.GatewayPaystack,
		GatewayTransactionID: gatewayID,
		Amount:               decimal.RequireFromString("500"),
		Currency:             "KES",
		Status:               models.StatusCompleted,
	}
}

func TestDonationStore_CreateDuplicateNumber(t *testing.T) {
	store := newTestStore(t)
	seedDonation(t, store, "DON-20250101-AAAAAA", models.MethodCard, models.StatusPending)

	dup := &models.Donation{
		DonationNumber: "DON-20250101-AAAAAA",
		Amount:         decimal.RequireFromString("10"),
		Currency:       "KES",
		PaymentMethod:  models.MethodCard,
		Frequency:      models.FrequencyOneTime,
		Status:         models.StatusPending,
	}
	err := store.Create(context.Background(), dup)
	if !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
}

func TestDonationStore_FindByNumberNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.FindByNumber(context.Background(), "DON-MISSING"); !errors.Is(err, ErrDonationNotFound) {
		t.Fatalf("expected ErrDonationNotFound, got %v", err)
	}
	if _, err := store.FindByID(context.Background(), 42); !errors.Is(err, ErrDonationNotFound) {
		t.Fatalf("expected ErrDonationNotFound, got %v", err)
	}
}

func TestDonationStore_Transition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-BBBBBB", models.MethodCard, models.StatusPending)

	tests := []struct {
		name string
		to   string
		want bool
	}{
		{"pending cannot jump to completed", models.StatusCompleted, false},
		{"pending to processing", models.StatusProcessing, true},
		{"processing to processing is not an edge", models.StatusProcessing, false},
		{"processing to failed", models.StatusFailed, true},
		{"failed is terminal", models.StatusCancelled, false},
		{"failed never completes", models.StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Transition(ctx, d.ID, tt.to, Changes{})
			if err != nil {
				t.Fatalf("Transition() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Transition(%s) = %v, want %v", tt.to, got, tt.want)
			}
		})
	}

	fresh, err := store.FindByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if fresh.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", fresh.Status)
	}
}

func TestDonationStore_TransitionIntoPendingRejected(t *testing.T) {
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-CCCCCC", models.MethodCard, models.StatusPending)
	if _, err := store.Transition(context.Background(), d.ID, models.StatusPending, Changes{}); err == nil {
		t.Fatal("expected an error for a transition into pending")
	}
}

func TestDonationStore_TransitionWritesChanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-DDDDDD", models.MethodCard, models.StatusPending)

	access := "acc_123"
	checkout := "https://checkout.paystack.com/acc_123"
	ok, err := store.Transition(ctx, d.ID, models.StatusProcessing, Changes{
		GatewayTransactionID: &access,
		CheckoutURL:          &checkout,
		GatewayResponse:      []byte(`{"status":true}`),
	})
	if err != nil || !ok {
		t.Fatalf("Transition() = %v, %v", ok, err)
	}

	fresh, _ := store.FindByID(ctx, d.ID)
	if fresh.GatewayTransactionID == nil || *fresh.GatewayTransactionID != access {
		t.Errorf("gateway_transaction_id = %v, want %s", fresh.GatewayTransactionID, access)
	}
	if fresh.CheckoutURL == nil || *fresh.CheckoutURL != checkout {
		t.Errorf("checkout_url = %v, want %s", fresh.CheckoutURL, checkout)
	}
	if string(fresh.GatewayResponse) != `{"status":true}` {
		t.Errorf("gateway_response = %s", fresh.GatewayResponse)
	}
}

func TestDonationStore_SaveGatewayResponseKeepsStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-EEEEEE", models.MethodMpesa, models.StatusPending)

	if err := store.SaveGatewayResponse(ctx, d.ID, Changes{GatewayResponse: []byte("502 Bad Gateway")}); err != nil {
		t.Fatalf("SaveGatewayResponse() error = %v", err)
	}

	fresh, _ := store.FindByID(ctx, d.ID)
	if fresh.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", fresh.Status)
	}
	if string(fresh.GatewayResponse) != `"502 Bad Gateway"` {
		t.Errorf("non-JSON body should be stored as a JSON string, got %s", fresh.GatewayResponse)
	}
}

func TestDonationStore_SaveGatewayResponseSkipsFinalDonations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-EEEEE2", models.MethodMpesa, models.StatusCompleted)

	ref := "late_ref"
	if err := store.SaveGatewayResponse(ctx, d.ID, Changes{GatewayTransactionID: &ref, GatewayResponse: []byte(`{"status":"pay_offline"}`)}); err != nil {
		t.Fatalf("SaveGatewayResponse() error = %v", err)
	}

	fresh, _ := store.FindByID(ctx, d.ID)
	if fresh.GatewayTransactionID != nil {
		t.Errorf("gateway_transaction_id = %s, want unset", *fresh.GatewayTransactionID)
	}
	if strings.Contains(string(fresh.GatewayResponse), "pay_offline") {
		t.Errorf("gateway_response = %s, want untouched", fresh.GatewayResponse)
	}
}

func TestDonationStore_CompleteFromPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-FFFFFF", models.MethodMpesa, models.StatusPending)

	applied, recorded, err := store.Complete(ctx, d.ID, []byte(`{"event":"charge.success"}`), ledgerRow(d.ID, "1001"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !applied || !recorded {
		t.Fatalf("Complete() = applied %v recorded %v, want both true", applied, recorded)
	}

	fresh, _ := store.FindByID(ctx, d.ID)
	if fresh.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", fresh.Status)
	}
	if fresh.ProcessedAt == nil {
		t.Error("processed_at not set")
	}
}

func TestDonationStore_CompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-GGGGGG", models.MethodCard, models.StatusProcessing)

	if _, _, err := store.Complete(ctx, d.ID, nil, ledgerRow(d.ID, "2002")); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	applied, recorded, err := store.Complete(ctx, d.ID, nil, ledgerRow(d.ID, "2002"))
	if err != nil {
		t.Fatalf("second Complete() error = %v", err)
	}
	if applied || recorded {
		t.Errorf("second Complete() = applied %v recorded %v, want both false", applied, recorded)
	}
	if n := countTransactions(t, store, d.ID); n != 1 {
		t.Errorf("transactions = %d, want 1", n)
	}
}

func TestDonationStore_CompleteLeavesTerminalAlone(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-HHHHHH", models.MethodCard, models.StatusCancelled)

	applied, _, err := store.Complete(ctx, d.ID, nil, ledgerRow(d.ID, "3003"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if applied {
		t.Error("a cancelled donation must not complete")
	}
	fresh, _ := store.FindByID(ctx, d.ID)
	if fresh.Status != models.StatusCancelled {
		t.Errorf("status = %s, want cancelled", fresh.Status)
	}
}

func TestDonationStore_RecordTransactionUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDonation(t, store, "DON-20250101-IIIIII", models.MethodCard, models.StatusCompleted)

	first, err := store.RecordTransaction(ctx, ledgerRow(d.ID, "4004"))
	if err != nil || !first {
		t.Fatalf("first RecordTransaction() = %v, %v", first, err)
	}
	second, err := store.RecordTransaction(ctx, ledgerRow(d.ID, "4004"))
	if err != nil {
		t.Fatalf("second RecordTransaction() error = %v", err)
	}
	if second {
		t.Error("duplicate gateway transaction id was inserted")
	}
	other, err := store.RecordTransaction(ctx, ledgerRow(d.ID, "4005"))
	if err != nil || !other {
		t.Fatalf("distinct RecordTransaction() = %v, %v", other, err)
	}
	if n := countTransactions(t, store, d.ID); n != 2 {
		t.Errorf("transactions = %d, want 2", n)
	}
}

func TestDonationStore_ListStale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	old := seedDonation(t, store, "DON-20250101-JJJJJJ", models.MethodMpesa, models.StatusProcessing)
	seedDonation(t, store, "DON-20250101-KKKKKK", models.MethodMpesa, models.StatusPending)
	done := seedDonation(t, store, "DON-20250101-LLLLLL", models.MethodCard, models.StatusCompleted)

	past := time.Now().Add(-2 * time.Hour)
	store.db.Model(&models.Donation{}).Where("id IN ?", []uint{old.ID, done.ID}).Update("created_at", past)

	stale, err := store.ListStale(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStale() error = %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("ListStale() = %+v, want only %s", stale, old.DonationNumber)
	}
}

func TestDonationStore_Archive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	open := seedDonation(t, store, "DON-20250101-MMMMMM", models.MethodCard, models.StatusProcessing)
	closed := seedDonation(t, store, "DON-20250101-NNNNNN", models.MethodCard, models.StatusCompleted)

	if err := store.Archive(ctx, open.DonationNumber); !errors.Is(err, ErrNotArchivable) {
		t.Fatalf("Archive(open) error = %v, want ErrNotArchivable", err)
	}
	if err := store.Archive(ctx, closed.DonationNumber); err != nil {
		t.Fatalf("Archive(closed) error = %v", err)
	}
	if _, err := store.FindByNumber(ctx, closed.DonationNumber); !errors.Is(err, ErrDonationNotFound) {
		t.Errorf("archived donation still visible: %v", err)
	}

	var count int64
	store.db.Unscoped().Model(&models.Donation{}).Where("id = ?", closed.ID).Count(&count)
	if count != 1 {
		t.Errorf("archived row count = %d, want 1", count)
	}
}
