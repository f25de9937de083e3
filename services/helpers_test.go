package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/ustawi/donation-gateway/models"
	"github.com/ustawi/donation-gateway/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "sk_test_secret"

// MockProvider implements PaymentProvider for testing
type MockProvider struct {
	InitializeFunc func(ctx context.Context, req models.InitializeRequest) (*models.InitializeResponse, *GatewayReply, error)
	ChargeFunc     func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResponse, *GatewayReply, error)
	VerifyFunc     func(ctx context.Context, reference string) (*models.VerifyResponse, *GatewayReply, error)
}

func (m *MockProvider) InitializeTransaction(ctx context.Context, req models.InitializeRequest) (*models.InitializeResponse, *GatewayReply, error) {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, req)
	}
	return nil, nil, ErrGatewayUnavailable
}

func (m *MockProvider) Charge(ctx context.Context, req models.ChargeRequest) (*models.ChargeResponse, *GatewayReply, error) {
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, req)
	}
	return nil, nil, ErrGatewayUnavailable
}

func (m *MockProvider) VerifyTransaction(ctx context.Context, reference string) (*models.VerifyResponse, *GatewayReply, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, reference)
	}
	return nil, nil, ErrGatewayUnavailable
}

// recordingNotifier keeps every status it was told about.
type recordingNotifier struct {
	mu       sync.Mutex
	statuses []string
}

func (n *recordingNotifier) DonationStatusChanged(d *models.Donation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, d.Status)
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.statuses...)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := utils.MigrateDatabase(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *DonationStore {
	t.Helper()
	return NewDonationStore(newTestDB(t))
}

func seedDonation(t *testing.T, store *DonationStore, number, method, status string) *models.Donation {
	t.Helper()
	name := "Jane Donor"
	email := "jane@example.org"
	phone := "0712345678"
	d := &models.Donation{
		DonationNumber: number,
		Amount:         decimal.RequireFromString("500.00"),
		Currency:       "KES",
		PaymentMethod:  method,
		Frequency:      models.FrequencyOneTime,
		DonorName:      &name,
		DonorEmail:     &email,
		DonorPhone:     &phone,
		Status:         status,
	}
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatalf("seed donation: %v", err)
	}
	return d
}

func countTransactions(t *testing.T, store *DonationStore, donationID uint) int {
	t.Helper()
	txns, err := store.Transactions(context.Background(), donationID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return len(txns)
}

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T, event, reference string, id int64, extra map[string]interface{}) []byte {
	t.Helper()
	data := map[string]interface{}{
		"id":        id,
		"reference": reference,
		"status":    "success",
		"amount":    50000,
		"currency":  "KES",
	}
	for k, v := range extra {
		data[k] = v
	}
	body, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	if err != nil {
		t.Fatalf("marshal webhook: %v", err)
	}
	return body
}

func verifyReply(t *testing.T, reference, status string, id int64) (*models.VerifyResponse, *GatewayReply, error) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"status":  true,
		"message": "Verification successful",
		"data": map[string]interface{}{
			"id":        id,
			"reference": reference,
			"status":    status,
			"amount":    50000,
			"currency":  "KES",
		},
	})
	if err != nil {
		t.Fatalf("marshal verify: %v", err)
	}
	var resp models.VerifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal verify: %v", err)
	}
	return &resp, &GatewayReply{StatusCode: 200, Body: body}, nil
}
