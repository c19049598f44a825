package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"flint/internal/crypto"
	"flint/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TestEncryptionKey is a fixed 32-byte key for tests.
const TestEncryptionKey = "flint-test-key-0123456789abcdef!"

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// UniqueID returns a prefixed identifier unique within the test binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, nextID())
}

// NewEncryptor returns an Encryptor with the test key.
func NewEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	enc, err := crypto.NewEncryptor(TestEncryptionKey)
	if err != nil {
		t.Fatalf("failed to build encryptor: %v", err)
	}
	return enc
}

// CreateTestCredential stores an encrypted credential for userID.
func CreateTestCredential(t *testing.T, db *gorm.DB, enc *crypto.Encryptor, provider models.Provider, userID string) *models.UserCredential {
	t.Helper()

	secret := UniqueID("secret")
	sealed, err := enc.Encrypt(secret)
	if err != nil {
		t.Fatalf("failed to encrypt secret: %v", err)
	}
	cred := &models.UserCredential{
		LocalUserID:      userID,
		Provider:         provider,
		RemoteUserID:     "remote-" + userID,
		SecretCiphertext: sealed,
	}
	if err := db.Create(cred).Error; err != nil {
		t.Fatalf("failed to create test credential: %v", err)
	}
	cred.Secret = secret
	return cred
}

// CreateTestConnection creates an enabled connection for userID.
func CreateTestConnection(t *testing.T, db *gorm.DB, provider models.Provider, userID string) *models.Connection {
	t.Helper()

	conn := &models.Connection{
		ID:          UniqueID("auth"),
		LocalUserID: userID,
		Provider:    provider,
		BrokerName:  "Test Brokerage",
	}
	if err := db.Create(conn).Error; err != nil {
		t.Fatalf("failed to create test connection: %v", err)
	}
	return conn
}

// CreateTestAccount creates an active account under conn.
func CreateTestAccount(t *testing.T, db *gorm.DB, conn *models.Connection) *models.Account {
	t.Helper()

	account := &models.Account{
		ID:           UniqueID("acct"),
		ConnectionID: conn.ID,
		LocalUserID:  conn.LocalUserID,
		Provider:     conn.Provider,
		Institution:  conn.BrokerName,
		Name:         "Test Account",
		NumberMasked: "****1234",
		Type:         "individual",
		Status:       models.AccountStatusActive,
		Currency:     "USD",
		TotalBalance: decimal.NewFromInt(1000),
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return account
}

// CreateTestPosition creates a position row for accountID.
func CreateTestPosition(t *testing.T, db *gorm.DB, accountID, symbol string) *models.Position {
	t.Helper()

	position := &models.Position{
		AccountID:   accountID,
		Symbol:      symbol,
		Quantity:    decimal.NewFromInt(10),
		LastPrice:   decimal.NewFromInt(100),
		MarketValue: decimal.NewFromInt(1000),
		Currency:    "USD",
		LastUpdated: time.Now(),
	}
	if err := db.Create(position).Error; err != nil {
		t.Fatalf("failed to create test position: %v", err)
	}
	return position
}

// CreateTestGoal creates an active savings goal.
func CreateTestGoal(t *testing.T, db *gorm.DB, userID string, linkedAccountID *string) *models.Goal {
	t.Helper()

	goal := &models.Goal{
		UserID:          userID,
		Type:            models.GoalTypeSavings,
		Name:            fmt.Sprintf("Test Goal %d", nextID()),
		TargetAmount:    decimal.NewFromInt(5000),
		LinkedAccountID: linkedAccountID,
		Status:          models.GoalStatusActive,
	}
	if err := db.Create(goal).Error; err != nil {
		t.Fatalf("failed to create test goal: %v", err)
	}
	return goal
}
