package credentials

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newCredDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("cred_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(&domain.Account{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestNewStore_RejectsBadKeyLength(t *testing.T) {
	db := newCredDB(t)
	if _, err := NewStore(db, []byte("short")); err == nil {
		t.Fatal("short key must be rejected")
	}
	if _, err := NewStore(db, testKey); err != nil {
		t.Fatalf("32-byte key rejected: %v", err)
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	db := newCredDB(t)
	s, err := NewStore(db, testKey)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	sealed, err := s.Seal("IGAAtoken123")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "IGAAtoken123" {
		t.Fatal("sealed token must not equal plaintext")
	}

	plain, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plain != "IGAAtoken123" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestSeal_NonDeterministicNonce(t *testing.T) {
	db := newCredDB(t)
	s, _ := NewStore(db, testKey)

	a, _ := s.Seal("tok")
	b, _ := s.Seal("tok")
	if a == b {
		t.Fatal("two seals of the same token must differ")
	}
}

func TestOpen_WrongKeyFails(t *testing.T) {
	db := newCredDB(t)
	s1, _ := NewStore(db, testKey)
	s2, _ := NewStore(db, []byte("ffffffffffffffffffffffffffffffff"))

	sealed, _ := s1.Seal("tok")
	if _, err := s2.Open(sealed); err == nil {
		t.Fatal("wrong key must fail to open")
	}
}

func TestAccessToken_RoundTripThroughAccount(t *testing.T) {
	db := newCredDB(t)
	s, _ := NewStore(db, testKey)
	ctx := context.Background()

	acct := &domain.Account{ID: "acct-1", Email: "owner@example.com", Active: true}
	if err := db.Create(acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}

	if err := s.SetAccessToken(ctx, acct.ID, "IGAAtok", "ig-1", "owner"); err != nil {
		t.Fatalf("SetAccessToken: %v", err)
	}

	tok, err := s.AccessToken(ctx, acct.ID)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "IGAAtok" {
		t.Fatalf("token mismatch: %q", tok)
	}

	// The stored column never carries plaintext.
	var got domain.Account
	if err := db.First(&got, "id = ?", acct.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.EncryptedAccessToken == "IGAAtok" || got.EncryptedAccessToken == "" {
		t.Fatalf("token not sealed at rest: %q", got.EncryptedAccessToken)
	}
	if got.InstagramUserID != "ig-1" || got.InstagramUsername != "owner" {
		t.Fatalf("identity not stored: %+v", got)
	}
}

func TestAccessToken_NoCredential(t *testing.T) {
	db := newCredDB(t)
	s, _ := NewStore(db, testKey)

	acct := &domain.Account{ID: "acct-1", Email: "owner@example.com", Active: true}
	if err := db.Create(acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}

	_, err := s.AccessToken(context.Background(), acct.ID)
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}
