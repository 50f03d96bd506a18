// Package credentials seals and unseals Graph API access tokens at rest.
// Tokens are encrypted with AES-256-GCM under a key supplied via
// configuration; the nonce is prepended to the ciphertext and the whole blob
// is base64 encoded for storage in a text column.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/repo"
)

// ErrNoCredential indicates the account has no stored access token.
var ErrNoCredential = errors.New("account has no stored access token")

// Store encrypts, persists, and retrieves per-account access tokens.
type Store struct {
	db  *gorm.DB
	key []byte
}

// NewStore builds a Store over the given 32-byte key. Shorter or longer keys
// are rejected so a misconfigured deployment fails at startup, not at the
// first send.
func NewStore(db *gorm.DB, key []byte) (*Store, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("credentials: key must be 32 bytes, got %d", len(key))
	}
	return &Store{db: db, key: key}, nil
}

// Seal encrypts a plaintext token for storage.
func (s *Store) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed token.
func (s *Store) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("credentials: sealed token too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// AccessToken loads and unseals the token for accountID. Returns
// ErrNoCredential when the account exists but has no token stored.
func (s *Store) AccessToken(ctx context.Context, accountID string) (string, error) {
	acct, err := repo.GetAccount(ctx, s.db, accountID)
	if err != nil {
		return "", err
	}
	if acct.EncryptedAccessToken == "" {
		return "", ErrNoCredential
	}
	return s.Open(acct.EncryptedAccessToken)
}

// SetAccessToken seals and stores a token along with the Instagram identity
// it belongs to.
func (s *Store) SetAccessToken(ctx context.Context, accountID, token, igUserID, igUsername string) error {
	sealed, err := s.Seal(token)
	if err != nil {
		return err
	}
	return repo.UpdateAccountToken(ctx, s.db, accountID, sealed, igUserID, igUsername)
}
