package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/famsync/internal/client/store"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/cryptox"
)

// KeyVaultSalt holds the salt of the vault media sealing key.
const KeyVaultSalt = "vault.salt"

const vaultSaltSize = 16

// MetaStore is the local metadata the auth service keeps its state in.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) ([]byte, error)
	SetMeta(ctx context.Context, key string, value []byte) error
	DeleteMeta(ctx context.Context, key string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// AuthService keeps the device identity and the authority credentials.
type AuthService struct {
	meta   MetaStore
	pinger Pinger
}

// NewAuthService builds the service. pinger may be nil when no authority is
// configured.
func NewAuthService(meta MetaStore, pinger Pinger) *AuthService {
	return &AuthService{meta: meta, pinger: pinger}
}

// DeviceID returns the persisted device id, generating it on first use.
func (a *AuthService) DeviceID(ctx context.Context) (string, error) {
	v, err := a.meta.GetMeta(ctx, store.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if len(v) > 0 {
		return string(v), nil
	}

	id := uuid.NewString()
	if err := a.meta.SetMeta(ctx, store.KeyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	return id, nil
}

// SetToken stores the access token presented to the authority.
func (a *AuthService) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", common.ErrValidation)
	}
	return a.meta.SetMeta(ctx, store.KeyAccessToken, []byte(token))
}

// Token returns the stored access token or "" when none is set.
func (a *AuthService) Token(ctx context.Context) (string, error) {
	v, err := a.meta.GetMeta(ctx, store.KeyAccessToken)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (a *AuthService) ClearToken(ctx context.Context) error {
	return a.meta.DeleteMeta(ctx, store.KeyAccessToken)
}

// VaultKey derives the key sealing cached vault media from passphrase. The
// salt is generated once per device and kept in metadata.
func (a *AuthService) VaultKey(ctx context.Context, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", common.ErrValidation)
	}

	salt, err := a.meta.GetMeta(ctx, KeyVaultSalt)
	if err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		salt = cryptox.GenerateRandByteArray(vaultSaltSize)
		if err := a.meta.SetMeta(ctx, KeyVaultSalt, salt); err != nil {
			return nil, fmt.Errorf("failed to save vault salt: %w", err)
		}
	}
	return cryptox.DeriveKey(passphrase, salt), nil
}

// Ping checks that the authority is reachable.
func (a *AuthService) Ping(ctx context.Context) error {
	if a.pinger == nil {
		return fmt.Errorf("%w: no authority configured", common.ErrValidation)
	}
	return a.pinger.Ping(ctx)
}
