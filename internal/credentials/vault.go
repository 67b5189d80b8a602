package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/hookci/hookci/internal/store"
)

// CredentialStore is the slice of store.Store the vault needs.
type CredentialStore interface {
	UpsertRepoCredential(ctx context.Context, credential *store.RepoCredential) error
	GetRepoCredential(ctx context.Context, repoID string) (*store.RepoCredential, error)
	DeleteRepoCredential(ctx context.Context, repoID string) error
}

// Vault keeps repository access tokens encrypted, keyed by repo id.
type Vault struct {
	store   CredentialStore
	service *Service
}

func NewVault(s CredentialStore, service *Service) *Vault {
	return &Vault{store: s, service: service}
}

// SetToken stores token for repoID. An empty token removes any stored value.
func (v *Vault) SetToken(ctx context.Context, repoID, token string) error {
	if token == "" {
		return v.DeleteToken(ctx, repoID)
	}
	ciphertext, nonce, err := v.service.Seal([]byte(token), repoID)
	if err != nil {
		return err
	}
	if err := v.store.UpsertRepoCredential(ctx, &store.RepoCredential{
		RepoID:          repoID,
		TokenCiphertext: ciphertext,
		TokenNonce:      nonce,
	}); err != nil {
		return fmt.Errorf("failed to save token for repo %s: %w", repoID, err)
	}
	return nil
}

// Token returns the decrypted token for repoID, or "" when none is stored.
func (v *Vault) Token(ctx context.Context, repoID string) (string, error) {
	credential, err := v.store.GetRepoCredential(ctx, repoID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load token for repo %s: %w", repoID, err)
	}
	plaintext, err := v.service.Open(credential.TokenCiphertext, credential.TokenNonce, repoID)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (v *Vault) DeleteToken(ctx context.Context, repoID string) error {
	if err := v.store.DeleteRepoCredential(ctx, repoID); err != nil {
		return fmt.Errorf("failed to delete token for repo %s: %w", repoID, err)
	}
	return nil
}
