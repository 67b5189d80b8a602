package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hookci/hookci/internal/store"
)

func TestNewServiceGeneratesAndReusesKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "hookci-encryption.key")

	first, err := NewService(KeyConfig{KeyFile: keyPath})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if first.KeySource() != "file:"+keyPath {
		t.Fatalf("unexpected key source %q", first.KeySource())
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected 0600 key file, got %v", info.Mode().Perm())
	}

	ciphertext, nonce, err := first.Seal([]byte("ghp_token"), "repo_1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	second, err := NewService(KeyConfig{KeyFile: keyPath})
	if err != nil {
		t.Fatalf("NewService (reload): %v", err)
	}
	plaintext, err := second.Open(ciphertext, nonce, "repo_1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plaintext) != "ghp_token" {
		t.Fatalf("unexpected plaintext %q", plaintext)
	}
}

func TestNewServiceKeyFormats(t *testing.T) {
	raw := strings.Repeat("k", 32)
	if _, err := NewService(KeyConfig{Key: raw}); err != nil {
		t.Fatalf("raw key: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	if _, err := NewService(KeyConfig{Key: encoded}); err != nil {
		t.Fatalf("base64 key: %v", err)
	}
	if _, err := NewService(KeyConfig{Key: "short"}); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := NewService(KeyConfig{}); err == nil {
		t.Fatalf("expected error without key or key file")
	}
}

func TestOpenRejectsOtherScope(t *testing.T) {
	service, err := NewService(KeyConfig{Key: strings.Repeat("k", 32)})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ciphertext, nonce, err := service.Seal([]byte("ghp_token"), "repo_1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := service.Open(ciphertext, nonce, "repo_2"); err == nil {
		t.Fatalf("expected open with another scope to fail")
	}
}

func TestDisabledService(t *testing.T) {
	var service *Service
	if _, _, err := service.Seal([]byte("x"), "repo"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestVaultTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	backend, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	service, err := NewService(KeyConfig{Key: strings.Repeat("v", 32)})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	vault := NewVault(backend, service)

	token, err := vault.Token(ctx, "repo_1")
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q, %v", token, err)
	}

	if err := vault.SetToken(ctx, "repo_1", "ghp_secret"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	stored, err := backend.GetRepoCredential(ctx, "repo_1")
	if err != nil {
		t.Fatalf("GetRepoCredential: %v", err)
	}
	if strings.Contains(string(stored.TokenCiphertext), "ghp_secret") {
		t.Fatalf("token stored in plaintext")
	}

	token, err = vault.Token(ctx, "repo_1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "ghp_secret" {
		t.Fatalf("expected ghp_secret, got %q", token)
	}

	if err := vault.SetToken(ctx, "repo_1", ""); err != nil {
		t.Fatalf("SetToken empty: %v", err)
	}
	token, err = vault.Token(ctx, "repo_1")
	if err != nil || token != "" {
		t.Fatalf("expected token removed, got %q, %v", token, err)
	}
}
