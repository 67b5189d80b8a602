package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrDisabled = errors.New("credential encryption is disabled")

// KeyConfig selects the encryption key. Key wins over KeyFile.
type KeyConfig struct {
	// Key is 32 raw bytes or base64 of 32 bytes.
	Key string
	// KeyFile is read, or generated on first run when missing.
	KeyFile string
}

// Service seals repository tokens for at-rest storage with AES-256-GCM.
type Service struct {
	aead   cipher.AEAD
	source string
}

// NewService initializes the encryption service from cfg.
func NewService(cfg KeyConfig) (*Service, error) {
	if raw := strings.TrimSpace(cfg.Key); raw != "" {
		key, err := parseKey(raw, "encryption key")
		if err != nil {
			return nil, err
		}
		return newServiceWithKey(key, "config")
	}

	keyPath := strings.TrimSpace(cfg.KeyFile)
	if keyPath == "" {
		return nil, fmt.Errorf("missing encryption key file path")
	}

	key, err := loadOrCreateKeyFile(keyPath)
	if err != nil {
		return nil, err
	}
	return newServiceWithKey(key, "file:"+keyPath)
}

func newServiceWithKey(key []byte, source string) (*Service, error) {
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	return &Service{aead: aead, source: source}, nil
}

func parseKey(value, source string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err == nil && len(decoded) == 32 {
		return decoded, nil
	}

	if len(value) == 32 {
		return []byte(value), nil
	}

	return nil, fmt.Errorf("%s must be 32 raw bytes or base64 for 32 bytes", source)
}

func loadOrCreateKeyFile(path string) ([]byte, error) {
	existing, err := os.ReadFile(path)
	if err == nil {
		return parseKey(strings.TrimSpace(string(existing)), "key file "+path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed reading key file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed creating key dir: %w", err)
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed generating encryption key: %w", err)
	}

	// O_EXCL so two processes racing on first start agree on one key.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return loadOrCreateKeyFile(path)
		}
		return nil, fmt.Errorf("failed creating key file: %w", err)
	}
	if _, err := file.WriteString(base64.StdEncoding.EncodeToString(key) + "\n"); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed writing key file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed closing key file: %w", err)
	}

	return key, nil
}

// Enabled reports whether encryption is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.aead != nil
}

// KeySource returns where the encryption key was loaded from.
func (s *Service) KeySource() string {
	if s == nil {
		return ""
	}
	return s.source
}

// Seal encrypts plaintext bound to scope, so a ciphertext copied to another
// repo id fails to open.
func (s *Service) Seal(plaintext []byte, scope string) (ciphertext, nonce []byte, err error) {
	if !s.Enabled() {
		return nil, nil, ErrDisabled
	}

	nonce = make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed generating nonce: %w", err)
	}

	return s.aead.Seal(nil, nonce, plaintext, []byte(scope)), nonce, nil
}

// Open decrypts data sealed for scope.
func (s *Service) Open(ciphertext, nonce []byte, scope string) ([]byte, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	if len(nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(scope))
	if err != nil {
		return nil, fmt.Errorf("failed decrypting credential: %w", err)
	}
	return plaintext, nil
}
