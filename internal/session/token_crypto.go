package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// KeyEncryptionEnv names the 32-byte (raw or base64) key used to encrypt mirrored API keys.
const KeyEncryptionEnv = "DOCCHAT_APIKEY_KEY"

var errInvalidCiphertext = errors.New("invalid api key ciphertext")

type tokenCipher struct {
	aead cipher.AEAD
}

// newTokenCipherFromEnv returns (nil, nil) when the variable is unset.
func newTokenCipherFromEnv() (*tokenCipher, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEncryptionEnv))
	if raw == "" {
		return nil, nil
	}
	c, err := newTokenCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyEncryptionEnv, err)
	}
	return c, nil
}

func newTokenCipher(raw string) (*tokenCipher, error) {
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &tokenCipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

// seal encrypts plain with a random nonce prefixed to the ciphertext.
func (c *tokenCipher) seal(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *tokenCipher) open(input string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}
