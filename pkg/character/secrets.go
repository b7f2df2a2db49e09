package character

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
)

// EncryptedPrefix marks a secret value encrypted with Encrypt.
const EncryptedPrefix = "enc:v1:"

const keyInfo = "aion character secrets"

func deriveKey(salt string) ([]byte, error) {
	if salt == "" {
		return nil, errors.Newf(errors.CodeConfiguration, "secret salt is required to decrypt secrets")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(salt), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func gcm(salt string) (cipher.AEAD, error) {
	key, err := deriveKey(salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with a key derived from salt.
func Encrypt(plaintext, salt string) (string, error) {
	aead, err := gcm(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without EncryptedPrefix
// are returned unchanged.
func Decrypt(value, salt string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", errors.New(errors.CodeConfiguration, "decode secret", err)
	}
	aead, err := gcm(salt)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.Newf(errors.CodeConfiguration, "secret is truncated")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.New(errors.CodeConfiguration, "decrypt secret", err)
	}
	return string(plain), nil
}

// DecryptSecrets decrypts c.Secrets and string values of c.Settings["secrets"] in place.
func DecryptSecrets(c *core.Character, salt string) error {
	for k, v := range c.Secrets {
		plain, err := Decrypt(v, salt)
		if err != nil {
			return errors.As(err).WithContext("secret", k)
		}
		c.Secrets[k] = plain
	}
	nested, ok := c.Settings["secrets"].(map[string]any)
	if !ok {
		return nil
	}
	for k, v := range nested {
		s, ok := v.(string)
		if !ok {
			continue
		}
		plain, err := Decrypt(s, salt)
		if err != nil {
			return errors.As(err).WithContext("secret", k)
		}
		nested[k] = plain
	}
	return nil
}
