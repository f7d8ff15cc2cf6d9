// The encrypted secrets file uses a binary envelope:
//
//	[0..31]   32-byte Argon2id salt
//	[32..43]  12-byte AES-GCM nonce
//	[44..N]   AES-256-GCM ciphertext + 16-byte auth tag
//
// The passphrase is read from the SECRETS_KEY environment variable and
// derived into a 256-bit key with Argon2id. Passphrase bytes, the derived
// key and the plaintext are zeroed after use.

package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Argon2id parameters (OWASP recommended).
const (
	Argon2Time    = 1         // iterations
	Argon2Memory  = 64 * 1024 // 64 MiB
	Argon2Threads = 4         // parallelism
	Argon2KeyLen  = 32        // 256 bits for AES-256
	SaltSize      = 32        // bytes
	NonceSize     = 12        // standard GCM nonce
)

// KeyEnvVar names the environment variable holding the passphrase.
const KeyEnvVar = "SECRETS_KEY"

// minFileSize is salt + nonce + GCM tag.
const minFileSize = SaltSize + NonceSize + 16

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// secretsYAML is the decrypted payload.
type secretsYAML struct {
	Secrets map[string]string `yaml:"secrets"`
}

// Seal encrypts plaintext into the envelope format.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	envelope := make([]byte, 0, SaltSize+NonceSize+len(ciphertext))
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ciphertext...)
	return envelope, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	passphraseBytes := []byte(passphrase)
	key := argon2.IDKey(passphraseBytes, salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
	clear(passphraseBytes)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// LoadFile decrypts the secrets file at path into a MemoryStore. Error
// messages are deliberately generic so that no key material or file
// content leaks into logs.
func LoadFile(path string, logger *slog.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if path == "" {
		return nil, errors.New("load secrets: no file configured")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New("load secrets: file not found")
	}
	if info.Mode().Perm()&0o377 != 0 {
		logger.Warn("secrets file has overly permissive permissions")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("load secrets: file not found")
	}
	if len(data) < minFileSize {
		return nil, errors.New("load secrets: file too small")
	}

	passphrase := os.Getenv(KeyEnvVar)
	if passphrase == "" {
		return nil, errors.New("load secrets: decryption key not provided")
	}

	salt := data[:SaltSize]
	nonce := data[SaltSize : SaltSize+NonceSize]
	ciphertext := data[SaltSize+NonceSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, errors.New("load secrets: decryption failed")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("load secrets: decryption failed")
	}

	substituted := envVarPattern.ReplaceAllStringFunc(string(plaintext), func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
	clear(plaintext)

	var sf secretsYAML
	if err := yaml.Unmarshal([]byte(substituted), &sf); err != nil {
		return nil, errors.New("load secrets: invalid format")
	}
	if len(sf.Secrets) == 0 {
		return nil, errors.New("load secrets: no secrets defined")
	}
	for k, v := range sf.Secrets {
		if k == "" || v == "" {
			return nil, errors.New("load secrets: empty secret key or value")
		}
	}

	logger.Info("secrets file loaded", "count", len(sf.Secrets))
	return NewMemoryStore(sf.Secrets), nil
}
