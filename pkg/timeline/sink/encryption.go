package sink

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/warden/pkg/domain"
)

// EnvelopeKey is the metadata key that carries the encrypted event.
const EnvelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionSink struct {
	next   Sink
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals events using AES-GCM (Envelope Encryption).
// Only routing fields (id, sequence, timestamp, type, source, severity) stay in the clear.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next Sink) Sink {
		return &encryptionSink{next: next, config: config}
	}
}

func (m *encryptionSink) Publish(ctx context.Context, e domain.Event) error {
	plainText, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt event: %w", err)
	}

	envelope := domain.Event{
		ID:        e.ID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Type:      e.Type,
		Source:    e.Source,
		Severity:  e.Severity,
		Metadata: map[string]any{
			EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
		},
	}
	return m.next.Publish(ctx, envelope)
}

// Open restores an event sealed by the encryption middleware.
func Open(envelope domain.Event, config EncryptionConfig) (domain.Event, error) {
	encryptedStr, ok := envelope.Metadata[EnvelopeKey].(string)
	if !ok {
		return domain.Event{}, errors.New("event is missing encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, config.ActiveKey, config.FallbackKeys)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to decrypt event: %w", err)
	}

	var e domain.Event
	if err := json.Unmarshal(plainText, &e); err != nil {
		return domain.Event{}, fmt.Errorf("failed to unmarshal decrypted event: %w", err)
	}
	return e, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
