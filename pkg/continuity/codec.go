package continuity

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/faults"
	"github.com/storyweave/storyweave/pkg/models"
)

const encryptionAlgorithm = "aes-256-gcm"

// compressedEnvelope wraps a gzip-compressed context payload.
type compressedEnvelope struct {
	Compressed     bool   `json:"compressed"`
	Data           string `json:"data"` // base64(gzip(json))
	OriginalSize   int    `json:"originalSize"`
	CompressedSize int    `json:"compressedSize"`
}

// encryptedEnvelope wraps an encrypted payload. The metadata carries the key
// id so rotation keeps old payloads readable.
type encryptedEnvelope struct {
	Encrypted bool                      `json:"encrypted"`
	Data      string                    `json:"data"` // hex(ciphertext)
	Metadata  models.EncryptionMetadata `json:"encryptionMetadata"`
}

// codec serializes, compresses, and encrypts context payloads.
type codec struct {
	compressThreshold int
	encryption        *config.EncryptionConfig
}

// encode produces the cache payload for a context: JSON, gzip at or above
// the threshold, AES-GCM when the context holds sensitive data.
func (c *codec) encode(cc *models.ConversationContext) ([]byte, error) {
	plain, err := json.Marshal(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize context: %w", err)
	}

	payload := plain
	if len(plain) >= c.compressThreshold {
		payload, err = c.compress(plain)
		if err != nil {
			return nil, err
		}
	}

	if cc.Sensitive() {
		payload, err = c.encrypt(payload)
		if err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// decode reverses encode: unwrap encryption first, then compression.
func (c *codec) decode(payload []byte) (*models.ConversationContext, error) {
	var enc encryptedEnvelope
	if err := json.Unmarshal(payload, &enc); err == nil && enc.Encrypted {
		plain, err := c.decrypt(enc)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	var comp compressedEnvelope
	if err := json.Unmarshal(payload, &comp); err == nil && comp.Compressed {
		plain, err := c.decompress(comp)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	var cc models.ConversationContext
	if err := json.Unmarshal(payload, &cc); err != nil {
		return nil, fmt.Errorf("failed to parse context payload: %w", err)
	}
	return &cc, nil
}

func (c *codec) compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, 6)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := zw.Write(plain); err != nil {
		return nil, fmt.Errorf("failed to compress context: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush gzip writer: %w", err)
	}

	env := compressedEnvelope{
		Compressed:     true,
		Data:           base64.StdEncoding.EncodeToString(buf.Bytes()),
		OriginalSize:   len(plain),
		CompressedSize: buf.Len(),
	}
	return json.Marshal(env)
}

func (c *codec) decompress(env compressedEnvelope) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode compressed payload: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip payload: %w", err)
	}
	defer func() { _ = zr.Close() }()

	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress context: %w", err)
	}
	return plain, nil
}

func (c *codec) encrypt(payload []byte) ([]byte, error) {
	keyID := c.encryption.ActiveKeyID
	key, ok := c.encryption.Keys[keyID]
	if !ok {
		return nil, fmt.Errorf("active encryption key %q not loaded", keyID)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)
	env := encryptedEnvelope{
		Encrypted: true,
		Data:      hex.EncodeToString(ciphertext),
		Metadata: models.EncryptionMetadata{
			Algorithm: encryptionAlgorithm,
			KeyID:     keyID,
			IV:        hex.EncodeToString(nonce),
		},
	}
	return json.Marshal(env)
}

// decrypt selects the key by the stored key id. A failed decrypt is a stable
// error kind; there is no fallback to plaintext.
func (c *codec) decrypt(env encryptedEnvelope) ([]byte, error) {
	key, ok := c.encryption.Keys[env.Metadata.KeyID]
	if !ok {
		return nil, faults.New(faults.KindDecrypt,
			fmt.Sprintf("encryption key %q not available", env.Metadata.KeyID))
	}

	ciphertext, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, faults.Wrap(faults.KindDecrypt, "malformed ciphertext", err)
	}
	nonce, err := hex.DecodeString(env.Metadata.IV)
	if err != nil {
		return nil, faults.Wrap(faults.KindDecrypt, "malformed iv", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, faults.Wrap(faults.KindDecrypt, "failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, faults.Wrap(faults.KindDecrypt, "failed to create gcm", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, faults.New(faults.KindDecrypt, "iv length mismatch")
	}

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, faults.Wrap(faults.KindDecrypt, "context decryption failed", err)
	}
	return plain, nil
}
