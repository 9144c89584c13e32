package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	envelopePrefix    = "shims.token.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

// envelope is the JSON body written after envelopePrefix for every sealed
// token secret. Byte fields travel as standard base64.
type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

// ParseEnvelopeMetadata reports which key sealed ciphertext without opening it.
func ParseEnvelopeMetadata(ciphertext []byte) (EnvelopeMetadata, error) {
	env, err := unmarshalEnvelope(ciphertext)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{KeyID: env.KeyID, Version: env.Version, Algorithm: env.Algorithm}, nil
}

// seal encrypts plaintext under key with a fresh nonce read from random.
func (key appKey) seal(random io.Reader, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, key.aead.NonceSize())
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	data, err := json.Marshal(envelope{
		KeyID:      key.id,
		Version:    key.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      nonce,
		Ciphertext: key.aead.Seal(nil, nonce, plaintext, key.additionalData()),
	})
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (key appKey) open(env envelope) ([]byte, error) {
	if len(env.Nonce) != key.aead.NonceSize() {
		return nil, fmt.Errorf("security: nonce has %d bytes, want %d", len(env.Nonce), key.aead.NonceSize())
	}
	plaintext, err := key.aead.Open(nil, env.Nonce, env.Ciphertext, key.additionalData())
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// additionalData binds the sealed bytes to the key identity in the envelope.
func (key appKey) additionalData() []byte {
	return fmt.Appendf(nil, "%s:%d", key.id, key.version)
}

func unmarshalEnvelope(ciphertext []byte) (envelope, error) {
	payload, ok := strings.CutPrefix(string(ciphertext), envelopePrefix)
	if !ok {
		return envelope{}, errors.New("security: ciphertext is not a sealed envelope")
	}
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	env.KeyID = strings.TrimSpace(env.KeyID)
	switch alg := strings.ToLower(strings.TrimSpace(env.Algorithm)); alg {
	case "", envelopeAlgorithm:
		env.Algorithm = envelopeAlgorithm
	default:
		return envelope{}, fmt.Errorf("security: unsupported envelope algorithm %q", alg)
	}
	if len(env.Ciphertext) == 0 {
		return envelope{}, errors.New("security: envelope ciphertext is required")
	}
	return env, nil
}
