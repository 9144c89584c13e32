// Package security seals provider token secrets before they reach storage.
package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
)

type Option func(*AppKeySecretProvider)

// KeyRotationWindow bounds when the active key may seal new values. Zero
// bounds are open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type appKey struct {
	id      string
	version int
	aead    cipher.AEAD
}

// AppKeySecretProvider seals with one active application key and opens values
// sealed by the active key or any retired key still in the ring.
type AppKeySecretProvider struct {
	active  appKey
	retired []appKey
	window  KeyRotationWindow
	now     func() time.Time
	random  io.Reader

	// setupErr holds the first option failure until the constructor returns it.
	setupErr error
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			provider.active.id = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.active.version = version
		}
	}
}

// WithRetiredKey keeps an older key available for Decrypt after rotation.
func WithRetiredKey(id string, version int, keyMaterial []byte) Option {
	return func(provider *AppKeySecretProvider) {
		id, material := strings.TrimSpace(id), bytes.TrimSpace(keyMaterial)
		if id == "" || version <= 0 || len(material) == 0 {
			provider.fail(errors.New("security: retired key requires id, version and key material"))
			return
		}
		aead, err := newAEAD(material)
		if err != nil {
			provider.fail(err)
			return
		}
		provider.retired = append(provider.retired, appKey{id: id, version: version, aead: aead})
	}
}

func WithRotationWindow(window KeyRotationWindow) Option {
	return func(provider *AppKeySecretProvider) {
		provider.window = window
	}
}

func WithClock(now func() time.Time) Option {
	return func(provider *AppKeySecretProvider) {
		if now != nil {
			provider.now = now
		}
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, errors.New("security: key material is required")
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	provider := &AppKeySecretProvider{
		active: appKey{id: "app-key", version: 1, aead: aead},
		now:    func() time.Time { return time.Now().UTC() },
		random: rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.setupErr != nil {
		return nil, provider.setupErr
	}
	// Options may run in any order, so the collision check waits for the final
	// active identity.
	for _, retired := range provider.retired {
		if retired.id == provider.active.id && retired.version == provider.active.version {
			return nil, fmt.Errorf("security: retired key %s v%d collides with the active key", retired.id, retired.version)
		}
	}
	return provider, nil
}

func (p *AppKeySecretProvider) fail(err error) {
	if p.setupErr == nil {
		p.setupErr = err
	}
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil || p.active.aead == nil {
		return nil, fmt.Errorf("security: secret provider is not configured")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	if !p.window.Allows(p.now()) {
		return nil, fmt.Errorf("security: key %s v%d is outside its rotation window", p.active.id, p.active.version)
	}
	return p.active.seal(p.random, plaintext)
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil || p.active.aead == nil {
		return nil, fmt.Errorf("security: secret provider is not configured")
	}
	env, err := unmarshalEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	key, ok := p.lookup(env.KeyID, env.Version)
	if !ok {
		return nil, fmt.Errorf("security: no key for %s v%d", env.KeyID, env.Version)
	}
	return key.open(env)
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.active.id
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.active.version
}

func (p *AppKeySecretProvider) lookup(id string, version int) (appKey, bool) {
	if id == p.active.id && version == p.active.version {
		return p.active, true
	}
	for _, key := range p.retired {
		if key.id == id && key.version == version {
			return key, true
		}
	}
	return appKey{}, false
}

func newAEAD(keyMaterial []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(normalizeKey(keyMaterial))
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return aead, nil
}

// normalizeKey passes AES sized keys through and hashes anything else to 32 bytes.
func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
