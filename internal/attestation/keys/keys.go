// Package keys manages the Ed25519 signing keys behind attestations.
// Private keys are encrypted at rest with XChaCha20-Poly1305 under a
// process-level master key.
package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"proveniq-ops/pkg/platform/sentinel"
)

// Key is a stored signing key. The private key bytes are never persisted in
// the clear.
type Key struct {
	KeyID               string
	Version             int
	PublicKeyPEM        string
	PrivateKeyEncrypted []byte
	Algorithm           string
	Status              string
	CreatedAt           time.Time
	ActivatedAt         time.Time
}

// Store persists signing keys.
type Store interface {
	// Active returns the newest active key, or sentinel.ErrNotFound.
	Active(ctx context.Context) (*Key, error)
	FindByKeyID(ctx context.Context, keyID string) (*Key, error)
	Insert(ctx context.Context, key *Key) error
}

// Manager resolves the active signing key, creating one on first use.
type Manager struct {
	store     Store
	masterKey []byte

	mu     sync.Mutex
	active *activeKey
}

type activeKey struct {
	keyID   string
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	pem     string
}

// NewManager builds a key manager. An empty master key gets a random
// ephemeral one, suitable only for development: keys created under it
// cannot be decrypted after restart.
func NewManager(store Store, masterKey string) (*Manager, error) {
	var key []byte
	if masterKey == "" {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ephemeral master key: %w", err)
		}
	} else {
		// Accept any passphrase by stretching it to the AEAD key size.
		sum := sha256.Sum256([]byte(masterKey))
		key = sum[:]
	}
	return &Manager{store: store, masterKey: key}, nil
}

// ActiveSigner returns the active key id and its private key, generating and
// persisting a fresh key when none exists.
func (m *Manager) ActiveSigner(ctx context.Context) (string, ed25519.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return m.active.keyID, m.active.private, nil
	}

	stored, err := m.store.Active(ctx)
	switch {
	case err == nil:
		private, err := m.decryptPrivateKey(stored.PrivateKeyEncrypted)
		if err != nil {
			return "", nil, fmt.Errorf("decrypt signing key %s: %w", stored.KeyID, err)
		}
		m.active = &activeKey{
			keyID:   stored.KeyID,
			private: private,
			public:  private.Public().(ed25519.PublicKey),
			pem:     stored.PublicKeyPEM,
		}
	case errors.Is(err, sentinel.ErrNotFound):
		if err := m.createKey(ctx); err != nil {
			return "", nil, err
		}
	default:
		return "", nil, fmt.Errorf("load active signing key: %w", err)
	}

	return m.active.keyID, m.active.private, nil
}

// PublicKey resolves the verification key for a key id.
func (m *Manager) PublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	m.mu.Lock()
	if m.active != nil && m.active.keyID == keyID {
		pub := m.active.public
		m.mu.Unlock()
		return pub, nil
	}
	m.mu.Unlock()

	stored, err := m.store.FindByKeyID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("load signing key %s: %w", keyID, err)
	}
	return ParsePublicKeyPEM(stored.PublicKeyPEM)
}

// PublicKeyPEM returns the PEM encoding of the verification key for export.
func (m *Manager) PublicKeyPEM(ctx context.Context, keyID string) (string, error) {
	m.mu.Lock()
	if m.active != nil && m.active.keyID == keyID {
		p := m.active.pem
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	stored, err := m.store.FindByKeyID(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("load signing key %s: %w", keyID, err)
	}
	return stored.PublicKeyPEM, nil
}

func (m *Manager) createKey(ctx context.Context) error {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	publicPEM, err := encodePublicKeyPEM(public)
	if err != nil {
		return err
	}
	encrypted, err := m.encryptPrivateKey(private)
	if err != nil {
		return err
	}

	keyID := "ops-attest-" + randomHex(8)
	now := time.Now().UTC()
	key := &Key{
		KeyID:               keyID,
		Version:             1,
		PublicKeyPEM:        publicPEM,
		PrivateKeyEncrypted: encrypted,
		Algorithm:           "Ed25519",
		Status:              "active",
		CreatedAt:           now,
		ActivatedAt:         now,
	}
	if err := m.store.Insert(ctx, key); err != nil {
		return fmt.Errorf("persist signing key: %w", err)
	}

	m.active = &activeKey{keyID: keyID, private: private, public: public, pem: publicPEM}
	return nil
}

func (m *Manager) encryptPrivateKey(private ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(m.masterKey)
	if err != nil {
		return nil, fmt.Errorf("init key cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, der, nil), nil
}

func (m *Manager) decryptPrivateKey(blob []byte) (ed25519.PrivateKey, error) {
	aead, err := chacha20poly1305.NewX(m.masterKey)
	if err != nil {
		return nil, fmt.Errorf("init key cipher: %w", err)
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("encrypted key too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	der, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	private, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("stored key is not Ed25519")
	}
	return private, nil
}

func encodePublicKeyPEM(public ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM decodes a PEM-encoded Ed25519 verification key.
func ParsePublicKeyPEM(pemStr string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	public, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not Ed25519")
	}
	return public, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// MemoryStore keeps signing keys in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	keys []*Key
}

// NewMemoryStore constructs an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Active(_ context.Context) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Key
	for _, key := range s.keys {
		if key.Status != "active" {
			continue
		}
		if best == nil || key.Version > best.Version {
			best = key
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	clone := *best
	return &clone, nil
}

func (s *MemoryStore) FindByKeyID(_ context.Context, keyID string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.keys {
		if key.KeyID == keyID {
			clone := *key
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) Insert(_ context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *key
	s.keys = append(s.keys, &clone)
	return nil
}
