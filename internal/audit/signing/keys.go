package signing

import (
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	derrors "vigil/pkg/domain-errors"
)

// derivedKeySize is the HMAC-SHA256 key length in bytes.
const derivedKeySize = 32

// Key is a named signing key.
type Key struct {
	ID       string
	Material []byte
}

// KeyProvider resolves signing keys. Active returns the key new signatures
// are produced with; ByID resolves historical keys so signatures made
// before a rotation still verify.
type KeyProvider interface {
	Active() Key
	ByID(keyID string) (Key, bool)
}

// HKDFProvider derives per-key-ID material from a single master secret
// using HKDF-SHA256. Rotation is a matter of announcing a new key ID:
// old IDs keep deriving the same material, so existing signatures remain
// verifiable without storing more than one secret.
type HKDFProvider struct {
	master []byte

	mu       sync.RWMutex
	activeID string
	derived  map[string][]byte
}

// NewHKDFProvider builds a provider from the master secret and the
// initially active key ID.
func NewHKDFProvider(master []byte, activeKeyID string) (*HKDFProvider, error) {
	if len(master) == 0 {
		return nil, derrors.New(derrors.CodeInvalidInput, "signing master secret cannot be empty")
	}
	if activeKeyID == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "active key ID cannot be empty")
	}
	p := &HKDFProvider{
		master:   master,
		activeID: activeKeyID,
		derived:  make(map[string][]byte),
	}
	if _, ok := p.ByID(activeKeyID); !ok {
		return nil, derrors.New(derrors.CodeInternal, "could not derive active signing key")
	}
	return p, nil
}

func (p *HKDFProvider) Active() Key {
	p.mu.RLock()
	activeID := p.activeID
	p.mu.RUnlock()
	k, _ := p.ByID(activeID)
	return k
}

func (p *HKDFProvider) ByID(keyID string) (Key, bool) {
	if keyID == "" {
		return Key{}, false
	}

	p.mu.RLock()
	material, ok := p.derived[keyID]
	p.mu.RUnlock()
	if ok {
		return Key{ID: keyID, Material: material}, true
	}

	material = make([]byte, derivedKeySize)
	r := hkdf.New(sha256.New, p.master, nil, []byte("audit-signing:"+keyID))
	if _, err := io.ReadFull(r, material); err != nil {
		return Key{}, false
	}

	p.mu.Lock()
	p.derived[keyID] = material
	p.mu.Unlock()
	return Key{ID: keyID, Material: material}, true
}

// Rotate makes keyID the active signing key. Previously active IDs remain
// resolvable through ByID.
func (p *HKDFProvider) Rotate(keyID string) error {
	if _, ok := p.ByID(keyID); !ok {
		return derrors.New(derrors.CodeInvalidInput, "key ID cannot be empty")
	}
	p.mu.Lock()
	p.activeID = keyID
	p.mu.Unlock()
	return nil
}
