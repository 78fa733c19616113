// Package signing produces and verifies tamper-evidence signatures for
// audit events: HMAC-SHA256 over the immutable classified core of the
// event, keyed by a rotatable derived key.
package signing

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"vigil/internal/audit"
	derrors "vigil/pkg/domain-errors"
)

// Algorithm identifies the only signature scheme in use. Recorded on every
// signature so a future scheme change stays verifiable per event.
const Algorithm = "HMAC-SHA256"

const nonceSize = 16

// canonicalPayload is the byte-stable representation the HMAC covers. It
// includes only fields fixed at classification time; analysis metadata
// merged afterwards does not affect the signature.
type canonicalPayload struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp int64          `json:"timestamp_unix_micro"`
	SubjectID string         `json:"subject_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Details   map[string]any `json:"details"`
	Nonce     string         `json:"nonce"`
}

// Signer signs events and verifies existing signatures.
type Signer struct {
	keys KeyProvider
}

func NewSigner(keys KeyProvider) (*Signer, error) {
	if keys == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "key provider is required")
	}
	return &Signer{keys: keys}, nil
}

// Sign produces a signature for the event with the active key. Signing an
// already-signed event is refused: signatures are written once.
func (s *Signer) Sign(_ context.Context, ev audit.Event) (audit.SigningResult, error) {
	if ev.Signature != "" {
		return audit.SigningResult{}, audit.ErrAlreadySigned
	}

	nonce, err := newNonce()
	if err != nil {
		return audit.SigningResult{}, fmt.Errorf("generating nonce: %w", err)
	}

	key := s.keys.Active()
	sig, err := computeSignature(key, ev, nonce)
	if err != nil {
		return audit.SigningResult{}, err
	}

	return audit.SigningResult{
		Signature: sig,
		Nonce:     nonce,
		KeyID:     key.ID,
		Algorithm: Algorithm,
		SignedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

// Verify recomputes the event's signature and compares in constant time.
// A mismatch is a finding, not an error: (false, nil). Errors are reserved
// for events that cannot be verified at all (never signed, unknown key).
func (s *Signer) Verify(_ context.Context, ev audit.Event) (bool, error) {
	sr, ok := ev.SigningResult()
	if !ok || ev.Signature == "" {
		return false, derrors.New(derrors.CodeInvalidInput, "event carries no signature")
	}
	if sr.Algorithm != Algorithm {
		return false, derrors.Newf(derrors.CodeInvalidInput, "unsupported signature algorithm %q", sr.Algorithm)
	}
	key, ok := s.keys.ByID(sr.KeyID)
	if !ok {
		return false, derrors.Newf(derrors.CodeInvalidInput, "unknown signing key %q", sr.KeyID)
	}

	expected, err := computeSignature(key, ev, sr.Nonce)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(ev.Signature)), nil
}

func computeSignature(key Key, ev audit.Event, nonce string) (string, error) {
	payload := canonicalPayload{
		EventID:   ev.ID.String(),
		EventType: string(ev.Type),
		Timestamp: ev.Timestamp.UnixMicro(),
		IPAddress: ev.IPAddress,
		Details:   ev.Details,
		Nonce:     nonce,
	}
	if !ev.SubjectID.IsNil() {
		payload.SubjectID = ev.SubjectID.String()
	}
	if !ev.SessionID.IsNil() {
		payload.SessionID = ev.SessionID.String()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding signature payload: %w", err)
	}

	mac := hmac.New(sha256.New, key.Material)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func newNonce() (string, error) {
	buf := make([]byte, nonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
