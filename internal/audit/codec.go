package audit

import (
	"time"

	id "vigil/pkg/domain"
)

// EventRecord is the serialization form of an Event, shared by the postgres
// store, the fallback journal, and the outbound bus. Metadata is carried in
// a typed envelope so the stage accessors keep working after a round-trip.
type EventRecord struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	SubjectID   string    `json:"subjectId,omitempty"`
	SubjectRole string    `json:"subjectRole,omitempty"`

	SessionID         string          `json:"sessionId,omitempty"`
	IPAddress         string          `json:"ipAddress,omitempty"`
	UserAgent         string          `json:"userAgent,omitempty"`
	Geolocation       *id.Geolocation `json:"geolocation,omitempty"`
	DeviceFingerprint string          `json:"deviceFingerprint,omitempty"`

	Category           string         `json:"category"`
	Severity           string         `json:"severity"`
	Details            map[string]any `json:"details"`
	ComplianceFlags    []string       `json:"complianceFlags,omitempty"`
	EncryptionRequired bool           `json:"encryptionRequired"`
	RetentionSeconds   int64          `json:"retentionSeconds"`

	Metadata  MetadataRecord `json:"metadata"`
	Signature string         `json:"signature,omitempty"`
	Version   int            `json:"version"`
}

// MetadataRecord is the typed envelope for attached stage results.
type MetadataRecord struct {
	SecurityAnalysis         *SecurityAnalysis         `json:"securityAnalysis,omitempty"`
	ComplianceClassification *ComplianceClassification `json:"complianceClassification,omitempty"`
	CryptographicSigning     *SigningResult            `json:"cryptographicSigning,omitempty"`
	ThreatDetection          *ThreatDetection          `json:"threatDetection,omitempty"`
}

// Record converts the event to its serialization form.
func (e Event) Record() EventRecord {
	r := EventRecord{
		ID:                 e.ID.String(),
		Type:               string(e.Type),
		Timestamp:          e.Timestamp,
		SubjectRole:        string(e.SubjectRole),
		IPAddress:          e.IPAddress,
		UserAgent:          e.UserAgent,
		Geolocation:        e.Geolocation,
		DeviceFingerprint:  e.DeviceFingerprint,
		Category:           string(e.Category),
		Severity:           string(e.Severity),
		Details:            e.Details,
		EncryptionRequired: e.EncryptionRequired,
		RetentionSeconds:   int64(e.RetentionPeriod / time.Second),
		Signature:          e.Signature,
		Version:            e.Version,
	}
	if !e.SubjectID.IsNil() {
		r.SubjectID = e.SubjectID.String()
	}
	if !e.SessionID.IsNil() {
		r.SessionID = e.SessionID.String()
	}
	for _, f := range e.ComplianceFlags {
		r.ComplianceFlags = append(r.ComplianceFlags, string(f))
	}

	if sa, ok := e.SecurityAnalysis(); ok {
		r.Metadata.SecurityAnalysis = &sa
	}
	if cc, ok := e.ComplianceClassification(); ok {
		r.Metadata.ComplianceClassification = &cc
	}
	if sr, ok := e.SigningResult(); ok {
		r.Metadata.CryptographicSigning = &sr
	}
	if td, ok := e.ThreatDetection(); ok {
		r.Metadata.ThreatDetection = &td
	}
	return r
}

// Event converts the record back to a domain event, validating the
// embedded IDs.
func (r EventRecord) Event() (Event, error) {
	eventID, err := id.ParseEventID(r.ID)
	if err != nil {
		return Event{}, err
	}

	e := Event{
		ID:                 eventID,
		Type:               EventType(r.Type),
		Timestamp:          r.Timestamp,
		SubjectRole:        id.SubjectRole(r.SubjectRole),
		IPAddress:          r.IPAddress,
		UserAgent:          r.UserAgent,
		Geolocation:        r.Geolocation,
		DeviceFingerprint:  r.DeviceFingerprint,
		Category:           Category(r.Category),
		Severity:           Severity(r.Severity),
		Details:            r.Details,
		EncryptionRequired: r.EncryptionRequired,
		RetentionPeriod:    time.Duration(r.RetentionSeconds) * time.Second,
		Signature:          r.Signature,
		Version:            r.Version,
	}
	if r.SubjectID != "" {
		if e.SubjectID, err = id.ParseSubjectID(r.SubjectID); err != nil {
			return Event{}, err
		}
	}
	if r.SessionID != "" {
		if e.SessionID, err = id.ParseSessionID(r.SessionID); err != nil {
			return Event{}, err
		}
	}
	for _, f := range r.ComplianceFlags {
		e.ComplianceFlags = append(e.ComplianceFlags, ComplianceFlag(f))
	}

	if md := r.Metadata; md.SecurityAnalysis != nil || md.ComplianceClassification != nil ||
		md.CryptographicSigning != nil || md.ThreatDetection != nil {
		e.Metadata = make(map[string]any)
		if md.SecurityAnalysis != nil {
			e.Metadata[MetaSecurityAnalysis] = *md.SecurityAnalysis
		}
		if md.ComplianceClassification != nil {
			e.Metadata[MetaComplianceClassification] = *md.ComplianceClassification
		}
		if md.CryptographicSigning != nil {
			e.Metadata[MetaCryptographicSigning] = *md.CryptographicSigning
		}
		if md.ThreatDetection != nil {
			e.Metadata[MetaThreatDetection] = *md.ThreatDetection
		}
	}
	return e, nil
}
