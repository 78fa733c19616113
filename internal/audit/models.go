// Package audit defines the immutable audit event state and its
// classification tables. Events are value objects: every transformation
// returns a new copy with an incremented version, and a published event is
// never mutated in place.
package audit

import (
	"maps"
	"slices"
	"time"

	id "vigil/pkg/domain"
)

// EventType tags the action an event describes.
type EventType string

const (
	// Authentication events
	EventFailedAuthentication     EventType = "failed_authentication"
	EventSuccessfulAuthentication EventType = "successful_authentication"
	EventPasswordChanged          EventType = "password_changed"
	EventMFAEnabled               EventType = "mfa_enabled"
	EventMFADisabled              EventType = "mfa_disabled"
	EventSessionRevoked           EventType = "session_revoked"

	// Authorization events
	EventPermissionGranted   EventType = "permission_granted"
	EventPermissionRevoked   EventType = "permission_revoked"
	EventRoleAssigned        EventType = "role_assigned"
	EventPrivilegeEscalation EventType = "privilege_escalation"
	EventAccessDenied        EventType = "access_denied"

	// Data events
	EventDataAccessed EventType = "data_accessed"
	EventDataExported EventType = "data_exported"
	EventDataModified EventType = "data_modified"
	EventDataDeleted  EventType = "data_deleted"

	// Security events
	EventAPIKeyCreated   EventType = "api_key_created"
	EventAPIKeyRevoked   EventType = "api_key_revoked"
	EventSecretRotated   EventType = "secret_rotated"
	EventSecurityAlert   EventType = "security_alert"
	EventAccountLockout  EventType = "account_lockout"
	EventSuspiciousLogin EventType = "suspicious_login"

	// System events
	EventConfigChanged  EventType = "config_changed"
	EventUserCreated    EventType = "user_created"
	EventUserDeleted    EventType = "user_deleted"
	EventSystemStartup  EventType = "system_startup"
	EventSystemShutdown EventType = "system_shutdown"
)

// Category classifies events by their primary concern. It drives routing,
// retention, and which downstream consumers see the event.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategorySecurity       Category = "security"
	CategoryData           Category = "data"
	CategorySystem         Category = "system"
)

// Severity is the base severity derived from the event type, before any
// risk scoring.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ComplianceFlag is a regulatory-obligation tag attached to an event.
type ComplianceFlag string

const (
	FlagGDPRPersonalData       ComplianceFlag = "gdpr_personal_data"
	FlagCCPAPersonalInfo       ComplianceFlag = "ccpa_personal_information"
	FlagSensitiveDataAccess    ComplianceFlag = "sensitive_data_access"
	FlagSOXFinancialControls   ComplianceFlag = "sox_financial_controls"
	FlagHIPAAProtectedHealth   ComplianceFlag = "hipaa_protected_health"
	FlagPCICardholderData      ComplianceFlag = "pci_cardholder_data"
	FlagAccessControlReporting ComplianceFlag = "access_control_reporting"
)

// categoryByType maps each event type to its category.
// Unknown types default to CategorySystem.
var categoryByType = map[EventType]Category{
	EventFailedAuthentication:     CategoryAuthentication,
	EventSuccessfulAuthentication: CategoryAuthentication,
	EventPasswordChanged:          CategoryAuthentication,
	EventMFAEnabled:               CategoryAuthentication,
	EventMFADisabled:              CategoryAuthentication,
	EventSessionRevoked:           CategoryAuthentication,

	EventPermissionGranted:   CategoryAuthorization,
	EventPermissionRevoked:   CategoryAuthorization,
	EventRoleAssigned:        CategoryAuthorization,
	EventPrivilegeEscalation: CategoryAuthorization,
	EventAccessDenied:        CategoryAuthorization,

	EventDataAccessed: CategoryData,
	EventDataExported: CategoryData,
	EventDataModified: CategoryData,
	EventDataDeleted:  CategoryData,

	EventAPIKeyCreated:   CategorySecurity,
	EventAPIKeyRevoked:   CategorySecurity,
	EventSecretRotated:   CategorySecurity,
	EventSecurityAlert:   CategorySecurity,
	EventAccountLockout:  CategorySecurity,
	EventSuspiciousLogin: CategorySecurity,

	EventConfigChanged:  CategorySystem,
	EventUserCreated:    CategorySystem,
	EventUserDeleted:    CategorySystem,
	EventSystemStartup:  CategorySystem,
	EventSystemShutdown: CategorySystem,
}

// severityByType maps each event type to its base severity.
// Unknown types default to SeverityMedium.
var severityByType = map[EventType]Severity{
	EventFailedAuthentication:     SeverityMedium,
	EventSuccessfulAuthentication: SeverityLow,
	EventPasswordChanged:          SeverityMedium,
	EventMFAEnabled:               SeverityLow,
	EventMFADisabled:              SeverityHigh,
	EventSessionRevoked:           SeverityMedium,

	EventPermissionGranted:   SeverityMedium,
	EventPermissionRevoked:   SeverityMedium,
	EventRoleAssigned:        SeverityMedium,
	EventPrivilegeEscalation: SeverityCritical,
	EventAccessDenied:        SeverityMedium,

	EventDataAccessed: SeverityLow,
	EventDataExported: SeverityHigh,
	EventDataModified: SeverityMedium,
	EventDataDeleted:  SeverityHigh,

	EventAPIKeyCreated:   SeverityMedium,
	EventAPIKeyRevoked:   SeverityMedium,
	EventSecretRotated:   SeverityMedium,
	EventSecurityAlert:   SeverityCritical,
	EventAccountLockout:  SeverityHigh,
	EventSuspiciousLogin: SeverityHigh,

	EventConfigChanged:  SeverityMedium,
	EventUserCreated:    SeverityLow,
	EventUserDeleted:    SeverityHigh,
	EventSystemStartup:  SeverityLow,
	EventSystemShutdown: SeverityMedium,
}

// complianceByType maps event types to the regulations they implicate.
// Unknown types carry no flags.
var complianceByType = map[EventType][]ComplianceFlag{
	EventUserCreated:   {FlagGDPRPersonalData, FlagCCPAPersonalInfo},
	EventUserDeleted:   {FlagGDPRPersonalData, FlagCCPAPersonalInfo},
	EventDataAccessed:  {FlagGDPRPersonalData},
	EventDataExported:  {FlagGDPRPersonalData, FlagCCPAPersonalInfo, FlagSensitiveDataAccess},
	EventDataModified:  {FlagGDPRPersonalData},
	EventDataDeleted:   {FlagGDPRPersonalData, FlagSensitiveDataAccess},
	EventConfigChanged: {FlagSOXFinancialControls},

	EventPermissionGranted:   {FlagAccessControlReporting},
	EventPermissionRevoked:   {FlagAccessControlReporting},
	EventRoleAssigned:        {FlagAccessControlReporting},
	EventPrivilegeEscalation: {FlagAccessControlReporting, FlagSensitiveDataAccess},
}

// encryptionRequiredByType marks event types whose stored payloads must be
// encrypted at rest. Unknown types default to false.
var encryptionRequiredByType = map[EventType]bool{
	EventDataExported:        true,
	EventDataAccessed:        true,
	EventUserCreated:         true,
	EventUserDeleted:         true,
	EventPrivilegeEscalation: true,
}

// Retention periods by category. The classifier resolves retention through
// the category table so new event types inherit sane defaults.
const (
	defaultRetention        = 180 * 24 * time.Hour // 6 months
	securityRetention       = 2 * 365 * 24 * time.Hour
	complianceDataRetention = 7 * 365 * 24 * time.Hour
)

var retentionByCategory = map[Category]time.Duration{
	CategoryAuthentication: 365 * 24 * time.Hour,
	CategoryAuthorization:  securityRetention,
	CategorySecurity:       securityRetention,
	CategoryData:           complianceDataRetention,
	CategorySystem:         defaultRetention,
}

// Category returns the category for this event type.
// Unknown types default to CategorySystem.
func (t EventType) Category() Category {
	if cat, ok := categoryByType[t]; ok {
		return cat
	}
	return CategorySystem
}

// BaseSeverity returns the severity for this event type.
// Unknown types default to SeverityMedium.
func (t EventType) BaseSeverity() Severity {
	if sev, ok := severityByType[t]; ok {
		return sev
	}
	return SeverityMedium
}

// ComplianceFlags returns the regulation tags for this event type.
// The result is a fresh slice; callers may not mutate the table.
func (t EventType) ComplianceFlags() []ComplianceFlag {
	return slices.Clone(complianceByType[t])
}

// EncryptionRequired reports whether payloads of this type must be encrypted
// at rest.
func (t EventType) EncryptionRequired() bool {
	return encryptionRequiredByType[t]
}

// RetentionPeriod returns how long events of this type must be kept.
func (t EventType) RetentionPeriod() time.Duration {
	if d, ok := retentionByCategory[t.Category()]; ok {
		return d
	}
	return defaultRetention
}

// rank orders severities for comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at or above the given severity.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// ThreatIndicator is a single detected threat signal.
type ThreatIndicator struct {
	Type       string   `json:"type"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	Detail     string   `json:"detail,omitempty"`
}

// Metadata keys written by the analysis stages. Each key is written exactly
// once per pipeline run.
const (
	MetaSecurityAnalysis         = "securityAnalysis"
	MetaComplianceClassification = "complianceClassification"
	MetaCryptographicSigning     = "cryptographicSigning"
	MetaThreatDetection          = "threatDetection"
)

// SecurityAnalysis is the output of the security analysis stage.
type SecurityAnalysis struct {
	RiskScore           float64            `json:"riskScore"`
	RiskFactors         map[string]float64 `json:"riskFactors"`
	BehavioralDeviation float64            `json:"behavioralDeviation"`
	BaselineAvailable   bool               `json:"baselineAvailable"`
}

// ComplianceClassification is the output of the compliance stage.
type ComplianceClassification struct {
	Flags              []ComplianceFlag `json:"flags"`
	RetentionPeriod    time.Duration    `json:"retentionPeriod"`
	EncryptionRequired bool             `json:"encryptionRequired"`
	ReviewRequired     bool             `json:"reviewRequired"`
}

// SigningResult is the output of the cryptographic signing stage.
type SigningResult struct {
	Signature string    `json:"signature"`
	Nonce     string    `json:"nonce"`
	KeyID     string    `json:"keyId"`
	Algorithm string    `json:"algorithm"`
	SignedAt  time.Time `json:"signedAt"`
}

// ThreatDetection is the output of the threat detection stage.
type ThreatDetection struct {
	Indicators []ThreatIndicator `json:"indicators"`
	ScannedAt  time.Time         `json:"scannedAt"`
}

// Event is an immutable, versioned audit record. Construct via the
// classifier; derive enriched copies via the With* transforms. Maps held by
// an Event are owned by it and must not be mutated by callers.
type Event struct {
	ID          id.EventID
	Type        EventType
	Timestamp   time.Time
	SubjectID   id.SubjectID   // nil UUID for system events
	SubjectRole id.SubjectRole // empty for system events

	// Contextual attributes, each optional.
	SessionID         id.SessionID
	IPAddress         string
	UserAgent         string
	Geolocation       *id.Geolocation
	DeviceFingerprint string

	Category           Category
	Severity           Severity
	Details            map[string]any
	ComplianceFlags    []ComplianceFlag
	EncryptionRequired bool
	RetentionPeriod    time.Duration

	// Metadata holds attached analysis results keyed by the Meta* constants.
	Metadata map[string]any

	// Signature is the HMAC over the canonical payload, set exactly once.
	Signature string

	// Version strictly increases with each transformation.
	Version int
}

// clone returns a deep copy of the event with maps and slices duplicated so
// transforms never alias the original's storage.
func (e Event) clone() Event {
	c := e
	c.Details = maps.Clone(e.Details)
	c.Metadata = maps.Clone(e.Metadata)
	c.ComplianceFlags = slices.Clone(e.ComplianceFlags)
	if e.Geolocation != nil {
		geo := *e.Geolocation
		c.Geolocation = &geo
	}
	return c
}

// WithSecurityAnalysis returns a copy carrying the security analysis result.
func (e Event) WithSecurityAnalysis(sa SecurityAnalysis) Event {
	c := e.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 1)
	}
	c.Metadata[MetaSecurityAnalysis] = sa
	c.Version++
	return c
}

// WithComplianceClassification returns a copy carrying the compliance
// classification, overriding the classifier's table-derived values with the
// confirmed ones.
func (e Event) WithComplianceClassification(cc ComplianceClassification) Event {
	c := e.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 1)
	}
	c.Metadata[MetaComplianceClassification] = cc
	c.ComplianceFlags = slices.Clone(cc.Flags)
	c.RetentionPeriod = cc.RetentionPeriod
	c.EncryptionRequired = cc.EncryptionRequired
	c.Version++
	return c
}

// WithSignature returns a copy carrying the signing result. Returns
// ErrAlreadySigned if the event already carries a signature: each logical
// event is signed exactly once.
func (e Event) WithSignature(sr SigningResult) (Event, error) {
	if e.Signature != "" {
		return Event{}, ErrAlreadySigned
	}
	c := e.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 1)
	}
	c.Metadata[MetaCryptographicSigning] = sr
	c.Signature = sr.Signature
	c.Version++
	return c, nil
}

// WithThreatDetection returns a copy carrying the threat detection result.
func (e Event) WithThreatDetection(td ThreatDetection) Event {
	c := e.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 1)
	}
	c.Metadata[MetaThreatDetection] = td
	c.Version++
	return c
}

// SecurityAnalysis returns the attached security analysis, if any.
func (e Event) SecurityAnalysis() (SecurityAnalysis, bool) {
	sa, ok := e.Metadata[MetaSecurityAnalysis].(SecurityAnalysis)
	return sa, ok
}

// ComplianceClassification returns the attached classification, if any.
func (e Event) ComplianceClassification() (ComplianceClassification, bool) {
	cc, ok := e.Metadata[MetaComplianceClassification].(ComplianceClassification)
	return cc, ok
}

// SigningResult returns the attached signing result, if any.
func (e Event) SigningResult() (SigningResult, bool) {
	sr, ok := e.Metadata[MetaCryptographicSigning].(SigningResult)
	return sr, ok
}

// ThreatDetection returns the attached threat detection result, if any.
func (e Event) ThreatDetection() (ThreatDetection, bool) {
	td, ok := e.Metadata[MetaThreatDetection].(ThreatDetection)
	return td, ok
}

// RiskScore returns the composite risk score attached by the security
// analysis stage, or 0 when the stage has not run.
func (e Event) RiskScore() float64 {
	if sa, ok := e.SecurityAnalysis(); ok {
		return sa.RiskScore
	}
	return 0
}

// RequiresImmediateAlert reports whether the event must page immediately:
// critical severity, or any threat indicator at high severity or above.
func (e Event) RequiresImmediateAlert() bool {
	if e.Severity == SeverityCritical {
		return true
	}
	if td, ok := e.ThreatDetection(); ok {
		for _, ind := range td.Indicators {
			if ind.Severity.AtLeast(SeverityHigh) {
				return true
			}
		}
	}
	return false
}

// IsSystemEvent reports whether the event has no attributable subject.
func (e Event) IsSystemEvent() bool {
	return e.SubjectID.IsNil()
}
