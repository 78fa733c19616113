package domain

import dErrors "vigil/pkg/domain-errors"

// SubjectRole captures the privilege level of the actor behind an event.
// Invariant: the value must be one of the supported roles.
//
// Usage: construct via ParseSubjectRole at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type SubjectRole string

// Supported subject roles.
const (
	SubjectRoleUser              SubjectRole = "user"
	SubjectRoleOperator          SubjectRole = "operator"
	SubjectRoleAdmin             SubjectRole = "admin"
	SubjectRoleService           SubjectRole = "service"
	SubjectRoleComplianceOfficer SubjectRole = "compliance_officer"
)

// validSubjectRoles is the single source of truth for valid roles.
var validSubjectRoles = map[SubjectRole]bool{
	SubjectRoleUser:              true,
	SubjectRoleOperator:          true,
	SubjectRoleAdmin:             true,
	SubjectRoleService:           true,
	SubjectRoleComplianceOfficer: true,
}

// ParseSubjectRole constructs a SubjectRole from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported; no
// other errors are expected.
func ParseSubjectRole(s string) (SubjectRole, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := SubjectRole(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

// IsValid checks if the role is one of the supported enum values.
func (r SubjectRole) IsValid() bool {
	return validSubjectRoles[r]
}

// String returns the string representation of the role.
func (r SubjectRole) String() string {
	return string(r)
}
