package token

import (
	authmw "vigil/pkg/platform/middleware/auth"
)

// ServiceAdapter bridges the token service to the auth middleware's
// validator interface.
type ServiceAdapter struct {
	service *Service
}

func NewServiceAdapter(service *Service) *ServiceAdapter {
	return &ServiceAdapter{service: service}
}

func (a *ServiceAdapter) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := a.service.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.Claims{
		SubjectID: claims.SubjectID,
		SessionID: claims.SessionID,
		Role:      claims.Role,
	}, nil
}
