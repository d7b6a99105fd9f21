package service

import "strings"

// RoleAuthorizer decides whether a validated access token may use admin operations.
type RoleAuthorizer struct {
	allowed map[string]struct{}
}

func NewRoleAuthorizer(roles []string) *RoleAuthorizer {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			allowed[r] = struct{}{}
		}
	}
	return &RoleAuthorizer{allowed: allowed}
}

func (a *RoleAuthorizer) HasRole(role string) bool {
	_, ok := a.allowed[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Authorize returns ErrInsufficientPrivilege unless role is one of the allowed roles.
func (a *RoleAuthorizer) Authorize(role string) error {
	if !a.HasRole(role) {
		return ErrInsufficientPrivilege
	}
	return nil
}
