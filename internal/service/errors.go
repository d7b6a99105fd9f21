package service

import "errors"

var (
	ErrInvalidRefreshToken   = errors.New("invalid refresh token")
	ErrRefreshTokenExpired   = errors.New("refresh token expired")
	ErrUsageLimitExceeded    = errors.New("refresh token usage limit exceeded")
	ErrInsufficientPrivilege = errors.New("insufficient privilege")
	ErrInvalidAccessToken    = errors.New("invalid access token")
	ErrInvalidPrincipal      = errors.New("principal requires id, email and role")
)
