package domain

import "time"

type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "ACTIVE"
	TokenStatusRotated TokenStatus = "ROTATED"
	TokenStatusRevoked TokenStatus = "REVOKED"
	TokenStatusExpired TokenStatus = "EXPIRED"
)

// Terminal reports whether the status is absorbing. Only ACTIVE records can transition.
func (s TokenStatus) Terminal() bool {
	return s != TokenStatusActive
}

const (
	RevokeReasonRotated            = "rotated"
	RevokeReasonUsageExceeded      = "usage limit exceeded"
	RevokeReasonQuotaExceeded      = "quota exceeded"
	RevokeReasonRememberMeCap      = "remember-me cap exceeded"
	RevokeReasonReplayDetected     = "replay detected"
	RevokeReasonExpired            = "expired"
	RevokeReasonLogout             = "logout"
	RevokeReasonLogoutEverywhere   = "logout everywhere"
	RevokeReasonAdminForcedSignOut = "admin forced sign-out"
)

// RefreshToken is the persisted refresh credential. Identity claims are copied at
// issuance so redemption never needs to join against the principal source.
type RefreshToken struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	Token          string      `gorm:"size:128;uniqueIndex;not null" json:"-"`
	SubjectID      string      `gorm:"size:64;index;not null" json:"subject_id"`
	SubjectEmail   string      `gorm:"size:320;not null" json:"subject_email"`
	SubjectRole    string      `gorm:"size:64;not null" json:"subject_role"`
	OrganizationID *string     `gorm:"size:64;index" json:"organization_id,omitempty"`
	BranchID       *string     `gorm:"size:64;index" json:"branch_id,omitempty"`
	Status         TokenStatus `gorm:"size:16;index;not null" json:"status"`
	IssuedAt       time.Time   `gorm:"not null" json:"issued_at"`
	ExpiresAt      time.Time   `gorm:"index;not null" json:"expires_at"`
	LastUsedAt     *time.Time  `json:"last_used_at,omitempty"`
	DeviceID       *string     `gorm:"size:128" json:"device_id,omitempty"`
	DeviceName     *string     `gorm:"size:256" json:"device_name,omitempty"`
	IPAddress      *string     `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent      *string     `gorm:"size:512" json:"user_agent,omitempty"`
	UsageCount     int         `gorm:"not null;default:0" json:"usage_count"`
	MaxUsageCount  int         `gorm:"not null" json:"max_usage_count"`
	IsRememberMe   bool        `gorm:"index;not null;default:false" json:"is_remember_me"`
	RevokedBy      *string     `gorm:"size:64" json:"revoked_by,omitempty"`
	RevokedReason  *string     `gorm:"size:64" json:"revoked_reason,omitempty"`
	RevokedAt      *time.Time  `gorm:"index" json:"revoked_at,omitempty"`
	ParentTokenID  *string     `gorm:"size:36;index" json:"parent_token_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

// IsExpiredAt reports whether the record's fixed expiry has passed at now.
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Principal is the identity snapshot supplied by the caller at issuance.
type Principal struct {
	ID             string
	Email          string
	Role           string
	OrganizationID string
	BranchID       string
}

// DeviceContext carries optional device-binding metadata for a login or refresh.
type DeviceContext struct {
	IPAddress  string
	UserAgent  string
	DeviceID   string
	DeviceName string
	RememberMe bool
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// PrincipalFromToken rebuilds the identity snapshot carried by a record.
func PrincipalFromToken(t *RefreshToken) Principal {
	p := Principal{
		ID:    t.SubjectID,
		Email: t.SubjectEmail,
		Role:  t.SubjectRole,
	}
	if t.OrganizationID != nil {
		p.OrganizationID = *t.OrganizationID
	}
	if t.BranchID != nil {
		p.BranchID = *t.BranchID
	}
	return p
}
