package domain

import "time"

// TokenView is the sanitized projection of a RefreshToken shown in "manage sessions".
type TokenView struct {
	ID           string      `json:"id"`
	TokenPrefix  string      `json:"token_prefix"`
	Status       TokenStatus `json:"status"`
	IssuedAt     time.Time   `json:"issued_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	LastUsedAt   *time.Time  `json:"last_used_at,omitempty"`
	DeviceID     string      `json:"device_id,omitempty"`
	DeviceName   string      `json:"device_name,omitempty"`
	IPAddress    string      `json:"ip_address,omitempty"`
	UserAgent    string      `json:"user_agent,omitempty"`
	IsRememberMe bool        `json:"is_remember_me"`
	IsExpired    bool        `json:"is_expired"`
	UsageCount   int         `json:"usage_count"`
}

// StatsScope narrows aggregate counts. Empty fields do not filter.
type StatsScope struct {
	OrganizationID string
	BranchID       string
	SubjectID      string
}

type TokenStats struct {
	Total            int64                 `json:"total"`
	ByStatus         map[TokenStatus]int64 `json:"by_status"`
	ActiveRememberMe int64                 `json:"active_remember_me"`
	ActiveExpired    int64                 `json:"active_expired"`
	GeneratedAt      time.Time             `json:"generated_at"`
}
