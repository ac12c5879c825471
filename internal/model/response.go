package model

// StatusResponse is the envelope every mutating console endpoint answers
// with. Success is always present; the remaining fields are set only when
// they apply to the outcome.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
}

// LoginResponse is returned by POST /api/auth/login.
type LoginResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	RequireMFASetup bool   `json:"requireMFASetup,omitempty"`
	RequireMFAToken bool   `json:"requireMFAToken,omitempty"`
	Role            string `json:"role,omitempty"`
	Blocked         bool   `json:"blocked,omitempty"`
}

// MFASetupResponse is returned by POST /api/auth/setup-mfa.
type MFASetupResponse struct {
	Success     bool     `json:"success"`
	QRCode      string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
	Secret      string   `json:"secret"`
}

// CheckResponse is returned by GET /api/auth/check.
type CheckResponse struct {
	Authenticated bool   `json:"authenticated"`
	Role          string `json:"role,omitempty"`
	Username      string `json:"username,omitempty"`
}

// ClientResponse wraps a single client for create and update answers.
type ClientResponse struct {
	Success bool           `json:"success"`
	Client  RedactedClient `json:"client"`
}

// UserResponse wraps a single account for admin management answers.
type UserResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Admin      *User  `json:"admin,omitempty"`
	SuperAdmin *User  `json:"superadmin,omitempty"`
}
