package model

import "time"

// User is a console account. Passwords are stored as bcrypt hashes and the
// MFA secret stays nil until the first enrollment.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // bcrypt hash, never expose
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Organization string    `json:"organization"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	Blocked      bool      `json:"blocked"`
	MFASecret    *string   `json:"-"` // base32 TOTP secret, never expose
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasMFA reports whether the user has completed MFA enrollment.
func (u *User) HasMFA() bool {
	return u.MFASecret != nil && *u.MFASecret != ""
}

// UserWithClients is the admin listing shape: an account plus the clients
// assigned to it.
type UserWithClients struct {
	User
	Clients []Client `json:"clients"`
}
