package auth

import "time"

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// KycStatus tracks a user's identity-verification state. Payout-affecting
// actions require KycVerified, re-checked at the point of use.
type KycStatus string

const (
	KycPending   KycStatus = "pending"
	KycSubmitted KycStatus = "submitted"
	KycVerified  KycStatus = "verified"
	KycRejected  KycStatus = "rejected"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	KycStatus    KycStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
