package domain

import "time"

// Claims are the identity facts carried inside a session token.
type Claims struct {
	TokenID   string    `json:"-"`
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Principal Profile
}
