package domain

import "time"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainer Role = "trainer"
	RoleMember  Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTrainer, RoleMember:
		return true
	}
	return false
}

type PrincipalStatus string

const (
	StatusActive   PrincipalStatus = "active"
	StatusInactive PrincipalStatus = "inactive"
)

func (s PrincipalStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Principal is a row of the credential store: an administrator, trainer or member
// that can log in.
type Principal struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	Email        string
	FullName     string
	Status       PrincipalStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public view of a Principal. It never carries the password hash.
type Profile struct {
	ID        int64           `json:"id"`
	Username  string          `json:"username"`
	Role      Role            `json:"role"`
	Email     string          `json:"email"`
	FullName  string          `json:"full_name,omitempty"`
	Status    PrincipalStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (p *Principal) Profile() Profile {
	return Profile{
		ID:        p.ID,
		Username:  p.Username,
		Role:      p.Role,
		Email:     p.Email,
		FullName:  p.FullName,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
