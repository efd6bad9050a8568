package model

import (
	"github.com/shopspring/decimal"
)

// UserStatus is the standing of an account.
type UserStatus string

const (
	UserActive    UserStatus = "Active"
	UserSuspended UserStatus = "Suspended"
	UserBlocked   UserStatus = "Blocked"
)

// Role grants privileges to an account.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// User is a rider account. Credit is an in-database balance and may go negative.
type User struct {
	ID        string
	Name      string
	Credit    decimal.Decimal
	EcoPoints int
	Status    UserStatus
	Role      Role
}

// IsAdmin reports whether the account has the administrator role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
