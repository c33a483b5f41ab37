package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Role is a membership tag on a user account
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleSeller    Role = "seller"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// ParseRole rejects anything outside the known role set
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCustomer, RoleSeller, RoleAdmin, RoleModerator:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Roles is the set of roles held by a user. Stored as a Postgres text[].
type Roles []Role

// Has reports membership of role in the set
func (rs Roles) Has(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// With returns a copy of the set including role
func (rs Roles) With(role Role) Roles {
	if rs.Has(role) {
		return append(Roles{}, rs...)
	}
	out := make(Roles, 0, len(rs)+1)
	out = append(out, rs...)
	return append(out, role)
}

// Without returns a copy of the set excluding role
func (rs Roles) Without(role Role) Roles {
	out := make(Roles, 0, len(rs))
	for _, r := range rs {
		if r != role {
			out = append(out, r)
		}
	}
	return out
}

// Value implements driver.Valuer
func (rs Roles) Value() (driver.Value, error) {
	arr := make(pq.StringArray, len(rs))
	for i, r := range rs {
		arr[i] = string(r)
	}
	return arr.Value()
}

// Scan implements sql.Scanner
func (rs *Roles) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("scan roles: %w", err)
	}
	out := make(Roles, 0, len(arr))
	for _, s := range arr {
		r, err := ParseRole(s)
		if err != nil {
			return err
		}
		out = append(out, r)
	}
	*rs = out
	return nil
}

// KYCStatus is the identity verification state of a user
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
)

func ParseKYCStatus(s string) (KYCStatus, error) {
	switch k := KYCStatus(s); k {
	case KYCPending, KYCVerified, KYCRejected:
		return k, nil
	}
	return "", fmt.Errorf("unknown kyc status %q", s)
}

func (k *KYCStatus) UnmarshalText(b []byte) error {
	v, err := ParseKYCStatus(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// CanTransitionTo reports whether a KYC review may move from k to next.
// Only a pending review can be decided.
func (k KYCStatus) CanTransitionTo(next KYCStatus) bool {
	return k == KYCPending && (next == KYCVerified || next == KYCRejected)
}

// User is an account on the marketplace
type User struct {
	ID             int64           `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Email          string          `db:"email" json:"email"`
	Phone          *string         `db:"phone" json:"phone,omitempty"`
	PasswordHash   string          `db:"password_hash" json:"-"`
	Roles          Roles           `db:"roles" json:"roles"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	KYCStatus      KYCStatus       `db:"kyc_status" json:"kyc_status"`
	KYCVerifiedAt  *time.Time      `db:"kyc_verified_at" json:"kyc_verified_at,omitempty"`
	SellerRating   decimal.Decimal `db:"seller_rating" json:"seller_rating"`
	SellerVerified bool            `db:"seller_verified" json:"seller_verified"`
	TotalSales     int             `db:"total_sales" json:"total_sales"`
	TotalRevenue   decimal.Decimal `db:"total_revenue" json:"total_revenue"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// HasRole reports whether the user holds role
func (u *User) HasRole(role Role) bool {
	return u.Roles.Has(role)
}

// Actor returns the caller identity for this user
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Roles: append(Roles{}, u.Roles...)}
}

// Actor is the verified identity of the caller of an operation
type Actor struct {
	ID    int64
	Roles Roles
}

// IsStaff reports whether the actor may act on entities it is not a party to
func (a Actor) IsStaff() bool {
	return a.Roles.Has(RoleAdmin) || a.Roles.Has(RoleModerator)
}

func (a Actor) IsAdmin() bool {
	return a.Roles.Has(RoleAdmin)
}
