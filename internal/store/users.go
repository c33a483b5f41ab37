package store

import (
	"context"
	"time"

	"marketplace-service/internal/models"
)

const userColumns = `id, name, email, phone, password_hash, roles, is_active, kyc_status, kyc_verified_at,
	seller_rating, seller_verified, total_sales, total_revenue, created_at, updated_at`

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (name, email, phone, password_hash, roles, is_active, kyc_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, user, query,
		user.Name, user.Email, user.Phone, user.PasswordHash, user.Roles, user.IsActive, user.KYCStatus)
	return mapError(err)
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

// AddUserRole adds role to a user's role set in place, so concurrent grants
// and revokes of different roles never overwrite each other
func (s *Store) AddUserRole(ctx context.Context, id int64, role models.Role) (*models.User, error) {
	return s.changeUserRoles(ctx, id, `
		UPDATE users SET roles = array_append(roles, $2::text), updated_at = NOW()
		WHERE id = $1 AND NOT ($2::text = ANY(roles))
		RETURNING `+userColumns, role)
}

// RemoveUserRole drops role from a user's role set in place
func (s *Store) RemoveUserRole(ctx context.Context, id int64, role models.Role) (*models.User, error) {
	return s.changeUserRoles(ctx, id, `
		UPDATE users SET roles = array_remove(roles, $2::text), updated_at = NOW()
		WHERE id = $1 AND $2::text = ANY(roles)
		RETURNING `+userColumns, role)
}

// changeUserRoles runs a guarded role update. A guard miss means the set
// already had the wanted shape, so the current row is returned.
func (s *Store) changeUserRoles(ctx context.Context, id int64, query string, role models.Role) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, query, id, string(role))
	if err == nil {
		return &user, nil
	}
	if err = mapError(err); err != ErrNotFound {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

// SetUserActive suspends or reinstates a user
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2 RETURNING "+userColumns,
		active, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

// UpdateKYCStatus moves a user's KYC status from one value to another.
// Returns ErrStaleState when the user is no longer in the from state.
func (s *Store) UpdateKYCStatus(ctx context.Context, id int64, from, to models.KYCStatus, at time.Time) (*models.User, error) {
	var verifiedAt *time.Time
	if to == models.KYCVerified {
		verifiedAt = &at
	}

	var user models.User
	err := s.db.GetContext(ctx, &user, `
		UPDATE users SET kyc_status = $1, kyc_verified_at = COALESCE($2, kyc_verified_at), updated_at = NOW()
		WHERE id = $3 AND kyc_status = $4
		RETURNING `+userColumns,
		to, verifiedAt, id, from)
	if err == nil {
		return &user, nil
	}
	if err = mapError(err); err != ErrNotFound {
		return nil, err
	}
	if _, err := s.GetUserByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStaleState
}
