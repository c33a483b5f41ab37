package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const minPasswordLength = 8

// PasswordHasher is satisfied by *auth.BcryptHasher
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// UserService handles accounts, roles and KYC
type UserService struct {
	store  UserStore
	hasher PasswordHasher
	logger *zap.Logger
	now    func() time.Time

	// compared against when the email is unknown so both paths cost one hash
	dummyHash string
}

// NewUserService creates a new user service. It fails when hasher cannot
// produce a hash, which for bcrypt means a cost outside the accepted range.
func NewUserService(store UserStore, hasher PasswordHasher) (*UserService, error) {
	dummy, err := hasher.Hash("marketplace-dummy-credential")
	if err != nil {
		return nil, fmt.Errorf("password hasher unusable: %w", err)
	}
	return &UserService{
		store:     store,
		hasher:    hasher,
		logger:    util.GetLogger(),
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// RegisterRequest represents a request to create an account
type RegisterRequest struct {
	Name     string  `json:"name" binding:"required"`
	Email    string  `json:"email" binding:"required,email"`
	Password string  `json:"password" binding:"required"`
	Phone    *string `json:"phone,omitempty"`
	Seller   bool    `json:"seller"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user. The credential is stored only as a hash.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidf("name is required")
	}
	email := normalizeEmail(req.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, invalidf("invalid email address")
	}
	if len(req.Password) < minPasswordLength {
		return nil, invalidf("password must be at least %d characters", minPasswordLength)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, unexpected("failed to check email", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, unexpected("failed to hash credential", err)
	}

	roles := models.Roles{models.RoleCustomer}
	if req.Seller {
		roles = roles.With(models.RoleSeller)
	}
	user := &models.User{
		Name:         name,
		Email:        email,
		Phone:        req.Phone,
		PasswordHash: hash,
		Roles:        roles,
		IsActive:     true,
		KYCStatus:    models.KYCPending,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if store.IsConstraint(err, store.ConstraintUserEmail) {
			return nil, ErrDuplicateEmail
		}
		util.RecordError(span, err)
		return nil, unexpected("failed to create user", err)
	}

	util.UsersRegisteredTotal.Inc()
	s.logger.Info("User registered", zap.Int64("user_id", user.ID), zap.Bool("seller", req.Seller))
	return user, nil
}

// Authenticate verifies an email/password pair. Unknown emails and wrong
// passwords fail identically.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Authenticate")
	defer span.End()

	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, unexpected("failed to load user", err)
		}
		_ = s.hasher.Compare(s.dummyHash, password)
		util.LoginsTotal.WithLabelValues("unknown").Inc()
		return nil, ErrInvalidCredentials
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		util.LoginsTotal.WithLabelValues("bad_credential").Inc()
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		util.LoginsTotal.WithLabelValues("suspended").Inc()
		return nil, forbidden("account is suspended")
	}

	util.LoginsTotal.WithLabelValues("ok").Inc()
	return user, nil
}

// FindByID retrieves a user by ID
func (s *UserService) FindByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, "user")
	}
	return user, nil
}

// FindByEmail retrieves a user by email
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fromStore(err, "user")
	}
	return user, nil
}

// GrantRole adds role to a user's role set. Admin only.
func (s *UserService) GrantRole(ctx context.Context, actor models.Actor, userID int64, role models.Role) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.GrantRole")
	defer span.End()

	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	updated, err := s.store.AddUserRole(ctx, userID, role)
	if err != nil {
		return nil, fromStore(err, "user")
	}
	s.logRoles(actor, updated, "granted", role)
	return updated, nil
}

// RevokeRole removes role from a user's role set. Admin only.
func (s *UserService) RevokeRole(ctx context.Context, actor models.Actor, userID int64, role models.Role) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.RevokeRole")
	defer span.End()

	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if role == models.RoleAdmin && actor.ID == userID {
		return nil, forbidden("admins cannot revoke their own admin role")
	}
	updated, err := s.store.RemoveUserRole(ctx, userID, role)
	if err != nil {
		return nil, fromStore(err, "user")
	}
	s.logRoles(actor, updated, "revoked", role)
	return updated, nil
}

func (s *UserService) logRoles(actor models.Actor, user *models.User, change string, role models.Role) {
	s.logger.Info("User roles changed",
		zap.Int64("user_id", user.ID),
		zap.Int64("by", actor.ID),
		zap.String(change, string(role)),
		zap.Any("roles", user.Roles))
}

// UpdateKYCStatus decides a pending KYC review. Staff only.
func (s *UserService) UpdateKYCStatus(ctx context.Context, actor models.Actor, userID int64, status models.KYCStatus) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.UpdateKYCStatus")
	defer span.End()

	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fromStore(err, "user")
	}
	if !user.KYCStatus.CanTransitionTo(status) {
		return nil, conflict(CodeInvalidTransition, "kyc status cannot move from "+string(user.KYCStatus)+" to "+string(status))
	}

	updated, err := s.store.UpdateKYCStatus(ctx, userID, user.KYCStatus, status, s.now())
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, conflict(CodeInvalidTransition, "kyc status changed concurrently")
		}
		return nil, fromStore(err, "user")
	}
	s.logger.Info("KYC status updated",
		zap.Int64("user_id", userID),
		zap.String("status", string(status)),
		zap.Int64("by", actor.ID))
	return updated, nil
}

// SetActive suspends or reinstates an account. Admin only.
func (s *UserService) SetActive(ctx context.Context, actor models.Actor, userID int64, active bool) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.SetActive")
	defer span.End()

	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if actor.ID == userID && !active {
		return nil, forbidden("admins cannot suspend themselves")
	}
	user, err := s.store.SetUserActive(ctx, userID, active)
	if err != nil {
		return nil, fromStore(err, "user")
	}
	s.logger.Info("User activity changed", zap.Int64("user_id", userID), zap.Bool("active", active))
	return user, nil
}
