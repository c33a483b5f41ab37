package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService(t *testing.T, m *memStore) *UserService {
	t.Helper()
	svc, err := NewUserService(m, plainHasher{})
	require.NoError(t, err)
	return svc
}

type brokenHasher struct{ plainHasher }

func (brokenHasher) Hash(string) (string, error) { return "", errors.New("cost out of range") }

func TestNewUserServiceRejectsBrokenHasher(t *testing.T) {
	svc, err := NewUserService(newMemStore(), brokenHasher{})
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(t, newMemStore())

	user, err := svc.Register(ctx, RegisterRequest{Name: "Ana", Email: " Ana@Example.com ", Password: "correct horse", Seller: true})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.NotEqual(t, "correct horse", user.PasswordHash)
	assert.True(t, user.HasRole(models.RoleCustomer))
	assert.True(t, user.HasRole(models.RoleSeller))
	assert.Equal(t, models.KYCPending, user.KYCStatus)

	_, err = svc.Register(ctx, RegisterRequest{Name: "Ana 2", Email: "ana@example.com", Password: "another one"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	got, err := svc.Authenticate(ctx, "ANA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "ana@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := newUserService(t, newMemStore())
	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"no name", RegisterRequest{Email: "a@example.com", Password: "longenough"}},
		{"bad email", RegisterRequest{Name: "A", Email: "not-an-email", Password: "longenough"}},
		{"short password", RegisterRequest{Name: "A", Email: "a@example.com", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.req)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestSuspendedUserCannotLogin(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	svc := newUserService(t, m)
	admin := m.addUser("root", models.RoleAdmin)

	user, err := svc.Register(ctx, RegisterRequest{Name: "Bo", Email: "bo@example.com", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.SetActive(ctx, admin, user.ID, false)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "bo@example.com", "password1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SetActive(ctx, admin, admin.ID, false)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRolesAndKYC(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	svc := newUserService(t, m)
	admin := m.addUser("root", models.RoleAdmin)
	user := m.addUser("carla")

	_, err := svc.GrantRole(ctx, user, user.ID, models.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.GrantRole(ctx, admin, user.ID, models.RoleSeller)
	require.NoError(t, err)
	assert.True(t, updated.HasRole(models.RoleSeller))

	updated, err = svc.RevokeRole(ctx, admin, user.ID, models.RoleSeller)
	require.NoError(t, err)
	assert.False(t, updated.HasRole(models.RoleSeller))

	_, err = svc.RevokeRole(ctx, admin, admin.ID, models.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.UpdateKYCStatus(ctx, user, user.ID, models.KYCVerified)
	assert.ErrorIs(t, err, ErrForbidden)

	verified, err := svc.UpdateKYCStatus(ctx, admin, user.ID, models.KYCVerified)
	require.NoError(t, err)
	assert.Equal(t, models.KYCVerified, verified.KYCStatus)
	assert.NotNil(t, verified.KYCVerifiedAt)

	_, err = svc.UpdateKYCStatus(ctx, admin, user.ID, models.KYCRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentRoleChangesAreKept(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	svc := newUserService(t, m)
	first := m.addUser("root", models.RoleAdmin)
	second := m.addUser("ops", models.RoleAdmin)
	user := m.addUser("dana", models.RoleModerator)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	wg.Add(3)
	go func() {
		defer wg.Done()
		_, err := svc.GrantRole(ctx, first, user.ID, models.RoleSeller)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.GrantRole(ctx, second, user.ID, models.RoleAdmin)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.RevokeRole(ctx, first, user.ID, models.RoleModerator)
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := svc.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, models.Roles{models.RoleCustomer, models.RoleSeller, models.RoleAdmin}, got.Roles)

	// granting a held role is a no-op
	again, err := svc.GrantRole(ctx, first, user.ID, models.RoleSeller)
	require.NoError(t, err)
	assert.Len(t, again.Roles, 3)

	_, err = svc.GrantRole(ctx, first, 9999, models.RoleSeller)
	assert.ErrorIs(t, err, ErrNotFound)
}
