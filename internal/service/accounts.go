package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/store"
)

// NewAccount is the input for creating an admin or superadmin.
type NewAccount struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
	City         string `json:"city"`
	State        string `json:"state"`
}

// Validate requires every field to be non-blank.
func (n NewAccount) Validate() error {
	for _, v := range []string{n.Username, n.Password, n.Name, n.Email, n.Organization, n.City, n.State} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: all fields are required", ErrInvalidInput)
		}
	}
	return nil
}

// ValidateProfile requires every editable profile field to be non-blank.
func ValidateProfile(p store.ProfileUpdate) error {
	for _, v := range []string{p.Name, p.Email, p.Organization, p.City, p.State} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: all fields are required", ErrInvalidInput)
		}
	}
	return nil
}

// CanManage reports whether an actor holding role may block or edit an
// account holding target. The main superadmin is never managed this way.
func CanManage(role, target model.Role) bool {
	switch target {
	case model.RoleAdmin:
		return role.AtLeast(model.RoleSuperAdmin)
	case model.RoleSuperAdmin:
		return role == model.RoleMainSuperAdmin
	default:
		return false
	}
}

// AccountService creates and manages console accounts.
type AccountService struct {
	store      *store.Store
	bcryptCost int
}

// NewAccountService creates the service. Costs below MinBcryptCost are raised.
func NewAccountService(st *store.Store, bcryptCost int) *AccountService {
	if bcryptCost < MinBcryptCost {
		bcryptCost = MinBcryptCost
	}
	return &AccountService{store: st, bcryptCost: bcryptCost}
}

// Create adds an admin or superadmin. The main superadmin can only be made
// through Bootstrap.
func (s *AccountService) Create(ctx context.Context, in NewAccount, role model.Role) (*model.User, error) {
	if role != model.RoleAdmin && role != model.RoleSuperAdmin {
		return nil, ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.create(ctx, in, role)
}

func (s *AccountService) create(ctx context.Context, in NewAccount, role model.Role) (*model.User, error) {
	existing, err := s.store.FindByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, store.ErrDuplicate
	}

	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Username:     in.Username,
		PasswordHash: hash,
		Role:         role,
		Name:         in.Name,
		Email:        in.Email,
		Organization: in.Organization,
		City:         in.City,
		State:        in.State,
	}
	// The unique constraints still decide races the pre-check missed.
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Bootstrap creates the single main superadmin. It fails with
// ErrAlreadyBootstrapped once one exists.
func (s *AccountService) Bootstrap(ctx context.Context, username, password, email string) (*model.User, error) {
	n, err := s.store.CountUsersByRole(ctx, model.RoleMainSuperAdmin)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrAlreadyBootstrapped
	}
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if email == "" {
		email = username + "@example.com"
	}
	return s.create(ctx, NewAccount{
		Username: username,
		Password: password,
		Name:     "Main Superadmin",
		Email:    email,
	}, model.RoleMainSuperAdmin)
}

// Get returns the account with id if it holds role.
func (s *AccountService) Get(ctx context.Context, id int64, role model.Role) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, store.ErrNotFound
	}
	return u, nil
}

// List returns every account holding role.
func (s *AccountService) List(ctx context.Context, role model.Role) ([]model.User, error) {
	return s.store.ListUsersByRole(ctx, role)
}

// ListWithClients returns every account holding role with its clients.
func (s *AccountService) ListWithClients(ctx context.Context, role model.Role) ([]model.UserWithClients, error) {
	return s.store.ListUsersWithClients(ctx, role)
}

// ClientsOf lists the clients assigned to the account with id and role.
func (s *AccountService) ClientsOf(ctx context.Context, id int64, role model.Role) ([]model.Client, error) {
	if _, err := s.Get(ctx, id, role); err != nil {
		return nil, err
	}
	return s.store.ListClientsForUser(ctx, id)
}

// UpdateProfile replaces the profile of the account with id and role.
func (s *AccountService) UpdateProfile(ctx context.Context, a *Actor, id int64, role model.Role, p store.ProfileUpdate) (*model.User, error) {
	if err := ValidateProfile(p); err != nil {
		return nil, err
	}
	target, err := s.Get(ctx, id, role)
	if err != nil {
		return nil, err
	}
	if !CanManage(a.Role, target.Role) {
		return nil, ErrForbidden
	}
	if _, err := s.store.UpdateUser(ctx, id, p); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, id)
}

// SetBlocked blocks or unblocks the account with id and role. Repeating the
// current value succeeds.
func (s *AccountService) SetBlocked(ctx context.Context, a *Actor, id int64, role model.Role, blocked bool) error {
	target, err := s.Get(ctx, id, role)
	if err != nil {
		return err
	}
	return s.setBlocked(ctx, a, target, blocked)
}

// SetBlockedByUsername is SetBlocked keyed by username.
func (s *AccountService) SetBlockedByUsername(ctx context.Context, a *Actor, username string, role model.Role, blocked bool) error {
	target, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	if target == nil || target.Role != role {
		return store.ErrNotFound
	}
	return s.setBlocked(ctx, a, target, blocked)
}

func (s *AccountService) setBlocked(ctx context.Context, a *Actor, target *model.User, blocked bool) error {
	if !CanManage(a.Role, target.Role) {
		return ErrForbidden
	}
	n, err := s.store.SetBlocked(ctx, target.ID, blocked)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes the account with id and role. Its assignments go with it.
func (s *AccountService) Delete(ctx context.Context, id int64, role model.Role) error {
	if _, err := s.Get(ctx, id, role); err != nil {
		return err
	}
	return s.store.DeleteUser(ctx, id)
}
