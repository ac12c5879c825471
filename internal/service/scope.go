package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/store"
)

// Actor is the account behind an authenticated request, re-read from the
// store so that row scoping uses current data.
type Actor struct {
	ID       int64
	Username string
	Role     model.Role
}

// Scope decides which clients an actor may see and change.
type Scope struct {
	store *store.Store
}

// NewScope creates a Scope backed by st.
func NewScope(st *store.Store) *Scope {
	return &Scope{store: st}
}

// Resolve loads the actor for a validated session. A session naming an
// account that no longer exists is forbidden.
func (s *Scope) Resolve(ctx context.Context, username string) (*Actor, error) {
	u, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrForbidden
	}
	return &Actor{ID: u.ID, Username: u.Username, Role: u.Role}, nil
}

// SeesAllClients reports whether role bypasses assignment filtering.
func SeesAllClients(role model.Role) bool {
	return role.AtLeast(model.RoleSuperAdmin)
}

// Clients lists the clients visible to a.
func (s *Scope) Clients(ctx context.Context, a *Actor) ([]model.Client, error) {
	if SeesAllClients(a.Role) {
		return s.store.ListClients(ctx)
	}
	return s.store.ListClientsForUser(ctx, a.ID)
}

// Client returns a client the actor may act on. A missing client is
// store.ErrNotFound; an existing client outside the actor's assignments is
// ErrForbidden.
func (s *Scope) Client(ctx context.Context, a *Actor, id int64) (*model.Client, error) {
	c, err := s.store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if SeesAllClients(a.Role) {
		return c, nil
	}
	ok, err := s.store.IsAssigned(ctx, id, a.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return c, nil
}

// CreateClient stores c and assigns it. Superadmins may name another
// account through ownerID; everybody else always owns what they create.
func (s *Scope) CreateClient(ctx context.Context, a *Actor, c *model.Client, ownerID int64) error {
	owner := a.ID
	if ownerID != 0 && SeesAllClients(a.Role) {
		target, err := s.store.GetUser(ctx, ownerID)
		if err != nil {
			return err
		}
		if target.Role != model.RoleAdmin && target.Role != model.RoleSuperAdmin {
			return fmt.Errorf("%w: clients can only be assigned to admins or superadmins", ErrInvalidInput)
		}
		owner = target.ID
	}

	existing, err := s.store.GetClientByName(ctx, c.Name)
	switch {
	case err == nil && existing != nil:
		return store.ErrDuplicate
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}
	return s.store.CreateClient(ctx, c, owner)
}

// UpdateClient replaces a client the actor may act on.
func (s *Scope) UpdateClient(ctx context.Context, a *Actor, c *model.Client) error {
	if _, err := s.Client(ctx, a, c.ID); err != nil {
		return err
	}
	return s.store.UpdateClient(ctx, c)
}

// DeleteClient removes a client the actor may act on.
func (s *Scope) DeleteClient(ctx context.Context, a *Actor, id int64) error {
	if _, err := s.Client(ctx, a, id); err != nil {
		return err
	}
	return s.store.DeleteClient(ctx, id)
}

// Assign adds userID as an owner of clientID. Only superadmins and above
// manage assignments explicitly.
func (s *Scope) Assign(ctx context.Context, a *Actor, clientID, userID int64) error {
	if !SeesAllClients(a.Role) {
		return ErrForbidden
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return err
	}
	target, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if target.Role != model.RoleAdmin && target.Role != model.RoleSuperAdmin {
		return fmt.Errorf("%w: clients can only be assigned to admins or superadmins", ErrInvalidInput)
	}
	return s.store.Assign(ctx, clientID, userID)
}

// Unassign removes userID as an owner of clientID.
func (s *Scope) Unassign(ctx context.Context, a *Actor, clientID, userID int64) error {
	if !SeesAllClients(a.Role) {
		return ErrForbidden
	}
	return s.store.Unassign(ctx, clientID, userID)
}
