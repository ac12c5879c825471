package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/service"
	"github.com/msspconsole/console/internal/store"
)

// AccountHandler manages admin and superadmin accounts.
type AccountHandler struct {
	accounts *service.AccountService
	scope    *service.Scope
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts *service.AccountService, scope *service.Scope, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, scope: scope, logger: logger}
}

var (
	adminMessages = messages{
		notFound:  "Admin not found",
		duplicate: "User with this username or email already exists",
		forbidden: "You are not allowed to manage this admin",
	}
	superAdminMessages = messages{
		notFound:  "Superadmin not found",
		duplicate: "User with this username or email already exists",
		forbidden: "You are not allowed to manage this superadmin",
	}
)

// blockRequest distinguishes a missing field from false.
type blockRequest struct {
	Blocked *bool `json:"blocked"`
}

// readBlocked accepts only a JSON boolean.
func readBlocked(r *http.Request) (bool, bool) {
	var req blockRequest
	if err := readJSON(r, &req); err != nil || req.Blocked == nil {
		return false, false
	}
	return *req.Blocked, true
}

// ---------------------------------------------------------------------------
// Admins
// ---------------------------------------------------------------------------

// CreateAdmin adds an admin account. The new admin enrolls in MFA on first
// login.
// POST /api/admin/admins
func (h *AccountHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	u, ok := h.create(w, r, model.RoleAdmin, adminMessages)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, model.UserResponse{
		Success: true,
		Message: "Admin created successfully. They will need to setup MFA on first login.",
		Admin:   u,
	})
}

// ListAdmins returns every admin with the clients assigned to them.
// GET /api/admin/admins
func (h *AccountHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.accounts.ListWithClients(r.Context(), model.RoleAdmin)
	if err != nil {
		writeServiceError(w, r, h.logger, err, adminMessages)
		return
	}
	out := make([]adminWithClients, len(admins))
	for i, a := range admins {
		out[i] = adminWithClients{User: a.User, Clients: redactAll(a.Clients)}
	}
	writeJSON(w, http.StatusOK, out)
}

// adminWithClients is the list form of an admin. Connection secrets of the
// nested clients are redacted.
type adminWithClients struct {
	model.User
	Clients []model.RedactedClient `json:"clients"`
}

// GetAdmin returns one admin.
// GET /api/admin/admins/{id}
func (h *AccountHandler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	u, err := h.accounts.Get(r.Context(), id, model.RoleAdmin)
	if err != nil {
		writeServiceError(w, r, h.logger, err, adminMessages)
		return
	}
	writeJSON(w, http.StatusOK, model.UserResponse{Success: true, Admin: u})
}

// AdminClients lists the clients assigned to one admin.
// GET /api/admin/admins/{id}/clients
func (h *AccountHandler) AdminClients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	clients, err := h.accounts.ClientsOf(r.Context(), id, model.RoleAdmin)
	if err != nil {
		writeServiceError(w, r, h.logger, err, adminMessages)
		return
	}
	writeJSON(w, http.StatusOK, redactAll(clients))
}

// UpdateAdmin replaces an admin's profile fields.
// PUT /api/admin/admins/{id}
func (h *AccountHandler) UpdateAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	var p store.ProfileUpdate
	if err := readJSON(r, &p); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, adminMessages)
		return
	}
	u, err := h.accounts.UpdateProfile(r.Context(), actor, id, model.RoleAdmin, p)
	if err != nil {
		writeServiceError(w, r, h.logger, err, messages{
			notFound:  adminMessages.notFound,
			forbidden: adminMessages.forbidden,
			duplicate: "Another user already uses this email",
		})
		return
	}
	writeJSON(w, http.StatusOK, model.UserResponse{Success: true, Message: "Admin updated successfully", Admin: u})
}

// BlockAdmin sets an admin's blocked flag.
// PATCH /api/admin/admins/{id}/block
func (h *AccountHandler) BlockAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	blocked, ok := readBlocked(r)
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid blocked status")
		return
	}
	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, adminMessages)
		return
	}
	if err := h.accounts.SetBlocked(r.Context(), actor, id, model.RoleAdmin, blocked); err != nil {
		writeServiceError(w, r, h.logger, err, adminMessages)
		return
	}

	h.logger.Info("admin block status changed", "admin_id", id, "blocked", blocked, "by", actor.Username)
	writeJSON(w, http.StatusOK, model.StatusResponse{
		Success: true,
		Message: fmt.Sprintf("Admin %s successfully", blockVerb(blocked)),
	})
}

// ---------------------------------------------------------------------------
// Superadmins
// ---------------------------------------------------------------------------

// CreateSuperAdmin adds a superadmin account.
// POST /api/admin/superadmins
func (h *AccountHandler) CreateSuperAdmin(w http.ResponseWriter, r *http.Request) {
	u, ok := h.create(w, r, model.RoleSuperAdmin, superAdminMessages)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, model.UserResponse{
		Success:    true,
		Message:    "Superadmin created successfully",
		SuperAdmin: u,
	})
}

// ListSuperAdmins returns every superadmin.
// GET /api/admin/superadmins
func (h *AccountHandler) ListSuperAdmins(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.List(r.Context(), model.RoleSuperAdmin)
	if err != nil {
		writeServiceError(w, r, h.logger, err, superAdminMessages)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// BlockSuperAdmin sets a superadmin's blocked flag.
// PATCH /api/admin/superadmins/{username}/block
func (h *AccountHandler) BlockSuperAdmin(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	blocked, ok := readBlocked(r)
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid blocked status")
		return
	}
	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, superAdminMessages)
		return
	}
	if err := h.accounts.SetBlockedByUsername(r.Context(), actor, username, model.RoleSuperAdmin, blocked); err != nil {
		writeServiceError(w, r, h.logger, err, superAdminMessages)
		return
	}

	h.logger.Info("superadmin block status changed", "username", username, "blocked", blocked, "by", actor.Username)
	writeJSON(w, http.StatusOK, model.StatusResponse{
		Success: true,
		Message: fmt.Sprintf("Superadmin %s successfully", blockVerb(blocked)),
	})
}

func (h *AccountHandler) create(w http.ResponseWriter, r *http.Request, role model.Role, msgs messages) (*model.User, bool) {
	var in service.NewAccount
	if err := readJSON(r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	u, err := h.accounts.Create(r.Context(), in, role)
	if err != nil {
		writeServiceError(w, r, h.logger, err, msgs)
		return nil, false
	}

	by := ""
	if actor, err := actorFor(r, h.scope); err == nil {
		by = actor.Username
	}
	h.logger.Info("account created", "username", u.Username, "role", role.String(), "by", by)
	return u, true
}

func blockVerb(blocked bool) string {
	if blocked {
		return "blocked"
	}
	return "unblocked"
}
