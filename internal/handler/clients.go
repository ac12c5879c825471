package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/msspconsole/console/internal/logsource"
	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/service"
)

// statsTimeRange is the window requested from the log statistics API.
const statsTimeRange = "24h"

// ClientHandler serves monitored clients, their assignments and their live
// log counters. Every operation is scoped to the caller.
type ClientHandler struct {
	scope  *service.Scope
	logs   *logsource.Client
	logger *slog.Logger
}

// NewClientHandler creates a new ClientHandler.
func NewClientHandler(scope *service.Scope, logs *logsource.Client, logger *slog.Logger) *ClientHandler {
	return &ClientHandler{scope: scope, logs: logs, logger: logger}
}

var clientMessages = messages{
	notFound:  "Client not found",
	forbidden: "You are not authorized to access this client",
}

// clientRequest is the payload for creating or replacing a client.
type clientRequest struct {
	Name        string               `json:"name"`
	URL         string               `json:"url"`
	Description string               `json:"description"`
	Graylog     *model.GraylogConfig `json:"graylog"`
	LogAPI      *model.LogAPIConfig  `json:"logApi"`
	AdminID     int64                `json:"adminId"`
}

func (req *clientRequest) toModel() *model.Client {
	return &model.Client{
		Name:        strings.TrimSpace(req.Name),
		URL:         strings.TrimSpace(req.URL),
		Description: req.Description,
		Graylog:     req.Graylog,
		LogAPI:      req.LogAPI,
	}
}

func redactAll(clients []model.Client) []model.RedactedClient {
	out := make([]model.RedactedClient, len(clients))
	for i := range clients {
		out[i] = clients[i].Redacted()
	}
	return out
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// List returns the clients visible to the caller.
// GET /api/clients
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return
	}
	clients, err := h.scope.Clients(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return
	}
	writeJSON(w, http.StatusOK, redactAll(clients))
}

// Get returns one client.
// GET /api/clients/{id}
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.scopedClient(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Redacted())
}

type logCountResponse struct {
	Success    bool      `json:"success"`
	ClientID   int64     `json:"clientId"`
	ClientName string    `json:"clientName"`
	LogCount   int64     `json:"logCount"`
	TimeRange  timeRange `json:"timeRange"`
}

type timeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Logs returns how many messages the client's Graylog stream received in the
// last ten seconds.
// GET /api/clients/{id}/logs
func (h *ClientHandler) Logs(w http.ResponseWriter, r *http.Request) {
	c, ok := h.scopedClient(w, r)
	if !ok {
		return
	}
	count, err := h.logs.CountRecent(r.Context(), c.Graylog)
	if err != nil {
		writeServiceError(w, r, h.logger, err, messages{notFound: "Client or Graylog config not found"})
		return
	}
	writeJSON(w, http.StatusOK, logCountResponse{
		Success:    true,
		ClientID:   c.ID,
		ClientName: c.Name,
		LogCount:   count.Total,
		TimeRange:  timeRange{From: count.From, To: count.To},
	})
}

type logStatsResponse struct {
	Success bool        `json:"success"`
	Stats   interface{} `json:"stats"`
}

// LogStats proxies the 24 hour overview of the client's log statistics API.
// GET /api/clients/{id}/logstats
func (h *ClientHandler) LogStats(w http.ResponseWriter, r *http.Request) {
	c, ok := h.scopedClient(w, r)
	if !ok {
		return
	}
	stats, err := h.logs.StatsOverview(r.Context(), c.LogAPI, statsTimeRange)
	if err != nil {
		writeServiceError(w, r, h.logger, err, messages{notFound: "Client or Log API config not found"})
		return
	}
	writeJSON(w, http.StatusOK, logStatsResponse{Success: true, Stats: stats})
}

func (h *ClientHandler) scopedClient(w http.ResponseWriter, r *http.Request) (*model.Client, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid client ID")
		return nil, false
	}
	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return nil, false
	}
	c, err := h.scope.Client(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return nil, false
	}
	return c, true
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Create adds a client and assigns it. Superadmins may hand it to another
// account with adminId; admins always own what they create.
// POST /api/admin/clients
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := readJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	c := req.toModel()
	if c.Name == "" || c.URL == "" {
		writeFailure(w, http.StatusBadRequest, "Name and URL are required")
		return
	}

	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return
	}
	if err := h.scope.CreateClient(r.Context(), actor, c, req.AdminID); err != nil {
		writeServiceError(w, r, h.logger, err, messages{
			notFound:  fmt.Sprintf("Assigned admin with ID %d not found.", req.AdminID),
			duplicate: fmt.Sprintf("A client with the name %q already exists.", c.Name),
		})
		return
	}

	h.logger.Info("client created", "client_id", c.ID, "name", c.Name, "by", actor.Username)
	writeJSON(w, http.StatusCreated, model.ClientResponse{Success: true, Client: c.Redacted()})
}

// Update replaces a client the caller may manage. Connection passwords left
// empty keep their stored value, since reads never return them.
// PUT /api/admin/clients/{id}
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := readJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	c := req.toModel()
	if c.Name == "" || c.URL == "" {
		writeFailure(w, http.StatusBadRequest, "Name and URL are required")
		return
	}

	current, ok := h.scopedClient(w, r)
	if !ok {
		return
	}
	c.ID = current.ID
	keepPasswords(c, current)

	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return
	}
	if err := h.scope.UpdateClient(r.Context(), actor, c); err != nil {
		writeServiceError(w, r, h.logger, err, messages{
			notFound:  clientMessages.notFound,
			forbidden: clientMessages.forbidden,
			duplicate: fmt.Sprintf("A client with the name %q already exists.", c.Name),
		})
		return
	}
	writeJSON(w, http.StatusOK, model.ClientResponse{Success: true, Client: c.Redacted()})
}

func keepPasswords(next, current *model.Client) {
	if next.Graylog != nil && next.Graylog.Password == "" && current.Graylog != nil {
		next.Graylog.Password = current.Graylog.Password
	}
	if next.LogAPI != nil && next.LogAPI.Password == "" && current.LogAPI != nil {
		next.LogAPI.Password = current.LogAPI.Password
	}
}

// Delete removes a client the caller may manage, together with its
// assignments.
// DELETE /api/admin/clients/{id}
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid client ID")
		return
	}
	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return
	}
	if err := h.scope.DeleteClient(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return
	}

	h.logger.Info("client deleted", "client_id", id, "by", actor.Username)
	writeJSON(w, http.StatusOK, model.StatusResponse{Success: true, Message: "Client deleted successfully"})
}

type assignRequest struct {
	AdminID int64 `json:"adminId"`
}

// Assign gives another account responsibility for a client.
// POST /api/admin/clients/{id}/admins
func (h *ClientHandler) Assign(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid client ID")
		return
	}
	var req assignRequest
	if err := readJSON(r, &req); err != nil || req.AdminID <= 0 {
		writeFailure(w, http.StatusBadRequest, "adminId is required")
		return
	}
	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return
	}
	if err := h.scope.Assign(r.Context(), actor, clientID, req.AdminID); err != nil {
		writeServiceError(w, r, h.logger, err, messages{
			notFound:  "Client or admin not found",
			duplicate: "Admin is already assigned to this client",
		})
		return
	}
	writeJSON(w, http.StatusCreated, model.StatusResponse{Success: true, Message: "Admin assigned successfully"})
}

// Unassign removes an account's responsibility for a client.
// DELETE /api/admin/clients/{id}/admins/{adminId}
func (h *ClientHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(r, "id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid client ID")
		return
	}
	adminID, ok := pathID(r, "adminId")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "Invalid admin ID")
		return
	}
	actor, err := actorFor(r, h.scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err, clientMessages)
		return
	}
	if err := h.scope.Unassign(r.Context(), actor, clientID, adminID); err != nil {
		writeServiceError(w, r, h.logger, err, messages{notFound: "Assignment not found"})
		return
	}
	writeJSON(w, http.StatusOK, model.StatusResponse{Success: true, Message: "Admin unassigned successfully"})
}
