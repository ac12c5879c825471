package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msspconsole/console/internal/model"
)

// clientRow is a flat struct that maps 1:1 to the clients table columns.
// model.Client nests the Graylog and log API connections, which are stored
// as nullable column groups.
type clientRow struct {
	ID              int64          `db:"id"`
	Name            string         `db:"name"`
	URL             string         `db:"url"`
	Description     string         `db:"description"`
	GraylogHost     sql.NullString `db:"graylog_host"`
	GraylogUsername sql.NullString `db:"graylog_username"`
	GraylogPassword sql.NullString `db:"graylog_password"`
	GraylogStreamID sql.NullString `db:"graylog_stream_id"`
	LogAPIHost      sql.NullString `db:"log_api_host"`
	LogAPIUsername  sql.NullString `db:"log_api_username"`
	LogAPIPassword  sql.NullString `db:"log_api_password"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func nullString(s string, present bool) sql.NullString {
	return sql.NullString{String: s, Valid: present}
}

func clientRowFromModel(c *model.Client) clientRow {
	row := clientRow{
		ID:          c.ID,
		Name:        c.Name,
		URL:         c.URL,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if g := c.Graylog; g != nil {
		row.GraylogHost = nullString(g.Host, true)
		row.GraylogUsername = nullString(g.Username, true)
		row.GraylogPassword = nullString(g.Password, true)
		row.GraylogStreamID = nullString(g.StreamID, true)
	}
	if l := c.LogAPI; l != nil {
		row.LogAPIHost = nullString(l.Host, true)
		row.LogAPIUsername = nullString(l.Username, true)
		row.LogAPIPassword = nullString(l.Password, true)
	}
	return row
}

func (r clientRow) toModel() model.Client {
	c := model.Client{
		ID:          r.ID,
		Name:        r.Name,
		URL:         r.URL,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.GraylogHost.Valid {
		c.Graylog = &model.GraylogConfig{
			Host:     r.GraylogHost.String,
			Username: r.GraylogUsername.String,
			Password: r.GraylogPassword.String,
			StreamID: r.GraylogStreamID.String,
		}
	}
	if r.LogAPIHost.Valid {
		c.LogAPI = &model.LogAPIConfig{
			Host:     r.LogAPIHost.String,
			Username: r.LogAPIUsername.String,
			Password: r.LogAPIPassword.String,
		}
	}
	return c
}

const clientColumns = `clients.id, clients.name, clients.url, clients.description,
	clients.graylog_host, clients.graylog_username, clients.graylog_password, clients.graylog_stream_id,
	clients.log_api_host, clients.log_api_username, clients.log_api_password,
	clients.created_at, clients.updated_at`

// CreateClient inserts a new client and assigns it to ownerID in the same
// transaction. The ID, CreatedAt, and UpdatedAt fields on c are populated
// after a successful insert. A case-insensitive name collision returns
// ErrDuplicate; an unknown owner returns ErrNotFound.
func (s *Store) CreateClient(ctx context.Context, c *model.Client, ownerID int64) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO clients
		(name, url, description, graylog_host, graylog_username, graylog_password, graylog_stream_id,
		 log_api_host, log_api_username, log_api_password, created_at, updated_at)
		VALUES
		(:name, :url, :description, :graylog_host, :graylog_username, :graylog_password, :graylog_stream_id,
		 :log_api_host, :log_api_username, :log_api_password, :created_at, :updated_at)`

	id, err := s.insertReturningID(ctx, tx, q, clientRowFromModel(c))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert client: %w", err)
	}

	if err := s.assign(ctx, tx, id, ownerID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit client: %w", err)
	}
	c.ID = id
	return nil
}

// GetClient returns a client by ID, connection passwords included.
func (s *Store) GetClient(ctx context.Context, id int64) (*model.Client, error) {
	var row clientRow
	q := s.db.Rebind("SELECT " + clientColumns + " FROM clients WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	c := row.toModel()
	return &c, nil
}

// GetClientByName returns a client by name, ignoring case.
func (s *Store) GetClientByName(ctx context.Context, name string) (*model.Client, error) {
	var row clientRow
	q := s.db.Rebind("SELECT " + clientColumns + " FROM clients WHERE LOWER(name) = LOWER(?)")
	if err := s.db.GetContext(ctx, &row, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get client by name: %w", err)
	}
	c := row.toModel()
	return &c, nil
}

// ListClients returns every client.
func (s *Store) ListClients(ctx context.Context) ([]model.Client, error) {
	var rows []clientRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+clientColumns+" FROM clients ORDER BY clients.name"); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clientsFromRows(rows), nil
}

// ListClientsForUser returns the clients assigned to userID.
func (s *Store) ListClientsForUser(ctx context.Context, userID int64) ([]model.Client, error) {
	var rows []clientRow
	q := s.db.Rebind(`SELECT ` + clientColumns + ` FROM clients
		JOIN client_admins ON clients.id = client_admins.client_id
		WHERE client_admins.user_id = ?
		ORDER BY clients.name`)
	if err := s.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, fmt.Errorf("list clients for user: %w", err)
	}
	return clientsFromRows(rows), nil
}

func clientsFromRows(rows []clientRow) []model.Client {
	clients := make([]model.Client, len(rows))
	for i, r := range rows {
		clients[i] = r.toModel()
	}
	return clients
}

// UpdateClient replaces every column of an existing client. The UpdatedAt
// field on c is refreshed automatically.
func (s *Store) UpdateClient(ctx context.Context, c *model.Client) error {
	c.UpdatedAt = time.Now().UTC()

	const q = `UPDATE clients SET
		name = :name, url = :url, description = :description,
		graylog_host = :graylog_host, graylog_username = :graylog_username,
		graylog_password = :graylog_password, graylog_stream_id = :graylog_stream_id,
		log_api_host = :log_api_host, log_api_username = :log_api_username,
		log_api_password = :log_api_password, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, clientRowFromModel(c))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update client: %w", err)
	}
	n, err := affected(result, "update client")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteClient removes a client by ID. Its assignment rows are cascade
// deleted by the foreign key constraint.
func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM clients WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	n, err := affected(result, "delete client")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Client-admin assignments
// ---------------------------------------------------------------------------

// Assign makes userID responsible for clientID. Assigning the same pair twice
// returns ErrDuplicate; an unknown client or user returns ErrNotFound.
func (s *Store) Assign(ctx context.Context, clientID, userID int64) error {
	return s.assign(ctx, s.db, clientID, userID, time.Now().UTC())
}

func (s *Store) assign(ctx context.Context, ext sqlx.ExtContext, clientID, userID int64, now time.Time) error {
	q := ext.Rebind("INSERT INTO client_admins (client_id, user_id, created_at) VALUES (?, ?, ?)")
	if _, err := ext.ExecContext(ctx, q, clientID, userID, now); err != nil {
		switch {
		case isUniqueViolation(err):
			return ErrDuplicate
		case isForeignKeyViolation(err):
			return ErrNotFound
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// Unassign removes the pair. It returns ErrNotFound when no such assignment
// exists.
func (s *Store) Unassign(ctx context.Context, clientID, userID int64) error {
	q := s.db.Rebind("DELETE FROM client_admins WHERE client_id = ? AND user_id = ?")
	result, err := s.db.ExecContext(ctx, q, clientID, userID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	n, err := affected(result, "delete assignment")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsAssigned reports whether userID is responsible for clientID.
func (s *Store) IsAssigned(ctx context.Context, clientID, userID int64) (bool, error) {
	var count int
	q := s.db.Rebind("SELECT COUNT(*) FROM client_admins WHERE client_id = ? AND user_id = ?")
	if err := s.db.GetContext(ctx, &count, q, clientID, userID); err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return count > 0, nil
}

// ListAssignments returns every assignment row of a client.
func (s *Store) ListAssignments(ctx context.Context, clientID int64) ([]model.Assignment, error) {
	var out []model.Assignment
	q := s.db.Rebind("SELECT id, client_id, user_id, created_at FROM client_admins WHERE client_id = ? ORDER BY id")
	if err := s.db.SelectContext(ctx, &out, q, clientID); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return out, nil
}

// ListUsersWithClients returns every account of the given role together with
// the clients assigned to it.
func (s *Store) ListUsersWithClients(ctx context.Context, role model.Role) ([]model.UserWithClients, error) {
	users, err := s.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, err
	}

	out := make([]model.UserWithClients, len(users))
	for i := range users {
		clients, err := s.ListClientsForUser(ctx, users[i].ID)
		if err != nil {
			return nil, fmt.Errorf("clients for user %d: %w", users[i].ID, err)
		}
		out[i] = model.UserWithClients{User: users[i], Clients: clients}
	}
	return out, nil
}
