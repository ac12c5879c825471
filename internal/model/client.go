package model

import "time"

// Client is a monitored external service shown on the dashboard.
type Client struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	Description string         `json:"description"`
	Graylog     *GraylogConfig `json:"graylog,omitempty"`
	LogAPI      *LogAPIConfig  `json:"logApi,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// GraylogConfig holds the connection to a Graylog search API. The password
// is accepted on input and never serialized back out.
type GraylogConfig struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	StreamID string `json:"streamId"`
}

// LogAPIConfig holds the connection to a bearer-token log statistics API.
type LogAPIConfig struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// Redacted returns a copy of c with every connection password cleared and
// HasPassword markers set so edit forms can show that a secret exists.
func (c Client) Redacted() RedactedClient {
	out := RedactedClient{
		ID:          c.ID,
		Name:        c.Name,
		URL:         c.URL,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.Graylog != nil {
		out.Graylog = &RedactedGraylog{
			Host:        c.Graylog.Host,
			Username:    c.Graylog.Username,
			StreamID:    c.Graylog.StreamID,
			HasPassword: c.Graylog.Password != "",
		}
	}
	if c.LogAPI != nil {
		out.LogAPI = &RedactedLogAPI{
			Host:        c.LogAPI.Host,
			Username:    c.LogAPI.Username,
			HasPassword: c.LogAPI.Password != "",
		}
	}
	return out
}

// RedactedClient is the outbound form of Client.
type RedactedClient struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	URL         string           `json:"url"`
	Description string           `json:"description"`
	Graylog     *RedactedGraylog `json:"graylog,omitempty"`
	LogAPI      *RedactedLogAPI  `json:"logApi,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type RedactedGraylog struct {
	Host        string `json:"host"`
	Username    string `json:"username"`
	StreamID    string `json:"streamId"`
	HasPassword bool   `json:"hasPassword"`
}

type RedactedLogAPI struct {
	Host        string `json:"host"`
	Username    string `json:"username"`
	HasPassword bool   `json:"hasPassword"`
}

// Assignment binds a client to an admin responsible for it.
type Assignment struct {
	ID        int64     `json:"id" db:"id"`
	ClientID  int64     `json:"client_id" db:"client_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
