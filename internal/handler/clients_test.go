package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/msspconsole/console/internal/model"
)

func TestSuperadminAssignsClientOnCreate(t *testing.T) {
	env := newTestEnv(t)
	boss := env.session(t, env.seedAccount(t, "boss", model.RoleSuperAdmin))
	x := env.seedAccount(t, "adminx", model.RoleAdmin)
	y := env.seedAccount(t, "adminy", model.RoleAdmin)

	rr := env.do(t, "POST", "/api/admin/clients", toJSON(t, map[string]interface{}{
		"name":    "Acme",
		"url":     "http://acme.example",
		"adminId": x.ID,
	}), boss)
	assertStatus(t, rr, http.StatusCreated)
	var created model.ClientResponse
	decodeJSON(t, rr, &created)
	if !created.Success || created.Client.Name != "Acme" {
		t.Fatalf("created = %+v", created)
	}

	var xs []model.RedactedClient
	decodeJSON(t, env.do(t, "GET", "/api/clients", nil, env.session(t, x)), &xs)
	if len(xs) != 1 || xs[0].ID != created.Client.ID {
		t.Errorf("adminx list = %+v", xs)
	}

	var ys []model.RedactedClient
	decodeJSON(t, env.do(t, "GET", "/api/clients", nil, env.session(t, y)), &ys)
	if len(ys) != 0 {
		t.Errorf("adminy list should be empty, got %+v", ys)
	}

	path := fmt.Sprintf("/api/clients/%d", created.Client.ID)
	assertStatus(t, env.do(t, "GET", path, nil, env.session(t, y)), http.StatusForbidden)
	assertStatus(t, env.do(t, "GET", path, nil, env.session(t, x)), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/api/clients/9999", nil, env.session(t, x)), http.StatusNotFound)
	assertStatus(t, env.do(t, "GET", "/api/clients/abc", nil, env.session(t, x)), http.StatusBadRequest)
}

func TestCreateClientDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	x := env.session(t, env.seedAccount(t, "adminx", model.RoleAdmin))

	assertStatus(t, env.do(t, "POST", "/api/admin/clients",
		toJSON(t, map[string]string{"name": "Acme", "url": "http://acme.example"}), x), http.StatusCreated)

	rr := env.do(t, "POST", "/api/admin/clients",
		toJSON(t, map[string]string{"name": "acme", "url": "http://other.example"}), x)
	assertStatus(t, rr, http.StatusConflict)
	var body model.StatusResponse
	decodeJSON(t, rr, &body)
	if body.Success || !strings.Contains(body.Message, "already exists") {
		t.Errorf("body = %+v", body)
	}
}

func TestCreateClientValidation(t *testing.T) {
	env := newTestEnv(t)
	x := env.session(t, env.seedAccount(t, "adminx", model.RoleAdmin))

	assertStatus(t, env.do(t, "POST", "/api/admin/clients",
		toJSON(t, map[string]string{"name": "Acme"}), x), http.StatusBadRequest)
	assertStatus(t, env.do(t, "POST", "/api/admin/clients",
		strings.NewReader("[]"), x), http.StatusBadRequest)
}

func TestClientSecretsNeverEchoed(t *testing.T) {
	env := newTestEnv(t)
	xUser := env.seedAccount(t, "adminx", model.RoleAdmin)
	x := env.session(t, xUser)

	rr := env.do(t, "POST", "/api/admin/clients", toJSON(t, map[string]interface{}{
		"name": "Acme",
		"url":  "http://acme.example",
		"graylog": map[string]string{
			"host": "graylog.acme:9000", "username": "reader", "password": "gl-pass", "streamId": "s1",
		},
		"logApi": map[string]string{
			"host": "logs.acme", "username": "stats", "password": "la-pass",
		},
	}), x)
	assertStatus(t, rr, http.StatusCreated)
	if strings.Contains(rr.Body.String(), "gl-pass") || strings.Contains(rr.Body.String(), "la-pass") {
		t.Fatalf("create response leaked a password: %s", rr.Body.String())
	}
	var created model.ClientResponse
	decodeJSON(t, rr, &created)
	if created.Client.Graylog == nil || created.Client.Graylog.Host != "graylog.acme:9000" ||
		created.Client.Graylog.StreamID != "s1" || !created.Client.Graylog.HasPassword {
		t.Errorf("graylog = %+v", created.Client.Graylog)
	}

	path := fmt.Sprintf("/api/clients/%d", created.Client.ID)
	rr = env.do(t, "GET", path, nil, x)
	if strings.Contains(rr.Body.String(), "gl-pass") {
		t.Fatalf("read leaked a password: %s", rr.Body.String())
	}

	// An edit form submits the connection back without the password.
	rr = env.do(t, "PUT", fmt.Sprintf("/api/admin/clients/%d", created.Client.ID), toJSON(t, map[string]interface{}{
		"name":        "Acme",
		"url":         "http://acme.example",
		"description": "edited",
		"graylog": map[string]string{
			"host": "graylog.acme:9000", "username": "reader", "streamId": "s2",
		},
	}), x)
	assertStatus(t, rr, http.StatusOK)

	stored, err := env.store.GetClient(context.Background(), created.Client.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if stored.Graylog.Password != "gl-pass" || stored.Graylog.StreamID != "s2" {
		t.Errorf("stored graylog = %+v", stored.Graylog)
	}
	if stored.LogAPI != nil {
		t.Errorf("omitted log api should be cleared, got %+v", stored.LogAPI)
	}
}

func TestUpdateDeleteScoping(t *testing.T) {
	env := newTestEnv(t)
	x := env.session(t, env.seedAccount(t, "adminx", model.RoleAdmin))
	y := env.session(t, env.seedAccount(t, "adminy", model.RoleAdmin))

	rr := env.do(t, "POST", "/api/admin/clients", toJSON(t, map[string]string{"name": "Acme", "url": "http://a"}), x)
	var created model.ClientResponse
	decodeJSON(t, rr, &created)
	path := fmt.Sprintf("/api/admin/clients/%d", created.Client.ID)
	body := map[string]string{"name": "Acme", "url": "http://b"}

	assertStatus(t, env.do(t, "PUT", path, toJSON(t, body), y), http.StatusForbidden)
	assertStatus(t, env.do(t, "DELETE", path, nil, y), http.StatusForbidden)
	assertStatus(t, env.do(t, "PUT", "/api/admin/clients/4242", toJSON(t, body), x), http.StatusNotFound)

	assertStatus(t, env.do(t, "PUT", path, toJSON(t, body), x), http.StatusOK)
	assertStatus(t, env.do(t, "DELETE", path, nil, x), http.StatusOK)
	assertStatus(t, env.do(t, "DELETE", path, nil, x), http.StatusNotFound)
}

func TestAssignAndUnassign(t *testing.T) {
	env := newTestEnv(t)
	xUser := env.seedAccount(t, "adminx", model.RoleAdmin)
	yUser := env.seedAccount(t, "adminy", model.RoleAdmin)
	x := env.session(t, xUser)
	boss := env.session(t, env.seedAccount(t, "boss", model.RoleSuperAdmin))

	rr := env.do(t, "POST", "/api/admin/clients", toJSON(t, map[string]string{"name": "Acme", "url": "http://a"}), x)
	var created model.ClientResponse
	decodeJSON(t, rr, &created)
	base := fmt.Sprintf("/api/admin/clients/%d/admins", created.Client.ID)

	assertStatus(t, env.do(t, "POST", base, toJSON(t, map[string]int64{"adminId": yUser.ID}), x), http.StatusForbidden)
	assertStatus(t, env.do(t, "POST", base, toJSON(t, map[string]int64{"adminId": yUser.ID}), boss), http.StatusCreated)
	assertStatus(t, env.do(t, "POST", base, toJSON(t, map[string]int64{"adminId": yUser.ID}), boss), http.StatusConflict)
	assertStatus(t, env.do(t, "POST", base, toJSON(t, map[string]int64{}), boss), http.StatusBadRequest)

	unassign := fmt.Sprintf("%s/%d", base, yUser.ID)
	assertStatus(t, env.do(t, "DELETE", unassign, nil, boss), http.StatusOK)
	assertStatus(t, env.do(t, "DELETE", unassign, nil, boss), http.StatusNotFound)
}

func TestClientLogs(t *testing.T) {
	graylog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_results": 17}`))
	}))
	defer graylog.Close()

	env := newTestEnv(t)
	x := env.session(t, env.seedAccount(t, "adminx", model.RoleAdmin))
	y := env.session(t, env.seedAccount(t, "adminy", model.RoleAdmin))

	rr := env.do(t, "POST", "/api/admin/clients", toJSON(t, map[string]interface{}{
		"name":    "Acme",
		"url":     "http://a",
		"graylog": map[string]string{"host": graylog.URL, "username": "u", "password": "p", "streamId": "s"},
	}), x)
	var created model.ClientResponse
	decodeJSON(t, rr, &created)
	id := created.Client.ID

	rr = env.do(t, "GET", fmt.Sprintf("/api/clients/%d/logs", id), nil, x)
	assertStatus(t, rr, http.StatusOK)
	var logs logCountResponse
	decodeJSON(t, rr, &logs)
	if !logs.Success || logs.LogCount != 17 || logs.ClientName != "Acme" || logs.TimeRange.From == "" {
		t.Errorf("logs = %+v", logs)
	}

	assertStatus(t, env.do(t, "GET", fmt.Sprintf("/api/clients/%d/logs", id), nil, y), http.StatusForbidden)
	assertStatus(t, env.do(t, "GET", fmt.Sprintf("/api/clients/%d/logstats", id), nil, x), http.StatusNotFound)

	graylog.Close()
	assertStatus(t, env.do(t, "GET", fmt.Sprintf("/api/clients/%d/logs", id), nil, x), http.StatusBadGateway)
}

func TestClientRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	assertStatus(t, env.do(t, "GET", "/api/clients", nil), http.StatusUnauthorized)
}
