package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// route describes one console endpoint in the generated document.
type route struct {
	method      string
	path        string
	tag         string
	summary     string
	operationID string
	public      bool
	request     string // component schema name of the JSON body, if any
	status      string
	response    *openapi3.SchemaRef
	minRole     string
}

var routes = []route{
	// Auth
	{method: "POST", path: "/api/auth/setup-mfa", tag: "auth", public: true,
		summary: "Enroll the account in TOTP MFA", operationID: "setupMFA",
		request: "SetupMFARequest", status: "200", response: ref("MFASetupResponse")},
	{method: "POST", path: "/api/auth/login", tag: "auth", public: true,
		summary: "Log in with password and TOTP code", operationID: "login",
		request: "LoginRequest", status: "200", response: ref("LoginResponse")},
	{method: "POST", path: "/api/auth/logout", tag: "auth", public: true,
		summary: "Clear the session cookie", operationID: "logout",
		status: "200", response: ref("StatusResponse")},
	{method: "GET", path: "/api/auth/check", tag: "auth", public: true,
		summary: "Report the current session", operationID: "checkSession",
		status: "200", response: ref("CheckResponse")},

	// Clients
	{method: "GET", path: "/api/clients", tag: "clients", minRole: "admin",
		summary: "List the clients visible to the caller", operationID: "listClients",
		status: "200", response: arrayOf("Client")},
	{method: "GET", path: "/api/clients/{id}", tag: "clients", minRole: "admin",
		summary: "Get one client", operationID: "getClient",
		status: "200", response: ref("Client")},
	{method: "GET", path: "/api/clients/{id}/logs", tag: "clients", minRole: "admin",
		summary: "Count log messages of the last ten seconds", operationID: "getClientLogs",
		status: "200", response: objectSchema()},
	{method: "GET", path: "/api/clients/{id}/logstats", tag: "clients", minRole: "admin",
		summary: "Fetch the log statistics overview", operationID: "getClientLogStats",
		status: "200", response: objectSchema()},
	{method: "POST", path: "/api/admin/clients", tag: "clients", minRole: "admin",
		summary: "Create a client", operationID: "createClient",
		request: "ClientRequest", status: "201", response: ref("ClientResponse")},
	{method: "PUT", path: "/api/admin/clients/{id}", tag: "clients", minRole: "admin",
		summary: "Update an owned client", operationID: "updateClient",
		request: "ClientRequest", status: "200", response: ref("ClientResponse")},
	{method: "DELETE", path: "/api/admin/clients/{id}", tag: "clients", minRole: "admin",
		summary: "Delete an owned client", operationID: "deleteClient",
		status: "200", response: ref("StatusResponse")},
	{method: "POST", path: "/api/admin/clients/{id}/admins", tag: "clients", minRole: "superadmin",
		summary: "Assign an admin to a client", operationID: "assignClient",
		request: "AssignRequest", status: "201", response: ref("StatusResponse")},
	{method: "DELETE", path: "/api/admin/clients/{id}/admins/{adminId}", tag: "clients", minRole: "superadmin",
		summary: "Remove an admin from a client", operationID: "unassignClient",
		status: "200", response: ref("StatusResponse")},

	// Admins
	{method: "POST", path: "/api/admin/admins", tag: "admins", minRole: "superadmin",
		summary: "Create an admin", operationID: "createAdmin",
		request: "AccountRequest", status: "201", response: ref("UserResponse")},
	{method: "GET", path: "/api/admin/admins", tag: "admins", minRole: "superadmin",
		summary: "List admins with their clients", operationID: "listAdmins",
		status: "200", response: arrayOf("User")},
	{method: "GET", path: "/api/admin/admins/{id}", tag: "admins", minRole: "superadmin",
		summary: "Get one admin", operationID: "getAdmin",
		status: "200", response: ref("UserResponse")},
	{method: "GET", path: "/api/admin/admins/{id}/clients", tag: "admins", minRole: "superadmin",
		summary: "List the clients assigned to an admin", operationID: "listAdminClients",
		status: "200", response: arrayOf("Client")},
	{method: "PUT", path: "/api/admin/admins/{id}", tag: "admins", minRole: "superadmin",
		summary: "Update an admin's profile", operationID: "updateAdmin",
		request: "ProfileRequest", status: "200", response: ref("UserResponse")},
	{method: "PATCH", path: "/api/admin/admins/{id}/block", tag: "admins", minRole: "superadmin",
		summary: "Block or unblock an admin", operationID: "blockAdmin",
		request: "BlockRequest", status: "200", response: ref("StatusResponse")},

	// Superadmins
	{method: "POST", path: "/api/admin/superadmins", tag: "superadmins", minRole: "main-superadmin",
		summary: "Create a superadmin", operationID: "createSuperAdmin",
		request: "AccountRequest", status: "201", response: ref("UserResponse")},
	{method: "GET", path: "/api/admin/superadmins", tag: "superadmins", minRole: "main-superadmin",
		summary: "List superadmins", operationID: "listSuperAdmins",
		status: "200", response: arrayOf("User")},
	{method: "PATCH", path: "/api/admin/superadmins/{username}/block", tag: "superadmins", minRole: "main-superadmin",
		summary: "Block or unblock a superadmin", operationID: "blockSuperAdmin",
		request: "BlockRequest", status: "200", response: ref("StatusResponse")},
}

// GenerateConsoleSpec builds the OpenAPI 3.1 document of the console API.
func GenerateConsoleSpec(version, baseURL string) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "MSSP Console API",
			Description: "Authentication, MFA enrollment, and role-scoped client management.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"sessionCookie": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "apiKey",
				In:          "cookie",
				Name:        "token",
				Description: "HS256 session token set by a successful login.",
			},
		},
	}
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	for _, rt := range routes {
		item := doc.Paths.Value(rt.path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(rt.path, item)
		}
		item.SetOperation(rt.method, operation(rt))
	}
	return doc
}

func operation(rt route) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{rt.tag},
		Summary:     rt.summary,
		OperationID: rt.operationID,
		Parameters:  pathParameters(rt.path),
		Responses:   newResponses(rt.status, rt.summary, rt.response, !rt.public),
	}
	if rt.minRole != "" {
		op.Description = "Requires role " + rt.minRole + " or higher."
	}
	if rt.public {
		op.Security = &openapi3.SecurityRequirements{}
	} else {
		op.Security = &openapi3.SecurityRequirements{{"sessionCookie": {}}}
	}
	if rt.request != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content:  openapi3.NewContentWithJSONSchemaRef(ref(rt.request)),
			},
		}
	}
	return op
}

// pathParameters derives the path parameters from {name} segments.
func pathParameters(path string) openapi3.Parameters {
	var params openapi3.Parameters
	for _, seg := range strings.Split(path, "/") {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			continue
		}
		name := seg[1 : len(seg)-1]
		schema := openapi3.NewIntegerSchema()
		if name == "username" {
			schema = openapi3.NewStringSchema()
		}
		params = append(params, &openapi3.ParameterRef{
			Value: openapi3.NewPathParameter(name).WithSchema(schema),
		})
	}
	return params
}

func newResponses(statusCode, description string, schema *openapi3.SchemaRef, gated bool) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref("ErrorResponse")
	errs := map[string]string{
		"400": "Bad request",
		"401": "Unauthorized",
		"500": "Internal server error",
	}
	if gated {
		errs["403"] = "Forbidden"
		errs["404"] = "Not found"
	}
	for code, desc := range errs {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

// ─── Component Schemas ──────────────────────────────────────────────────────

func componentSchemas() openapi3.Schemas {
	str := func() *openapi3.SchemaRef { return openapi3.NewStringSchema().NewRef() }
	boolean := func() *openapi3.SchemaRef { return openapi3.NewBoolSchema().NewRef() }
	id := func() *openapi3.SchemaRef { return openapi3.NewInt64Schema().NewRef() }
	ts := func() *openapi3.SchemaRef { return openapi3.NewDateTimeSchema().NewRef() }
	role := openapi3.NewStringSchema().WithEnum("admin", "superadmin", "main-superadmin").NewRef()

	object := func(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
		s := openapi3.NewObjectSchema()
		s.Properties = props
		s.Required = required
		return s.NewRef()
	}

	return openapi3.Schemas{
		"ErrorResponse": object(openapi3.Schemas{
			"success": boolean(),
			"message": str(),
			"blocked": boolean(),
		}, "success", "message"),
		"StatusResponse": object(openapi3.Schemas{
			"success": boolean(),
			"message": str(),
		}, "success"),
		"SetupMFARequest": object(openapi3.Schemas{
			"username": str(),
		}, "username"),
		"MFASetupResponse": object(openapi3.Schemas{
			"success":     boolean(),
			"qrCode":      str(),
			"secret":      str(),
			"backupCodes": openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()).NewRef(),
		}, "success", "qrCode", "secret", "backupCodes"),
		"LoginRequest": object(openapi3.Schemas{
			"username": str(),
			"password": str(),
			"totpCode": str(),
		}, "username", "password"),
		"LoginResponse": object(openapi3.Schemas{
			"success":         boolean(),
			"message":         str(),
			"requireMFASetup": boolean(),
			"requireMFAToken": boolean(),
			"role":            role,
		}, "success"),
		"CheckResponse": object(openapi3.Schemas{
			"authenticated": boolean(),
			"role":          role,
			"username":      str(),
		}, "authenticated"),
		"User": object(openapi3.Schemas{
			"id":           id(),
			"username":     str(),
			"role":         role,
			"name":         str(),
			"email":        str(),
			"organization": str(),
			"city":         str(),
			"state":        str(),
			"blocked":      boolean(),
			"created_at":   ts(),
			"updated_at":   ts(),
		}, "id", "username", "role"),
		"UserResponse": object(openapi3.Schemas{
			"success":    boolean(),
			"message":    str(),
			"admin":      ref("User"),
			"superadmin": ref("User"),
		}, "success"),
		"AccountRequest": object(openapi3.Schemas{
			"username":     str(),
			"password":     str(),
			"name":         str(),
			"email":        str(),
			"organization": str(),
			"city":         str(),
			"state":        str(),
		}, "username", "password", "name", "email", "organization", "city", "state"),
		"ProfileRequest": object(openapi3.Schemas{
			"name":         str(),
			"email":        str(),
			"organization": str(),
			"city":         str(),
			"state":        str(),
		}, "name", "email", "organization", "city", "state"),
		"BlockRequest": object(openapi3.Schemas{
			"blocked": boolean(),
		}, "blocked"),
		"AssignRequest": object(openapi3.Schemas{
			"adminId": id(),
		}, "adminId"),
		"Client": object(openapi3.Schemas{
			"id":          id(),
			"name":        str(),
			"url":         str(),
			"description": str(),
			"graylog": object(openapi3.Schemas{
				"host":        str(),
				"username":    str(),
				"streamId":    str(),
				"hasPassword": boolean(),
			}),
			"logApi": object(openapi3.Schemas{
				"host":        str(),
				"username":    str(),
				"hasPassword": boolean(),
			}),
			"created_at": ts(),
			"updated_at": ts(),
		}, "id", "name", "url"),
		"ClientRequest": object(openapi3.Schemas{
			"name":        str(),
			"url":         str(),
			"description": str(),
			"adminId":     id(),
			"graylog": object(openapi3.Schemas{
				"host":     str(),
				"username": str(),
				"password": str(),
				"streamId": str(),
			}),
			"logApi": object(openapi3.Schemas{
				"host":     str(),
				"username": str(),
				"password": str(),
			}),
		}, "name", "url"),
		"ClientResponse": object(openapi3.Schemas{
			"success": boolean(),
			"client":  ref("Client"),
		}, "success", "client"),
	}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func arrayOf(name string) *openapi3.SchemaRef {
	s := openapi3.NewArraySchema()
	s.Items = ref(name)
	return s.NewRef()
}

func objectSchema() *openapi3.SchemaRef {
	return openapi3.NewObjectSchema().NewRef()
}
