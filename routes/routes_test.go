package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p9e.in/wsm/handlers"
	"p9e.in/wsm/middleware"
	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/access"
	"p9e.in/wsm/pkg/projects"
	"p9e.in/wsm/pkg/report"
	"p9e.in/wsm/pkg/schema"
	"p9e.in/wsm/pkg/workflow"
	"p9e.in/wsm/testutil"
)

var fastHash = access.HashParams{Memory: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

type server struct {
	t       *testing.T
	handler http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := testutil.NewDB(t)
	reg := schema.Default()
	wf := workflow.New(workflow.Permissive{}, workflow.GateAdmin)
	store := projects.NewStore(db, reg, nil, wf, projects.WithLogger(logger))
	users := access.NewService(db, access.NewHasher(fastHash), wf, logger)

	_, err := users.Bootstrap(ctx, "admin", "admin123", "admin@company.com")
	require.NoError(t, err)
	for _, name := range []string{"alice", "bob"} {
		_, err := users.CreateUser(ctx, access.NewUser{Username: name, Password: name + "-secret"})
		require.NoError(t, err)
	}

	tokens, err := middleware.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	tmpl, err := report.NewTemplates("")
	require.NoError(t, err)
	renderer, err := report.NewRenderer(store, reg, tmpl, report.Options{
		Engines:      []report.Engine{report.FlowEngine{}},
		StageTimeout: 10 * time.Second,
		Logger:       logger,
	})
	require.NoError(t, err)

	h := handlers.New(handlers.Deps{
		Projects:  store,
		Registry:  reg,
		Access:    users,
		Tokens:    tokens,
		Renderer:  renderer,
		Templates: tmpl,
		Logger:    logger,
	})
	return &server{t: t, handler: RegisterRoutes(h, tokens)}
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) login(username, password string) string {
	s.t.Helper()
	rec := s.do("POST", "/api/v1/login", "", map[string]string{"username": username, "password": password})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func violationFields(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var out struct {
		Violations []struct {
			Field string `json:"field"`
		} `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	fields := make([]string, 0, len(out.Violations))
	for _, v := range out.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

func general(client, site string) map[string]any {
	return map[string]any{
		"wsm_type": "Standard",
		"revision": "1.0",
		"client":   client,
		"site":     site,
	}
}

func (s *server) createProject(token, client string) string {
	s.t.Helper()
	rec := s.do("POST", "/api/v1/projects", token, map[string]any{
		"variant":      "Standard",
		"general_info": general(client, "Plant 4"),
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(s.t, rec)["project_no"].(string)
}

func TestCreateProjectWithClientAndSiteOnly(t *testing.T) {
	s := newServer(t)
	alice := s.login("alice", "alice-secret")

	rec := s.do("POST", "/api/v1/projects", alice, map[string]any{
		"variant":      "Standard",
		"general_info": map[string]any{"client": "Acme", "site": "Plant 4"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	no := decodeBody(t, rec)["project_no"].(string)
	assert.Equal(t, "STD-0001", no)

	rec = s.do("GET", "/api/v1/projects/"+no+"/sections/general_info", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sec struct {
		Data models.SectionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sec))
	assert.Equal(t, "1.0", sec.Data.Get("revision"))
	assert.Equal(t, "Standard", sec.Data.Get("wsm_type"))
	assert.Equal(t, "Acme", sec.Data.Get("client"))
}

func TestLogin(t *testing.T) {
	s := newServer(t)

	rec := s.do("POST", "/api/v1/login", "", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do("POST", "/api/v1/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"password"}, violationFields(t, rec))

	token := s.login("admin", "admin123")
	rec = s.do("GET", "/api/v1/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody(t, rec)
	assert.Equal(t, "admin", me["username"])
	assert.Equal(t, "admin", me["role"])

	rec = s.do("GET", "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProjectLifecycle(t *testing.T) {
	s := newServer(t)
	alice := s.login("alice", "alice-secret")
	admin := s.login("admin", "admin123")

	no := s.createProject(alice, "Acme")
	assert.Equal(t, "STD-0001", no)

	t.Run("create rejects missing general information", func(t *testing.T) {
		rec := s.do("POST", "/api/v1/projects", alice, map[string]any{
			"variant":      "Standard",
			"general_info": map[string]any{"wsm_type": "Standard", "revision": "1.0"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.ElementsMatch(t, []string{"client", "site"}, violationFields(t, rec))
	})

	t.Run("create rejects unknown variant", func(t *testing.T) {
		rec := s.do("POST", "/api/v1/projects", alice, map[string]any{
			"variant":      "Nuclear",
			"general_info": general("Acme", "Plant 4"),
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{"variant"}, violationFields(t, rec))
	})

	path := "/api/v1/projects/" + no
	rec := s.do("PUT", path+"/sections/supply_services", alice, map[string]any{
		"boiler_capacity": "1000 kg/hr",
		"design_pressure": 10.5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do("PUT", path+"/sections/supply_services", alice, map[string]any{"boiler_capacity": "1000 kg/hr"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"design_pressure"}, violationFields(t, rec))

	rec = s.do("PUT", path+"/sections/nonsense", alice, map[string]any{"a": "b"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("GET", path+"/sections/supply_services", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sec struct {
		Data models.SectionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sec))
	assert.Equal(t, "10.5", sec.Data.Get("design_pressure"), "last valid save is kept")

	rec = s.do("GET", path+"/sections/documentation", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("PUT", path+"/status", alice, map[string]string{"status": "Approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "status changes are admin only")

	rec = s.do("PUT", path+"/status", admin, map[string]string{"status": "Shipped"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"status"}, violationFields(t, rec))

	rec = s.do("PUT", path+"/status", admin, map[string]string{"status": "Approved", "comment": "looks good"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do("GET", path+"/history", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		History []models.StatusTransition `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.History, 1)
	assert.Equal(t, models.StatusSubmitted, hist.History[0].FromStatus)
	assert.Equal(t, models.StatusApproved, hist.History[0].ToStatus)
	assert.Equal(t, "admin", hist.History[0].ActorName)
	assert.Equal(t, "looks good", hist.History[0].Comment)

	rec = s.do("GET", path, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Project models.Project `json:"project"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.StatusApproved, got.Project.Status)
	assert.Len(t, got.Project.Sections, 2)

	rec = s.do("GET", path+"/report", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=STD-0001.pdf", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "flow", rec.Header().Get("X-Render-Engine"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = s.do("GET", "/api/v1/projects/STD-9999/report", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVisibility(t *testing.T) {
	s := newServer(t)
	alice := s.login("alice", "alice-secret")
	bob := s.login("bob", "bob-secret")
	admin := s.login("admin", "admin123")

	no := s.createProject(alice, "Acme")
	s.createProject(alice, "Globex")
	s.createProject(bob, "Initech")

	rec := s.do("GET", "/api/v1/projects/"+no, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do("GET", "/api/v1/projects/"+no+"/report", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	count := func(token, query string) float64 {
		rec := s.do("GET", "/api/v1/projects"+query, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeBody(t, rec)["count"].(float64)
	}
	assert.Equal(t, 2.0, count(alice, ""))
	assert.Equal(t, 1.0, count(bob, ""))
	assert.Equal(t, 3.0, count(admin, ""))
	assert.Equal(t, 1.0, count(admin, "?search=globex"))
	assert.Equal(t, 0.0, count(bob, "?search=globex"))
	assert.Equal(t, 1.0, count(admin, "?limit=1&order=desc"))

	rec = s.do("GET", "/api/v1/projects?limit=-1", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do("GET", "/api/v1/projects?sort=client", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("GET", "/api/v1/projects/stats", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)
	assert.Equal(t, 2.0, stats["total"])
	assert.Equal(t, 2.0, stats["counts"].(map[string]any)["Submitted"])
	assert.Equal(t, 0.0, stats["counts"].(map[string]any)["Completed"])

	rec = s.do("GET", "/api/v1/projects/stats", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, decodeBody(t, rec)["total"])
}

func TestExport(t *testing.T) {
	s := newServer(t)
	alice := s.login("alice", "alice-secret")
	bob := s.login("bob", "bob-secret")
	s.createProject(alice, "Acme")
	s.createProject(bob, "Initech")

	rec := s.do("GET", "/api/v1/projects/export?format=csv", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment; filename=WSM_Register_"))
	assert.Contains(t, rec.Body.String(), "Acme")
	assert.NotContains(t, rec.Body.String(), "Initech")

	rec = s.do("GET", "/api/v1/projects/export", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	rec = s.do("GET", "/api/v1/projects/export?format=pdf", alice, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"format"}, violationFields(t, rec))
}

func TestCreateUser(t *testing.T) {
	s := newServer(t)
	alice := s.login("alice", "alice-secret")
	admin := s.login("admin", "admin123")
	body := map[string]string{"username": "carol", "password": "carol-secret", "email": "carol@example.com"}

	rec := s.do("POST", "/api/v1/users", alice, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do("POST", "/api/v1/users", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decodeBody(t, rec)
	assert.Equal(t, "carol", user["username"])
	assert.Equal(t, "user", user["role"])
	assert.NotContains(t, user, "password_hash")

	rec = s.do("POST", "/api/v1/users", admin, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"username"}, violationFields(t, rec))

	rec = s.do("POST", "/api/v1/users", admin, map[string]string{"username": "dave", "password": "secret1", "role": "root"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"role"}, violationFields(t, rec))

	s.login("carol", "carol-secret")
}

func TestSchemaEndpoints(t *testing.T) {
	s := newServer(t)
	token := s.login("alice", "alice-secret")

	rec := s.do("GET", "/api/v1/variants", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var variants []struct {
		Variant string `json:"variant"`
		Prefix  string `json:"prefix"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &variants))
	require.Len(t, variants, 5)
	assert.Equal(t, "Standard", variants[0].Variant)
	assert.Equal(t, "STD", variants[0].Prefix)

	rec = s.do("GET", "/api/v1/variants/WHRB/fields", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fields struct {
		Fields []schema.Field `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
	var grouped []string
	for _, f := range fields.Fields {
		if f.Group == "gensets" {
			grouped = append(grouped, f.Name)
		}
	}
	assert.Contains(t, grouped, "genset_make")

	rec = s.do("GET", "/api/v1/variants/Nuclear/fields", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("GET", "/api/v1/templates", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"GENERIC"`)
}

func TestStatusChangeOpenToAnyRole(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	reg := schema.Default()
	wf := workflow.New(workflow.ForwardOnly{}, workflow.GateAny)
	store := projects.NewStore(db, reg, nil, wf)
	users := access.NewService(db, access.NewHasher(fastHash), wf, nil)
	_, err := users.CreateUser(ctx, access.NewUser{Username: "alice", Password: "alice-secret"})
	require.NoError(t, err)
	tokens, err := middleware.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	s := &server{t: t, handler: RegisterRoutes(handlers.New(handlers.Deps{
		Projects: store, Registry: reg, Access: users, Tokens: tokens,
	}), tokens)}
	alice := s.login("alice", "alice-secret")
	no := s.createProject(alice, "Acme")

	rec := s.do("PUT", "/api/v1/projects/"+no+"/status", alice, map[string]string{"status": "Under Review"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do("PUT", "/api/v1/projects/"+no+"/status", alice, map[string]string{"status": "Submitted"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "forward policy refuses going back")
}
