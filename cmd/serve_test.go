package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
)

type mockServices struct {
	linksFn    func(ctx context.Context, contactID, email string) ([]model.Link, error)
	idsFn      func(ctx context.Context, contactID string) ([]string, error)
	listFn     func(ctx context.Context, status string, pageSize int) ([]model.Project, error)
	tasksFn    func(ctx context.Context, projectID string, pageSize int) ([]model.Task, error)
	configured bool
	routesFn   func(ctx context.Context) ([]model.Route, error)
}

func (m *mockServices) LinksForClient(ctx context.Context, contactID, email string) ([]model.Link, error) {
	return m.linksFn(ctx, contactID, email)
}

func (m *mockServices) ProjectIDsForContact(ctx context.Context, contactID string) ([]string, error) {
	return m.idsFn(ctx, contactID)
}

func (m *mockServices) ListAll(ctx context.Context, status string, pageSize int) ([]model.Project, error) {
	return m.listFn(ctx, status, pageSize)
}

func (m *mockServices) AllProjectTasks(ctx context.Context, projectID string, pageSize int) ([]model.Task, error) {
	return m.tasksFn(ctx, projectID, pageSize)
}

func (m *mockServices) PortalConfigured() bool { return m.configured }

func (m *mockServices) Routes(ctx context.Context) ([]model.Route, error) {
	return m.routesFn(ctx)
}

func newTestRouter(m *mockServices) http.Handler {
	return buildRouter(services{Links: m, Catalog: m, Tasks: m, Portal: m}, []string{"https://app.example.com"})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_Health(t *testing.T) {
	rr := get(t, newTestRouter(&mockServices{}), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestBuildRouter_ContactProjects(t *testing.T) {
	m := &mockServices{linksFn: func(_ context.Context, contactID, email string) ([]model.Link, error) {
		assert.Equal(t, "c1", contactID)
		assert.Equal(t, "jane@example.com", email)
		return []model.Link{{ProjectID: "p1", DealID: "d1"}}, nil
	}}

	rr := get(t, newTestRouter(m), "/contacts/c1/projects?email=jane@example.com")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"links":[{"project_id":"p1","deal_id":"d1"}]}`, rr.Body.String())
}

func TestBuildRouter_ContactProjectIDs(t *testing.T) {
	m := &mockServices{idsFn: func(_ context.Context, contactID string) ([]string, error) {
		return []string{"p1", "p2"}, nil
	}}

	rr := get(t, newTestRouter(m), "/contacts/c1/project-ids")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"project_ids":["p1","p2"]}`, rr.Body.String())
}

func TestBuildRouter_RateLimitIs429(t *testing.T) {
	m := &mockServices{listFn: func(context.Context, string, int) ([]model.Project, error) {
		return nil, &resilience.RateLimitError{Service: "projects", RetryAfter: 30 * time.Second}
	}}

	rr := get(t, newTestRouter(m), "/projects")

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "30", rr.Header().Get("Retry-After"))
}

func TestBuildRouter_UpstreamFailureIs502(t *testing.T) {
	m := &mockServices{tasksFn: func(context.Context, string, int) ([]model.Task, error) {
		return nil, errors.New("tasks: every strategy failed for project p1")
	}}

	rr := get(t, newTestRouter(m), "/projects/p1/tasks")

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "every strategy failed")
}

func TestBuildRouter_ProjectsQuery(t *testing.T) {
	m := &mockServices{listFn: func(_ context.Context, status string, pageSize int) ([]model.Project, error) {
		assert.Equal(t, "active", status)
		assert.Equal(t, 50, pageSize)
		return []model.Project{{ID: "p1", Name: "Lakeside"}}, nil
	}}
	h := newTestRouter(m)

	rr := get(t, h, "/projects?status=active&page_size=50")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"projects":[{"id":"p1","name":"Lakeside"}]}`, rr.Body.String())

	rr = get(t, h, "/projects?page_size=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_Tasks(t *testing.T) {
	m := &mockServices{tasksFn: func(_ context.Context, projectID string, pageSize int) ([]model.Task, error) {
		assert.Equal(t, "p1", projectID)
		assert.Equal(t, 100, pageSize)
		return []model.Task{{"id": "t1"}}, nil
	}}

	rr := get(t, newTestRouter(m), "/projects/p1/tasks")

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Tasks []map[string]any `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "t1", body.Tasks[0]["id"])
}

func TestBuildRouter_PortalStatus(t *testing.T) {
	m := &mockServices{configured: true, routesFn: func(context.Context) ([]model.Route, error) {
		return []model.Route{{Base: "https://projectsapi.zoho.eu/restapi", PortalID: "1708545"}}, nil
	}}
	h := newTestRouter(m)

	rr := get(t, h, "/portal/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"configured":true}`, rr.Body.String())

	rr = get(t, h, "/portal/status?discover=true")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"configured":true,"routes":[{"base":"https://projectsapi.zoho.eu/restapi","portal_id":"1708545"}]}`, rr.Body.String())
}

func TestBuildRouter_CORS(t *testing.T) {
	h := newTestRouter(&mockServices{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
