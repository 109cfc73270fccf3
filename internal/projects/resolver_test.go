package projects

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/project-link/internal/auth"
	"github.com/sells-group/project-link/internal/cache"
	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
	"github.com/sells-group/project-link/pkg/projectsapi"
)

const testProjectID = "1708545000000017007"

// fakeProjects records every request path and answers from a handler func.
type fakeProjects struct {
	srv    *httptest.Server
	mu     sync.Mutex
	paths  []string
	answer func(path string) (int, string)
}

func newFakeProjects(t *testing.T, answer func(path string) (int, string)) *fakeProjects {
	t.Helper()
	f := &fakeProjects{answer: answer}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()
		status, body := f.answer(r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProjects) base(name string) string {
	return f.srv.URL + "/" + name + "/restapi"
}

func (f *fakeProjects) hits(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.paths {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

func newTestResolver(f *fakeProjects, cfg Config) (*Resolver, *cache.Manager) {
	caches := cache.NewManager(cache.TTLs{}, nil)
	doer := projectsapi.NewClient(projectsapi.WithHTTPClient(f.srv.Client()))
	return NewResolver(cfg, doer, auth.StaticProvider("tok"), caches), caches
}

func TestCall_FirstUsableRouteWinsAndIsCached(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(path string) (int, string) {
		if strings.HasPrefix(path, "/eu/restapi/portal/1708545/") {
			return http.StatusOK, `{"tasks":[{"id":"t1"}]}`
		}
		return http.StatusNotFound, `{"error":"no"}`
	})
	r, caches := newTestResolver(f, Config{Bases: []string{f.base("us"), f.base("eu")}})

	payload, err := r.Call(context.Background(), "/projects/"+testProjectID+"/tasks/", nil)
	require.NoError(t, err)
	assert.Contains(t, payload, "tasks")

	route, ok := caches.Routes.Get(testProjectID)
	require.True(t, ok)
	assert.Equal(t, model.Route{Base: f.base("eu"), PortalID: "1708545"}, route)
	base, _ := caches.APIBase.Get("default")
	assert.Equal(t, f.base("eu"), base)
	portal, _ := caches.PortalID.Get("default")
	assert.Equal(t, "1708545", portal)

	// The cached route is tried first on the next call.
	before := f.hits("/us/")
	_, err = r.Call(context.Background(), "/projects/"+testProjectID+"/tasks/", nil)
	require.NoError(t, err)
	assert.Equal(t, before, f.hits("/us/"))
}

func TestCall_EmptyProjectsListIsDeferred(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(path string) (int, string) {
		switch {
		case strings.HasPrefix(path, "/us/restapi/portal/111/"):
			return http.StatusOK, `{"projects":[]}`
		case strings.HasPrefix(path, "/eu/restapi/portal/111/"):
			return http.StatusOK, `{"projects":[{"id_string":"p1","name":"Lakeside"}]}`
		}
		return http.StatusNotFound, ``
	})
	r, _ := newTestResolver(f, Config{PortalID: "111", Bases: []string{f.base("us"), f.base("eu")}})

	payload, err := r.Call(context.Background(), "/projects/", nil)
	require.NoError(t, err)
	assert.Len(t, payload["projects"], 1)
}

func TestCall_DeferredEmptyReturnedWhenEverythingElseFails(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(path string) (int, string) {
		switch {
		case strings.HasPrefix(path, "/us/restapi/portal/111/"):
			return http.StatusNoContent, ``
		case strings.HasPrefix(path, "/eu/restapi/portal/111/"):
			return http.StatusOK, `{"projects":[]}`
		}
		return http.StatusInternalServerError, ``
	})
	r, caches := newTestResolver(f, Config{PortalID: "111", Bases: []string{f.base("us"), f.base("eu"), f.base("in")}})

	payload, err := r.Call(context.Background(), "/projects/", nil)
	require.NoError(t, err)
	assert.Empty(t, payload)
	_, cached := caches.APIBase.Get("default")
	assert.False(t, cached, "a deferred empty answer is not a confirmed route")
}

func TestCall_RateLimitStopsImmediately(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(string) (int, string) {
		return http.StatusTooManyRequests, `{"error":"blocked"}`
	})
	r, _ := newTestResolver(f, Config{PortalID: "111", Bases: []string{f.base("us"), f.base("eu")}})

	_, err := r.Call(context.Background(), "/projects/", nil)
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimited(err))
	assert.Equal(t, 1, f.hits("/"))
}

func TestCall_ExhaustionListsEveryCombination(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(string) (int, string) {
		return http.StatusInternalServerError, `oops`
	})
	r, caches := newTestResolver(f, Config{PortalID: "111", Bases: []string{f.base("us"), f.base("eu")}})
	caches.PortalID.Set("default", "999")

	// 2 bases x {111, derived 1708545, cached 999}.
	_, err := r.Call(context.Background(), "/projects/"+testProjectID+"/", nil)
	require.Error(t, err)

	var re *resilience.RouteExhaustedError
	require.True(t, errors.As(err, &re))
	require.Len(t, re.Attempts, 6)

	seen := make(map[string]bool)
	for _, a := range re.Attempts {
		key := a.Base + "|" + a.PortalID
		assert.False(t, seen[key], "duplicate attempt %s", key)
		seen[key] = true
		assert.Equal(t, http.StatusInternalServerError, a.Status)
	}
	assert.Contains(t, err.Error(), "all 6 routes failed")
}

func TestCall_AttemptsNeverExceedCap(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(string) (int, string) {
		return http.StatusNotFound, ``
	})
	bases := make([]string, 5)
	for i := range bases {
		bases[i] = f.base(fmt.Sprintf("b%d", i))
	}
	r, caches := newTestResolver(f, Config{PortalID: "111", Bases: bases})
	caches.PortalID.Set("default", "999")

	_, err := r.Call(context.Background(), "/projects/"+testProjectID+"/", nil)
	require.Error(t, err)

	var re *resilience.RouteExhaustedError
	require.True(t, errors.As(err, &re))
	assert.Len(t, re.Attempts, DefaultMaxRouteAttempts)
	assert.Equal(t, DefaultMaxRouteAttempts, f.hits("/projects/"))
	assert.Zero(t, f.hits("/portals/"), "discovery is skipped once the cap is reached")
}

func TestCall_DiscoversPortalsLazily(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(path string) (int, string) {
		switch path {
		case "/us/restapi/portals/":
			return http.StatusOK, `{"portals":[{"id":555,"id_string":"555"}]}`
		case "/us/restapi/portal/555/projects/":
			return http.StatusOK, `{"projects":[{"id_string":"p1"}]}`
		}
		return http.StatusUnauthorized, ``
	})
	r, caches := newTestResolver(f, Config{Bases: []string{f.base("us")}})

	payload, err := r.Call(context.Background(), "/projects/", nil)
	require.NoError(t, err)
	assert.Len(t, payload["projects"], 1)

	listed, ok := caches.PortalLists.Get(f.base("us"))
	require.True(t, ok)
	assert.Equal(t, []string{"555"}, listed)
	assert.False(t, r.PortalConfigured())
}

func TestCall_CallerCancellationAborts(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(string) (int, string) { return http.StatusOK, `{}` })
	r, _ := newTestResolver(f, Config{PortalID: "111", Bases: []string{f.base("us")}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Call(ctx, "/projects/", nil)
	require.Error(t, err)
	assert.True(t, resilience.IsAborted(err))
	assert.False(t, resilience.IsRouteExhausted(err))
}

func TestRoutes_PinnedBase(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(path string) (int, string) {
		if path == "/us/restapi/portals/" {
			return http.StatusOK, `{"portals":[{"id_string":"111"},{"id_string":"222"}]}`
		}
		return http.StatusNotFound, ``
	})
	r, _ := newTestResolver(f, Config{PortalID: "111", APIBase: f.base("us"), Bases: []string{f.base("eu")}})

	routes, err := r.Routes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Route{
		{Base: f.base("us"), PortalID: "111"},
		{Base: f.base("us"), PortalID: "222"},
	}, routes)
	assert.True(t, r.PortalConfigured())
	assert.Zero(t, f.hits("/eu/"))
}

func TestRoutes_SweepsRegionalBases(t *testing.T) {
	t.Parallel()

	f := newFakeProjects(t, func(path string) (int, string) {
		if path == "/eu/restapi/portals/" {
			return http.StatusOK, `{"portals":[{"id_string":"333"}]}`
		}
		return http.StatusUnauthorized, ``
	})
	r, _ := newTestResolver(f, Config{Bases: []string{f.base("us"), f.base("eu")}})

	routes, err := r.Routes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Route{{Base: f.base("eu"), PortalID: "333"}}, routes)
}

func TestDerivePortalIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"1708545"}, derivePortalIDs(testProjectID))
	assert.Equal(t, []string{"123456"}, derivePortalIDs("1234560001234"))
	assert.Nil(t, derivePortalIDs("abc5450000000017007"))
	assert.Nil(t, derivePortalIDs("12345"))
}

func TestProjectIDFromEndpoint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "42abc", projectIDFromEndpoint("/projects/42abc/tasks/"))
	assert.Equal(t, "42abc", projectIDFromEndpoint("projects/42abc"))
	assert.Equal(t, "", projectIDFromEndpoint("/projects/"))
	assert.Equal(t, "", projectIDFromEndpoint("/portals/"))
}
