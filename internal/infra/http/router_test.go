package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tagMiddleware appends its tag to a response header so tests can observe
// middleware order.
func tagMiddleware(tag string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Order", tag)
			next.ServeHTTP(w, r)
		})
	}
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChiRouterMethods(t *testing.T) {
	r := NewChiRouter()
	r.GET("/resource", okHandler)
	r.POST("/resource", okHandler)
	r.DELETE("/resource/{id}", okHandler)

	h := r.Handler()

	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/resource").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodPost, "/resource").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodDelete, "/resource/abc").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(t, h, http.MethodPut, "/resource").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/missing").Code)
}

func TestChiRouterRouteMiddlewareOrder(t *testing.T) {
	r := NewChiRouter()
	r.GET("/ordered", okHandler, tagMiddleware("first"), tagMiddleware("second"))

	rec := doRequest(t, r.Handler(), http.MethodGet, "/ordered")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"first", "second"}, rec.Header().Values("X-Order"))
}

func TestChiRouterGroup(t *testing.T) {
	r := NewChiRouter()
	r.Group("/api/v1/things", func(gr Router) {
		gr.GET("/", okHandler)
		gr.GET("/{thingID}", func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte(chi.URLParam(req, "thingID")))
		})
	}, tagMiddleware("group"))
	r.GET("/outside", okHandler)

	h := r.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/v1/things")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"group"}, rec.Header().Values("X-Order"))

	rec = doRequest(t, h, http.MethodGet, "/api/v1/things/abc-123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Body.String())

	// Group middleware must not leak onto sibling routes.
	rec = doRequest(t, h, http.MethodGet, "/outside")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Values("X-Order"))
}

func TestChiRouterUse(t *testing.T) {
	r := NewChiRouter()
	r.Use(tagMiddleware("global"))
	r.GET("/a", okHandler, tagMiddleware("route"))

	rec := doRequest(t, r.Handler(), http.MethodGet, "/a")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"global", "route"}, rec.Header().Values("X-Order"))
}

func TestChain(t *testing.T) {
	var h http.Handler = http.HandlerFunc(okHandler)
	h = Chain(h, tagMiddleware("outer"), tagMiddleware("inner"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, []string{"outer", "inner"}, rec.Header().Values("X-Order"))
}
