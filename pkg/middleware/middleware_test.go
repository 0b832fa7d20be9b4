package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/config"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/logging"
	"campus-orgs-backend/pkg/models"
)

// stubAuth resolves a fixed set of access tokens.
type stubAuth struct {
	database.AuthService
	tokens map[string]models.Identity
}

func (s *stubAuth) GetIdentity(_ context.Context, accessToken string) (*models.Identity, error) {
	identity, ok := s.tokens[accessToken]
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	return &identity, nil
}

func newStubAuth() *stubAuth {
	return &stubAuth{tokens: map[string]models.Identity{
		"good": {ID: "user-1", Email: "lin@campus.edu"},
	}}
}

// echoViewer answers with the viewer id it sees, "-" for anonymous.
var echoViewer = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id := ViewerID(r.Context())
	if id == "" {
		id = "-"
	}
	_, _ = w.Write([]byte(id))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func withToken(req *http.Request, header string) *http.Request {
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return req
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	h := RequireAuth(newStubAuth(), logging.Discard())(echoViewer)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid token", header: "Bearer good", status: http.StatusOK, body: "user-1"},
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer   ", status: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer stale", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(h, withToken(httptest.NewRequest(http.MethodGet, "/api/session", nil), tt.header))
			require.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				require.Equal(t, tt.body, rec.Body.String())
				return
			}

			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.Equal(t, "UNAUTHENTICATED", env.Error.Code)
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	t.Parallel()

	h := OptionalAuth(newStubAuth(), logging.Discard())(echoViewer)

	for header, want := range map[string]string{
		"":             "-",
		"Bearer good":  "user-1",
		"Bearer stale": "-",
	} {
		rec := serve(h, withToken(httptest.NewRequest(http.MethodGet, "/api/posts", nil), header))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, want, rec.Body.String(), header)
	}
}

func TestRequireViewer(t *testing.T) {
	t.Parallel()

	_, err := RequireViewer(context.Background())
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)

	ctx := WithViewer(context.Background(), &Viewer{Identity: models.Identity{ID: "user-1"}, AccessToken: "good"})
	viewer, err := RequireViewer(ctx)
	require.NoError(t, err)
	require.Equal(t, "good", viewer.AccessToken)
}

func TestWithViewer_FillsHolder(t *testing.T) {
	t.Parallel()

	holder := &viewerHolder{}
	ctx := withViewerHolder(context.Background(), holder)
	WithViewer(ctx, &Viewer{Identity: models.Identity{ID: "user-1"}})

	require.NotNil(t, holder.viewer)
	require.Equal(t, "user-1", holder.viewer.ID)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	var seen *http.Request
	h := Normalize()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { seen = r }))

	req := httptest.NewRequest(http.MethodGet, "/api/posts//", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "orgs.campus.edu")
	serve(h, req)

	require.Equal(t, "/api/posts", seen.URL.Path)
	require.Equal(t, "https", seen.URL.Scheme)
	require.Equal(t, "orgs.campus.edu", seen.Host)

	serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "/", seen.URL.Path)
}

func TestContentType(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name        string
		handler     http.Handler
		method      string
		contentType string
		status      int
	}{
		{"json with charset", ContentTypeJSON(ok), http.MethodPost, "application/json; charset=utf-8", http.StatusNoContent},
		{"json missing header", ContentTypeJSON(ok), http.MethodPut, "", http.StatusBadRequest},
		{"json wrong type", ContentTypeJSON(ok), http.MethodPost, "text/plain", http.StatusBadRequest},
		{"get is not checked", ContentTypeJSON(ok), http.MethodGet, "", http.StatusNoContent},
		{"multipart with boundary", ContentTypeMultipart(ok), http.MethodPost, "multipart/form-data; boundary=xyz", http.StatusNoContent},
		{"multipart rejects json", ContentTypeMultipart(ok), http.MethodPost, "application/json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, "/", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			require.Equal(t, tt.status, serve(tt.handler, req).Code)
		})
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := serve(Recovery(&config.Config{Environment: "production"}, logging.Discard())(boom),
		httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")

	rec = serve(Recovery(&config.Config{Environment: "development"}, logging.Discard())(boom),
		httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "boom")

	abort := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) })
	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(Recovery(&config.Config{}, logging.Discard())(abort), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	require.Equal(t, "10.0.0.9:5555", getClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.7")
	require.Equal(t, "192.0.2.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "203.0.113.5", getClientIP(req))
}
