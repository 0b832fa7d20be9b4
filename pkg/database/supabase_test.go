package database

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/logging"
	"campus-orgs-backend/pkg/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

// fakeSupabase answers every request with the handler for its method+path.
type fakeSupabase struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeSupabase(t *testing.T) (*fakeSupabase, *supabaseClient) {
	t.Helper()

	fake := &fakeSupabase{routes: map[string]func(http.ResponseWriter, *http.Request){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fake.mu.Lock()
		fake.requests = append(fake.requests, recordedRequest{
			Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone(), Body: string(body),
		})
		handler, ok := fake.routes[r.Method+" "+r.URL.Path]
		fake.mu.Unlock()

		if !ok {
			http.Error(w, `{"message":"no route"}`, http.StatusNotFound)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := newSupabaseClient(srv.URL, "service-key", logging.Discard())
	t.Cleanup(func() { client.rest.Close() })
	return fake, client
}

func (f *fakeSupabase) handle(route string, status int, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != nil {
			json.NewEncoder(w).Encode(body)
		}
	}
}

func (f *fakeSupabase) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func TestSupabaseDatabase_ListPosts(t *testing.T) {
	t.Parallel()

	fake, client := newFakeSupabase(t)
	db := &SupabaseDatabase{client: client}

	fake.handle("GET /rest/v1/posts", http.StatusOK, []map[string]any{{
		"id":              "p1",
		"organization_id": "org-1",
		"officer_id":      "m1",
		"title":           "Game night",
		"created_at":      "2025-03-10T12:00:00+00:00",
		"event_at":        "2025-03-12T18:00:00+00:00",
		"like_count":      4,
		"members_only":    true,
		"organization":    map[string]any{"id": "org-1", "name": "Board Games", "logo_url": "bg.png"},
		"officer":         map[string]any{"id": "m1", "first_name": "Sam", "last_name": "Lee", "profile_picture": "m1/p.png"},
	}})

	posts, err := db.ListPosts(context.Background(), models.PostQuery{OrgID: "org-1", OnlyEvents: true, OrderBy: "event_at"})
	require.NoError(t, err)
	require.Len(t, posts, 1)

	post := posts[0]
	require.Equal(t, "Board Games", post.Author.Organization.Name)
	require.Equal(t, "Sam Lee", post.Author.Officer.Name)
	require.Equal(t, 4, post.LikeCount)
	require.True(t, post.MembersOnly)
	require.NotNil(t, post.EventAt)
	require.True(t, post.EventAt.Equal(time.Date(2025, 3, 12, 18, 0, 0, 0, time.UTC)))
	require.Nil(t, post.IsLiked)

	req := fake.last()
	require.Equal(t, "eq.org-1", req.Query.Get("organization_id"))
	require.Equal(t, "not.is.null", req.Query.Get("event_at"))
	require.Equal(t, "event_at.asc", req.Query.Get("order"))
	require.Equal(t, postSelect, req.Query.Get("select"))
	require.Equal(t, "service-key", req.Header.Get("apikey"))
	require.Equal(t, "Bearer service-key", req.Header.Get("Authorization"))
}

func TestSupabaseDatabase_ErrorClassification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake, client := newFakeSupabase(t)
	db := &SupabaseDatabase{client: client}

	fake.handle("GET /rest/v1/members", http.StatusOK, []any{})
	_, err := db.GetMember(ctx, "m1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	fake.handle("GET /rest/v1/organizations", http.StatusInternalServerError, map[string]string{"message": "boom"})
	_, err = db.ListOrganizations(ctx)
	require.True(t, apperr.IsRemote(err))

	fake.handle("PATCH /rest/v1/posts", http.StatusUnauthorized, map[string]string{"message": "JWT expired"})
	err = db.SetLikeCount(ctx, "p1", 3)
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestSupabaseDatabase_Likes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake, client := newFakeSupabase(t)
	db := &SupabaseDatabase{client: client}

	fake.handle("POST /rest/v1/post_likes", http.StatusCreated, nil)
	require.NoError(t, db.InsertLike(ctx, "p1", "m1"))
	require.JSONEq(t, `{"post_id":"p1","member_id":"m1"}`, fake.last().Body)

	fake.handle("DELETE /rest/v1/post_likes", http.StatusOK, []map[string]string{{"post_id": "p1", "member_id": "m1"}})
	require.NoError(t, db.DeleteLike(ctx, "p1", "m1"))
	require.Equal(t, "eq.p1", fake.last().Query.Get("post_id"))
	require.Equal(t, "eq.m1", fake.last().Query.Get("member_id"))
	require.Equal(t, "return=representation", fake.last().Header.Get("Prefer"))

	fake.handle("DELETE /rest/v1/post_likes", http.StatusOK, []map[string]string{})
	err := db.DeleteLike(ctx, "p1", "m1")
	require.ErrorIs(t, err, ErrLikeMissing)
	require.True(t, apperr.IsRemote(err))

	fake.handle("GET /rest/v1/post_likes", http.StatusOK, []map[string]string{{"post_id": "p2"}})
	liked, err := db.ListLikedPostIDs(ctx, "m1", []string{"p1", "p2"})
	require.NoError(t, err)
	require.Equal(t, []string{"p2"}, liked)
	require.Equal(t, `in.("p1","p2")`, fake.last().Query.Get("post_id"))

	fake.handle("GET /rest/v1/posts", http.StatusOK, []map[string]int{{"like_count": 7}})
	count, err := db.GetLikeCount(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 7, count)

	fake.handle("POST /rest/v1/rpc/adjust_like_count", http.StatusOK, 8)
	count, err = db.AdjustLikeCount(ctx, "p1", 1)
	require.NoError(t, err)
	require.Equal(t, 8, count)
}

func TestSupabaseAuth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake, client := newFakeSupabase(t)
	auth := &SupabaseAuth{client: client}

	fake.handle("POST /auth/v1/token", http.StatusOK, map[string]any{
		"access_token":  "at",
		"refresh_token": "rt",
		"expires_in":    3600,
		"user":          map[string]string{"id": "u1", "email": "a@campus.edu"},
	})
	session, err := auth.SignIn(ctx, "a@campus.edu", "secret1")
	require.NoError(t, err)
	require.Equal(t, "at", session.AccessToken)
	require.Equal(t, "u1", session.Identity.ID)
	require.Equal(t, "password", fake.last().Query.Get("grant_type"))

	fake.handle("POST /auth/v1/token", http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
	_, err = auth.SignIn(ctx, "a@campus.edu", "wrong")
	require.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	fake.handle("GET /auth/v1/user", http.StatusOK, map[string]string{"id": "u1", "email": "a@campus.edu"})
	identity, err := auth.GetIdentity(ctx, "at")
	require.NoError(t, err)
	require.Equal(t, "u1", identity.ID)
	require.Equal(t, "Bearer at", fake.last().Header.Get("Authorization"))

	fake.handle("GET /auth/v1/user", http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
	_, err = auth.GetIdentity(ctx, "expired")
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)

	fake.handle("POST /auth/v1/signup", http.StatusOK, map[string]string{"id": "u2", "email": "b@campus.edu"})
	pending, err := auth.SignUp(ctx, "b@campus.edu", "secret1")
	require.NoError(t, err)
	require.Equal(t, "u2", pending.Identity.ID)
	require.Empty(t, pending.AccessToken)

	fake.handle("POST /auth/v1/logout", http.StatusUnauthorized, nil)
	require.NoError(t, auth.SignOut(ctx, "expired"))
}

func TestSupabaseStorage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake, client := newFakeSupabase(t)
	storage := &SupabaseStorage{client: client}

	fake.handle("POST /storage/v1/object/profile-pictures/m1/a.png", http.StatusOK, map[string]string{"Key": "profile-pictures/m1/a.png"})
	require.NoError(t, storage.Upload(ctx, "profile-pictures", "m1/a.png", "image/png", []byte("png")))
	require.Equal(t, "image/png", fake.last().Header.Get("Content-Type"))
	require.Equal(t, "png", fake.last().Body)

	fake.handle("POST /storage/v1/object/sign/profile-pictures/m1/a.png", http.StatusOK,
		map[string]string{"signedURL": "/object/sign/profile-pictures/m1/a.png?token=abc"})
	signed, err := storage.SignedURL(ctx, "profile-pictures", "m1/a.png", time.Hour)
	require.NoError(t, err)
	require.Equal(t, client.baseURL+"/storage/v1/object/sign/profile-pictures/m1/a.png?token=abc", signed)
	require.JSONEq(t, `{"expiresIn":3600}`, fake.last().Body)
}

func TestBackendAPI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "rest", backendAPI("/rest/v1/posts"))
	require.Equal(t, "auth", backendAPI("/auth/v1/user"))
	require.Equal(t, "unknown", backendAPI("/"))
}
