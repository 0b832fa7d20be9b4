package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/models"
	"campus-orgs-backend/pkg/utils"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	ViewerContextKey ContextKey = "viewer"
	holderContextKey ContextKey = "viewer_holder"
)

// viewerHolder lets the request logger, which runs before authentication,
// see the viewer resolved further down the chain.
type viewerHolder struct {
	viewer *Viewer
}

func withViewerHolder(ctx context.Context, h *viewerHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}

// Viewer is the authenticated identity of a request together with the
// access token it was resolved from.
type Viewer struct {
	models.Identity
	AccessToken string
}

// RequireAuth 认证中间件: resolves the bearer token through the backend's auth
// API and rejects the request with 401 when there is no valid session.
func RequireAuth(auth database.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				utils.WriteAppError(w, logger, "authenticate", apperr.ErrUnauthenticated)
				return
			}

			identity, err := auth.GetIdentity(r.Context(), token)
			if err != nil {
				logger.Debug("session rejected", "path", r.URL.Path, "error", err)
				utils.WriteAppError(w, logger, "authenticate", err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), &Viewer{Identity: *identity, AccessToken: token})))
		})
	}
}

// OptionalAuth 可选的认证中间件（不强制要求认证）
func OptionalAuth(auth database.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := auth.GetIdentity(r.Context(), token)
			if err != nil {
				// 令牌无效时按匿名请求处理
				logger.Debug("ignoring invalid session on public route", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), &Viewer{Identity: *identity, AccessToken: token})))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func WithViewer(ctx context.Context, viewer *Viewer) context.Context {
	if h, ok := ctx.Value(holderContextKey).(*viewerHolder); ok {
		h.viewer = viewer
	}
	return context.WithValue(ctx, ViewerContextKey, viewer)
}

// GetViewer 从context中获取用户信息
func GetViewer(ctx context.Context) (*Viewer, bool) {
	viewer, ok := ctx.Value(ViewerContextKey).(*Viewer)
	return viewer, ok && viewer != nil
}

// ViewerID returns the viewer's id, or "" for anonymous requests.
func ViewerID(ctx context.Context) string {
	if viewer, ok := GetViewer(ctx); ok {
		return viewer.ID
	}
	return ""
}

// RequireViewer 要求用户必须已认证的辅助函数
func RequireViewer(ctx context.Context) (*Viewer, error) {
	viewer, ok := GetViewer(ctx)
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	return viewer, nil
}
