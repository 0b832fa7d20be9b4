package handlers

import (
	"context"
	"log/slog"
	"net/http"

	chiRoute "github.com/go-chi/chi/v5"

	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/feed"
	"campus-orgs-backend/pkg/likes"
	"campus-orgs-backend/pkg/middleware"
	"campus-orgs-backend/pkg/models"
	"campus-orgs-backend/pkg/utils"
)

type PostsHandler struct {
	feed   *feedLoader
	auth   database.AuthService
	likes  *likes.Controller
	logger *slog.Logger
}

// NewPostsHandler wires the like controller to the backend: like edges and
// counts go to the database, and a failed toggle refetches the viewer's feed.
func NewPostsHandler(backend *database.Backend, atomicLikes bool, logger *slog.Logger) *PostsHandler {
	loader := &feedLoader{db: backend.DB}
	logger = logger.With("component", "handlers.posts")
	return &PostsHandler{
		feed: loader,
		auth: backend.Auth,
		likes: likes.NewController(backend.DB, loader.Refetch, likes.Options{
			Atomic: atomicLikes,
			Reload: loader.Get,
			Logger: logger,
		}),
		logger: logger,
	}
}

// ToggleLikeResponse carries the optimistic post rendered immediately and
// the settled outcome of the remote steps.
type ToggleLikeResponse struct {
	Optimistic models.Post `json:"optimistic"`
	likes.Result
	Error string `json:"error,omitempty"`
}

// ListPosts GET /api/posts?q=&org_id=
func (h *PostsHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	query := utils.GetQueryParam(r, "q", "")
	posts, err := h.feed.List(r.Context(), models.PostQuery{
		OrgID:      utils.GetQueryParam(r, "org_id", ""),
		Descending: true,
	}, middleware.ViewerID(r.Context()))
	if err != nil {
		utils.WriteAppError(w, h.logger, "list posts", err)
		return
	}

	posts = feed.Search(posts, query)
	utils.WriteListResponse(w, posts, len(posts), query)
}

// GetPost GET /api/posts/{id}
func (h *PostsHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.feed.Get(r.Context(), chiRoute.URLParam(r, "id"), middleware.ViewerID(r.Context()))
	if err != nil {
		utils.WriteAppError(w, h.logger, "get post", err)
		return
	}
	utils.WriteSuccessResponse(w, post)
}

// ToggleLike POST /api/posts/{id}/like
//
// A remote failure is not an error response: the toggle rolls back to the
// refetched state and the app renders that.
func (h *PostsHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "toggle like", err)
		return
	}

	var req models.ToggleLikeRequest
	if r.ContentLength != 0 {
		if err := utils.ParseJSONBody(r, &req); err != nil {
			utils.WriteAppError(w, h.logger, "toggle like", err)
			return
		}
	}

	post, err := h.feed.Get(r.Context(), chiRoute.URLParam(r, "id"), viewer.ID)
	if err != nil {
		utils.WriteAppError(w, h.logger, "toggle like", err)
		return
	}
	// 以客户端当前渲染的状态为准
	if req.Liked != nil {
		post.IsLiked = models.BoolPtr(*req.Liked)
	}

	toggle, err := h.likes.Begin(*post, viewer.ID)
	if err != nil {
		utils.WriteAppError(w, h.logger, "toggle like", err)
		return
	}

	result := toggle.Commit(r.Context(), h.recheckViewer(viewer.AccessToken))
	resp := ToggleLikeResponse{Optimistic: toggle.Optimistic(), Result: result}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	utils.WriteSuccessResponse(w, resp)
}

// recheckViewer resolves the session again right before the remote steps, so
// a sign-out racing the toggle is caught.
func (h *PostsHandler) recheckViewer(accessToken string) likes.ViewerFunc {
	return func(ctx context.Context) (string, error) {
		identity, err := h.auth.GetIdentity(ctx, accessToken)
		if err != nil {
			return "", err
		}
		return identity.ID, nil
	}
}
