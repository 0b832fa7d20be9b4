package handlers

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	chiRoute "github.com/go-chi/chi/v5"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/feed"
	"campus-orgs-backend/pkg/middleware"
	"campus-orgs-backend/pkg/models"
	"campus-orgs-backend/pkg/utils"
)

type OrgsHandler struct {
	db     database.DatabaseInterface
	feed   *feedLoader
	logger *slog.Logger
}

func NewOrgsHandler(backend *database.Backend, logger *slog.Logger) *OrgsHandler {
	return &OrgsHandler{
		db:     backend.DB,
		feed:   &feedLoader{db: backend.DB},
		logger: logger.With("component", "handlers.orgs"),
	}
}

// ListOrganizations GET /api/orgs?q=
func (h *OrgsHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.db.ListOrganizations(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "list organizations", apperr.Remote("list organizations", err))
		return
	}

	query := utils.GetQueryParam(r, "q", "")
	orgs = feed.SearchOrganizations(orgs, query)
	if notModified(w, r, orgsETag("all", orgs)) {
		return
	}
	utils.WriteListResponse(w, orgs, len(orgs), query)
}

// ListMyOrganizations GET /api/orgs/mine
func (h *OrgsHandler) ListMyOrganizations(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "list my organizations", err)
		return
	}

	member, err := h.feed.viewerMember(r.Context(), viewer.ID)
	if err != nil {
		utils.WriteAppError(w, h.logger, "list my organizations", err)
		return
	}

	orgs := []models.Organization{}
	if member != nil && len(member.Memberships) > 0 {
		if orgs, err = h.db.ListOrganizationsByIDs(r.Context(), member.Memberships); err != nil {
			h.logger.Error("ListMyOrganizations failed", "user_id", viewer.ID, "error", err)
			utils.WriteAppError(w, h.logger, "list my organizations", apperr.Remote("list organizations", err))
			return
		}
	}

	if notModified(w, r, orgsETag(viewer.ID, orgs)) {
		return
	}
	utils.WriteListResponse(w, orgs, len(orgs), "")
}

// GetOrganization GET /api/orgs/{id}
func (h *OrgsHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := chiRoute.URLParam(r, "id")
	org, err := h.db.GetOrganization(r.Context(), orgID)
	if err != nil {
		utils.WriteAppError(w, h.logger, "get organization", apperr.Remote("get organization", err))
		return
	}

	posts, err := h.feed.List(r.Context(), models.PostQuery{OrgID: org.ID, Descending: true}, middleware.ViewerID(r.Context()))
	if err != nil {
		utils.WriteAppError(w, h.logger, "get organization", err)
		return
	}

	utils.WriteSuccessResponse(w, models.OrganizationWithPosts{Organization: *org, Posts: posts})
}

// orgsETag computes a weak ETag from every field the list serializes, so an
// edit that keeps updated_at still changes it.
func orgsETag(scope string, orgs []models.Organization) string {
	sum := sha256.New()
	// Organization 只含字符串和时间, 编码不会失败
	_ = json.NewEncoder(sum).Encode(orgs)
	return fmt.Sprintf("W/\"orgs:%s:%x\"", scope, sum.Sum(nil)[:12])
}

// notModified sets the ETag header and answers 304 when the client already has it.
func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}
