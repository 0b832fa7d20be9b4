package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/config"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/middleware"
	"campus-orgs-backend/pkg/models"
	"campus-orgs-backend/pkg/utils"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	config  *config.Config
	backend *database.Backend
	logger  *slog.Logger
}

func NewAuthHandler(cfg *config.Config, backend *database.Backend, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{config: cfg, backend: backend, logger: logger.With("component", "handlers.auth")}
}

// SessionResponse is the payload of GET /api/session. Member is nil until the
// profile has been set up, which tells the app to open the setup screen.
type SessionResponse struct {
	Identity models.Identity `json:"user"`
	Member   *models.Member  `json:"member"`
}

// SignUp POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	// 密码不一致或过短时直接返回, 不会调用后端
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteAppError(w, h.logger, "sign up", err)
		return
	}

	session, err := h.backend.Auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		utils.WriteAppError(w, h.logger, "sign up", err)
		return
	}

	h.logger.Info("account created", "user_id", session.Identity.ID)
	utils.WriteCreatedResponse(w, session)
}

// SignIn POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req models.SignInRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteAppError(w, h.logger, "sign in", err)
		return
	}

	session, err := h.backend.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		utils.WriteAppError(w, h.logger, "sign in", err)
		return
	}
	utils.WriteSuccessResponse(w, session)
}

// RefreshToken POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteAppError(w, h.logger, "refresh session", err)
		return
	}

	session, err := h.backend.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		utils.WriteAppError(w, h.logger, "refresh session", err)
		return
	}
	utils.WriteSuccessResponse(w, session)
}

// SignOut POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "sign out", err)
		return
	}

	if err := h.backend.Auth.SignOut(r.Context(), viewer.AccessToken); err != nil {
		utils.WriteAppError(w, h.logger, "sign out", err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"signed_out": true})
}

// ChangePassword PUT /api/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "change password", err)
		return
	}

	var req models.ChangePasswordRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteAppError(w, h.logger, "change password", err)
		return
	}

	if err := h.backend.Auth.UpdatePassword(r.Context(), viewer.AccessToken, req.NewPassword); err != nil {
		utils.WriteAppError(w, h.logger, "change password", err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"updated": true})
}

// Session GET /api/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "get session", err)
		return
	}

	resp := SessionResponse{Identity: viewer.Identity}
	member, err := h.backend.DB.GetMember(r.Context(), viewer.ID)
	switch {
	case err == nil:
		resp.Member = member
	case errors.Is(err, apperr.ErrNotFound):
	default:
		utils.WriteAppError(w, h.logger, "get session", apperr.Remote("get member", err))
		return
	}
	utils.WriteSuccessResponse(w, resp)
}

// HealthCheck GET /
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	// 测试数据库连接
	dbStatus := "healthy"
	if err := h.backend.DB.HealthCheck(r.Context()); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     "campus-orgs-backend",
		"version":     "1.0.0",
		"environment": h.config.Environment,
		"database":    h.backend.Kind,
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}
