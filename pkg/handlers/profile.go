package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/middleware"
	"campus-orgs-backend/pkg/models"
	"campus-orgs-backend/pkg/profile"
	"campus-orgs-backend/pkg/utils"
)

// multipartMemory is how much of a form is buffered in memory before
// net/http spills file parts to disk.
const multipartMemory = 1 << 20

type ProfileHandler struct {
	svc       *profile.Service
	maxUpload int64
	logger    *slog.Logger
}

func NewProfileHandler(svc *profile.Service, maxUpload int64, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, maxUpload: maxUpload, logger: logger.With("component", "handlers.profile")}
}

// GetProfile GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "get profile", err)
		return
	}

	p, err := h.svc.Get(r.Context(), viewer.ID)
	if err != nil {
		utils.WriteAppError(w, h.logger, "get profile", err)
		return
	}
	utils.WriteSuccessResponse(w, p)
}

// SetupProfile POST /api/profile
//
// Accepts multipart/form-data (first_name, last_name, bio, optional picture)
// or a JSON body without a picture.
func (h *ProfileHandler) SetupProfile(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "set up profile", err)
		return
	}

	var (
		req     models.ProfileRequest
		picture *profile.Picture
	)
	if isMultipart(r) {
		if err := h.parseForm(w, r); err != nil {
			utils.WriteAppError(w, h.logger, "set up profile", err)
			return
		}
		req = models.ProfileRequest{
			FirstName: r.FormValue("first_name"),
			LastName:  r.FormValue("last_name"),
			Bio:       r.FormValue("bio"),
		}
		if picture, err = h.readPicture(r, false); err != nil {
			utils.WriteAppError(w, h.logger, "set up profile", err)
			return
		}
	} else if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteAppError(w, h.logger, "set up profile", err)
		return
	}

	member, err := h.svc.Setup(r.Context(), viewer.ID, req, picture)
	if err != nil {
		utils.WriteAppError(w, h.logger, "set up profile", err)
		return
	}
	utils.WriteCreatedResponse(w, member)
}

// UpdateProfile PUT /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "update profile", err)
		return
	}

	var req models.ProfileRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteAppError(w, h.logger, "update profile", err)
		return
	}

	member, err := h.svc.Update(r.Context(), viewer.ID, req)
	if err != nil {
		utils.WriteAppError(w, h.logger, "update profile", err)
		return
	}
	utils.WriteSuccessResponse(w, member)
}

// UploadPicture POST /api/profile/picture
func (h *ProfileHandler) UploadPicture(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "upload picture", err)
		return
	}

	if err := h.parseForm(w, r); err != nil {
		utils.WriteAppError(w, h.logger, "upload picture", err)
		return
	}
	picture, err := h.readPicture(r, true)
	if err != nil {
		utils.WriteAppError(w, h.logger, "upload picture", err)
		return
	}

	member, err := h.svc.UploadPicture(r.Context(), viewer.ID, picture)
	if err != nil {
		utils.WriteAppError(w, h.logger, "upload picture", err)
		return
	}
	utils.WriteSuccessResponse(w, member)
}

// GetPictureURL GET /api/profile/picture
func (h *ProfileHandler) GetPictureURL(w http.ResponseWriter, r *http.Request) {
	viewer, err := middleware.RequireViewer(r.Context())
	if err != nil {
		utils.WriteAppError(w, h.logger, "get picture url", err)
		return
	}

	url, err := h.svc.PictureURL(r.Context(), viewer.ID)
	if err != nil {
		utils.WriteAppError(w, h.logger, "get picture url", err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]string{"url": url})
}

func (h *ProfileHandler) parseForm(w http.ResponseWriter, r *http.Request) error {
	// 留出表单字段的空间
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("picture", "must be at most %d bytes", h.maxUpload)
		}
		return apperr.Validation("", "failed to parse form data: %v", err)
	}
	return nil
}

// readPicture reads the "picture" part. A missing part is an error only when required.
func (h *ProfileHandler) readPicture(r *http.Request, required bool) (*profile.Picture, error) {
	file, header, err := r.FormFile("picture")
	if errors.Is(err, http.ErrMissingFile) && !required {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Validation("picture", "is required")
	}
	defer file.Close()

	// 多读一个字节, 让服务层的大小校验生效
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read picture: %w", err)
	}
	return &profile.Picture{Data: data, Filename: header.Filename}, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}
