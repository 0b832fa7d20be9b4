package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	chiRoute "github.com/go-chi/chi/v5"

	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/utils"
)

// MediaHandler serves objects of the file object store behind the signed
// URLs it hands out. Only mounted when the backend has no hosted storage.
type MediaHandler struct {
	files  *database.FileStorage
	logger *slog.Logger
}

func NewMediaHandler(files *database.FileStorage, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{files: files, logger: logger.With("component", "handlers.media")}
}

// ServeObject GET /media/{bucket}/*?token=
func (h *MediaHandler) ServeObject(w http.ResponseWriter, r *http.Request) {
	bucket := chiRoute.URLParam(r, "bucket")
	objectPath := chiRoute.URLParam(r, "*")

	if err := h.files.VerifySignedURL(bucket, objectPath, r.URL.Query().Get("token")); err != nil {
		utils.WriteAppError(w, h.logger, "serve media", err)
		return
	}

	data, contentType, err := h.files.Download(r.Context(), bucket, objectPath)
	if err != nil {
		utils.WriteAppError(w, h.logger, "serve media", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("failed to write media response", "error", err)
	}
}
