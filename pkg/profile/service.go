// Package profile manages the member profile: setup after sign-up, full-record
// edits, and the profile picture kept in object storage.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/models"
)

// pictureTypes maps the accepted picture content types to object extensions.
var pictureTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Picture is an uploaded profile picture.
type Picture struct {
	Data []byte
	// Filename is informational; the content type is sniffed from Data.
	Filename string
}

type Options struct {
	Bucket         string
	SignedURLTTL   time.Duration
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Service struct {
	db        database.DatabaseInterface
	storage   database.ObjectStorage
	bucket    string
	ttl       time.Duration
	maxUpload int64
	logger    *slog.Logger
}

func NewService(db database.DatabaseInterface, storage database.ObjectStorage, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	return &Service{
		db:        db,
		storage:   storage,
		bucket:    opts.Bucket,
		ttl:       opts.SignedURLTTL,
		maxUpload: opts.MaxUploadBytes,
		logger:    logger.With("component", "profile.Service"),
	}
}

// Get loads the member with their organizations expanded and a signed picture URL.
// A picture URL that cannot be signed is left empty.
func (s *Service) Get(ctx context.Context, memberID string) (*models.MemberProfile, error) {
	member, err := s.db.GetMember(ctx, memberID)
	if err != nil {
		return nil, apperr.Remote("get member", err)
	}

	orgs, err := s.db.ListOrganizationsByIDs(ctx, member.Memberships)
	if err != nil {
		return nil, apperr.Remote("list member organizations", err)
	}

	profile := &models.MemberProfile{Member: *member, Organizations: orgs}
	if member.ProfilePicture != "" {
		url, err := s.storage.SignedURL(ctx, s.bucket, member.ProfilePicture, s.ttl)
		if err != nil {
			s.logger.Warn("failed to sign profile picture url", "member_id", memberID, "error", err)
		} else {
			profile.PictureURL = url
		}
	}
	return profile, nil
}

// Setup creates the profile of a freshly signed up member. The picture is
// uploaded first; if that fails no member row is written.
func (s *Service) Setup(ctx context.Context, memberID string, req models.ProfileRequest, picture *Picture) (*models.Member, error) {
	if memberID == "" {
		return nil, apperr.ErrNoViewer
	}
	req.Normalize()
	if err := apperr.ValidateStruct(req); err != nil {
		return nil, err
	}

	var contentType string
	if picture != nil {
		var err error
		if contentType, err = s.checkPicture(picture); err != nil {
			return nil, err
		}
	}

	if _, err := s.db.GetMember(ctx, memberID); err == nil {
		return nil, apperr.Validation("", "profile already exists")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Remote("get member", err)
	}

	member := &models.Member{
		ID:          memberID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Bio:         req.Bio,
		Memberships: []string{},
	}

	if picture != nil {
		path, err := s.upload(ctx, memberID, picture.Data, contentType)
		if err != nil {
			return nil, err
		}
		member.ProfilePicture = path
	}

	if err := s.db.CreateMember(ctx, member); err != nil {
		return nil, apperr.Remote("create member", err)
	}
	s.logger.Info("profile created", "member_id", memberID, "with_picture", member.ProfilePicture != "")
	return member, nil
}

// Update applies a full-record edit. Validation runs before any remote call so an
// invalid edit leaves the stored profile untouched.
func (s *Service) Update(ctx context.Context, memberID string, req models.ProfileRequest) (*models.Member, error) {
	if memberID == "" {
		return nil, apperr.ErrNoViewer
	}
	req.Normalize()
	if err := apperr.ValidateStruct(req); err != nil {
		return nil, err
	}

	member, err := s.db.GetMember(ctx, memberID)
	if err != nil {
		return nil, apperr.Remote("get member", err)
	}

	member.FirstName = req.FirstName
	member.LastName = req.LastName
	member.Bio = req.Bio
	if err := s.db.UpdateMember(ctx, member); err != nil {
		return nil, apperr.Remote("update member", err)
	}
	return member, nil
}

// UploadPicture stores a new picture and writes the full member record pointing at it.
func (s *Service) UploadPicture(ctx context.Context, memberID string, picture *Picture) (*models.Member, error) {
	if memberID == "" {
		return nil, apperr.ErrNoViewer
	}
	if picture == nil {
		return nil, apperr.Validation("picture", "is required")
	}
	contentType, err := s.checkPicture(picture)
	if err != nil {
		return nil, err
	}

	member, err := s.db.GetMember(ctx, memberID)
	if err != nil {
		return nil, apperr.Remote("get member", err)
	}

	path, err := s.upload(ctx, memberID, picture.Data, contentType)
	if err != nil {
		return nil, err
	}

	member.ProfilePicture = path
	if err := s.db.UpdateMember(ctx, member); err != nil {
		return nil, apperr.Remote("update member", err)
	}
	return member, nil
}

// PictureURL signs the member's current picture.
func (s *Service) PictureURL(ctx context.Context, memberID string) (string, error) {
	member, err := s.db.GetMember(ctx, memberID)
	if err != nil {
		return "", apperr.Remote("get member", err)
	}
	if member.ProfilePicture == "" {
		return "", fmt.Errorf("profile picture: %w", apperr.ErrNotFound)
	}

	url, err := s.storage.SignedURL(ctx, s.bucket, member.ProfilePicture, s.ttl)
	if err != nil {
		return "", apperr.Remote("sign picture url", err)
	}
	return url, nil
}

func (s *Service) checkPicture(picture *Picture) (string, error) {
	if len(picture.Data) == 0 {
		return "", apperr.Validation("picture", "is empty")
	}
	if int64(len(picture.Data)) > s.maxUpload {
		return "", apperr.Validation("picture", "must be at most %d bytes", s.maxUpload)
	}
	contentType := http.DetectContentType(picture.Data)
	if _, ok := pictureTypes[contentType]; !ok {
		return "", apperr.Validation("picture", "unsupported image type %s", contentType)
	}
	return contentType, nil
}

func (s *Service) upload(ctx context.Context, memberID string, data []byte, contentType string) (string, error) {
	path := memberID + "/" + uuid.New().String() + pictureTypes[contentType]
	if err := s.storage.Upload(ctx, s.bucket, path, contentType, data); err != nil {
		s.logger.Error("profile picture upload failed", "member_id", memberID, "error", err)
		return "", apperr.Remote("upload picture", err)
	}
	return path, nil
}
