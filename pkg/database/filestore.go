package database

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campus-orgs-backend/pkg/apperr"
)

// MediaRoute is where the file object store's signed URLs are served.
const MediaRoute = "/media"

// FileStorage 本地文件对象存储, used by the Postgres and local backends.
// Signed URLs carry a short-lived JWT naming the object.
type FileStorage struct {
	root      string
	publicURL string
	secret    []byte
}

type mediaClaims struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	jwt.RegisteredClaims
}

func mediaDir(dataDir string) string {
	if dataDir == "" {
		dataDir = "./data"
	}
	return filepath.Join(dataDir, "media")
}

// NewFileStorage 创建文件存储
func NewFileStorage(root, publicURL, secret string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &FileStorage{
		root:      root,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		secret:    []byte(secret),
	}, nil
}

func (s *FileStorage) Upload(_ context.Context, bucket, objectPath, _ string, data []byte) error {
	full, err := s.resolve(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return apperr.Remote("upload object", err)
	}
	return apperr.Remote("upload object", os.WriteFile(full, data, 0644))
}

func (s *FileStorage) Download(_ context.Context, bucket, objectPath string) ([]byte, string, error) {
	full, err := s.resolve(bucket, objectPath)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("object %s/%s: %w", bucket, objectPath, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, "", apperr.Remote("download object", err)
	}

	contentType := mime.TypeByExtension(path.Ext(objectPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func (s *FileStorage) SignedURL(_ context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(bucket, objectPath); err != nil {
		return "", err
	}

	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mediaClaims{
		Bucket: bucket,
		Path:   objectPath,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign media url: %w", err)
	}

	return fmt.Sprintf("%s%s/%s/%s?token=%s", s.publicURL, MediaRoute, bucket, objectPath, url.QueryEscape(token)), nil
}

// VerifySignedURL checks that token was issued by SignedURL for bucket/objectPath
// and has not expired.
func (s *FileStorage) VerifySignedURL(bucket, objectPath, token string) error {
	claims := &mediaClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	if claims.Bucket != bucket || claims.Path != objectPath {
		return fmt.Errorf("%w: token does not match object", apperr.ErrUnauthenticated)
	}
	return nil
}

// resolve maps bucket/objectPath into the media root, rejecting escapes.
func (s *FileStorage) resolve(bucket, objectPath string) (string, error) {
	if bucket == "" || objectPath == "" {
		return "", apperr.Validation("path", "bucket and object path are required")
	}
	cleaned := path.Clean("/" + bucket + "/" + objectPath)
	if strings.Contains(bucket, "/") || cleaned != "/"+bucket+"/"+objectPath {
		return "", apperr.Validation("path", "invalid object path %q", objectPath)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}
