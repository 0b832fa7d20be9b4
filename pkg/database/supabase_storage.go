package database

import (
	"context"
	"fmt"
	"time"
)

// SupabaseStorage Supabase Storage 实现
type SupabaseStorage struct {
	client *supabaseClient
}

var _ ObjectStorage = (*SupabaseStorage)(nil)

func (s *SupabaseStorage) Upload(ctx context.Context, bucket, path, contentType string, data []byte) error {
	res, err := s.client.r(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "true").
		SetBody(data).
		Post(objectURL(bucket, path))
	return s.client.check("storage", "upload object", res, err)
}

func (s *SupabaseStorage) Download(ctx context.Context, bucket, path string) ([]byte, string, error) {
	res, err := s.client.r(ctx).Get(objectURL(bucket, path))
	if err := s.client.check("storage", "download object", res, err); err != nil {
		return nil, "", err
	}
	return res.Bytes(), res.Header().Get("Content-Type"), nil
}

func (s *SupabaseStorage) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	var out struct {
		SignedURL string `json:"signedURL"`
	}
	res, err := s.client.r(ctx).
		SetBody(map[string]int{"expiresIn": int(ttl.Seconds())}).
		SetResult(&out).
		Post("/storage/v1/object/sign/" + bucket + "/" + path)
	if err := s.client.check("storage", "sign object url", res, err); err != nil {
		return "", err
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("sign object url: empty response")
	}
	// signedURL 是相对于 /storage/v1 的路径
	return s.client.baseURL + "/storage/v1" + out.SignedURL, nil
}

func objectURL(bucket, path string) string {
	return "/storage/v1/object/" + bucket + "/" + path
}
