package database

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"campus-orgs-backend/pkg/apperr"
)

func TestFileStorage_UploadDownload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStorage(t.TempDir(), "http://localhost:3000", "secret")
	require.NoError(t, err)

	require.NoError(t, store.Upload(ctx, "profile-pictures", "m1/a.png", "image/png", []byte("png")))

	data, contentType, err := store.Download(ctx, "profile-pictures", "m1/a.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png"), data)
	require.Equal(t, "image/png", contentType)

	_, _, err = store.Download(ctx, "profile-pictures", "m1/missing.png")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFileStorage_RejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	store, err := NewFileStorage(t.TempDir(), "", "secret")
	require.NoError(t, err)

	for _, path := range []string{"../etc/passwd", "m1/../../x", "", "/abs"} {
		err := store.Upload(context.Background(), "bucket", path, "text/plain", nil)
		require.True(t, apperr.IsValidation(err), path)
	}
}

func TestFileStorage_SignedURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStorage(t.TempDir(), "http://localhost:3000/", "secret")
	require.NoError(t, err)

	signed, err := store.SignedURL(ctx, "profile-pictures", "m1/a.png", time.Hour)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed, "http://localhost:3000/media/profile-pictures/m1/a.png?token="))

	u, err := url.Parse(signed)
	require.NoError(t, err)
	token := u.Query().Get("token")

	require.NoError(t, store.VerifySignedURL("profile-pictures", "m1/a.png", token))
	require.ErrorIs(t, store.VerifySignedURL("profile-pictures", "m2/a.png", token), apperr.ErrUnauthenticated)

	expired, err := store.SignedURL(ctx, "profile-pictures", "m1/a.png", -time.Minute)
	require.NoError(t, err)
	u, err = url.Parse(expired)
	require.NoError(t, err)
	require.ErrorIs(t, store.VerifySignedURL("profile-pictures", "m1/a.png", u.Query().Get("token")), apperr.ErrUnauthenticated)
}
