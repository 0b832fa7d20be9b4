package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemote(t *testing.T) {
	t.Parallel()

	require.NoError(t, Remote("op", nil))

	cause := errors.New("connection refused")
	err := Remote("list posts", cause)
	require.True(t, IsRemote(err))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "list posts: connection refused", err.Error())

	require.Same(t, err, Remote("again", err), "already wrapped")

	for _, classified := range []error{
		Validation("email", "is required"),
		ErrNotFound,
		ErrInvalidCredentials,
	} {
		got := Remote("op", classified)
		require.False(t, IsRemote(got))
		require.Equal(t, classified, got)
	}
}

func TestIsAuth(t *testing.T) {
	t.Parallel()

	require.True(t, IsAuth(ErrInvalidCredentials))
	require.True(t, IsAuth(ErrNoViewer))
	require.False(t, IsAuth(ErrNotFound))
}

func TestValidationError_Message(t *testing.T) {
	t.Parallel()

	require.Equal(t, "last_name: is required", Validation("last_name", "is required").Error())
	require.Equal(t, "invalid body", Validation("", "invalid %s", "body").Error())
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	type signUp struct {
		Email           string `validate:"required,email"`
		Password        string `validate:"required,min=6"`
		ConfirmPassword string `validate:"required,eqfield=Password"`
	}

	tests := []struct {
		name  string
		in    signUp
		field string
		msg   string
	}{
		{"missing email", signUp{Password: "secret1", ConfirmPassword: "secret1"}, "email", "is required"},
		{"bad email", signUp{Email: "x", Password: "secret1", ConfirmPassword: "secret1"}, "email", "must be a valid email address"},
		{"short password", signUp{Email: "a@b.co", Password: "abc", ConfirmPassword: "abc"}, "password", "must be at least 6 characters"},
		{"mismatch", signUp{Email: "a@b.co", Password: "secret1", ConfirmPassword: "secret2"}, "confirm_password", "must match password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var ve *ValidationError
			require.ErrorAs(t, ValidateStruct(tt.in), &ve)
			require.Equal(t, tt.field, ve.Field)
			require.Equal(t, tt.msg, ve.Message)
		})
	}

	require.NoError(t, ValidateStruct(signUp{Email: "a@b.co", Password: "secret1", ConfirmPassword: "secret1"}))
}
