package database

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"resty.dev/v3"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/metrics"
	"campus-orgs-backend/pkg/models"
)

// SupabaseAuth Supabase GoTrue 认证实现
type SupabaseAuth struct {
	client *supabaseClient
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// gotrueSession is the token response. Sign-up without auto-confirm returns
// only the user fields at the top level.
type gotrueSession struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int        `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	User         gotrueUser `json:"user"`
	gotrueUser
}

func (s gotrueSession) toSession() *models.Session {
	user := s.User
	if user.ID == "" {
		user = s.gotrueUser
	}

	session := &models.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Identity:     models.Identity{ID: user.ID, Email: user.Email},
	}
	switch {
	case s.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		session.ExpiresAt = time.Now().UTC().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return session
}

func (a *SupabaseAuth) check(op string, res *resty.Response, err error) error {
	return a.client.check("auth", op, res, err)
}

func (a *SupabaseAuth) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	var out gotrueSession
	res, err := a.client.r(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post("/auth/v1/signup")
	if err == nil && res.StatusCode() == http.StatusUnprocessableEntity {
		return nil, apperr.Validation("email", "is already registered")
	}
	if err := a.check("sign up", res, err); err != nil {
		return nil, err
	}
	return out.toSession(), nil
}

func (a *SupabaseAuth) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	var out gotrueSession
	res, err := a.client.r(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post("/auth/v1/token")
	if err == nil && res.StatusCode() == http.StatusBadRequest {
		metrics.ObserveBackendCall("auth", apperr.ErrInvalidCredentials)
		return nil, apperr.ErrInvalidCredentials
	}
	if err := a.check("sign in", res, err); err != nil {
		return nil, err
	}
	return out.toSession(), nil
}

func (a *SupabaseAuth) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	var out gotrueSession
	res, err := a.client.r(ctx).
		SetQueryParam("grant_type", "refresh_token").
		SetBody(map[string]string{"refresh_token": refreshToken}).
		SetResult(&out).
		Post("/auth/v1/token")
	if err == nil && res.StatusCode() == http.StatusBadRequest {
		metrics.ObserveBackendCall("auth", apperr.ErrUnauthenticated)
		return nil, fmt.Errorf("refresh session: %w", apperr.ErrUnauthenticated)
	}
	if err := a.check("refresh session", res, err); err != nil {
		return nil, err
	}
	return out.toSession(), nil
}

func (a *SupabaseAuth) GetIdentity(ctx context.Context, accessToken string) (*models.Identity, error) {
	if accessToken == "" {
		return nil, apperr.ErrUnauthenticated
	}
	var user gotrueUser
	res, err := a.client.r(ctx).
		SetAuthToken(accessToken).
		SetResult(&user).
		Get("/auth/v1/user")
	if err := a.check("get user", res, err); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	return &models.Identity{ID: user.ID, Email: user.Email}, nil
}

func (a *SupabaseAuth) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	res, err := a.client.r(ctx).
		SetAuthToken(accessToken).
		SetBody(map[string]string{"password": newPassword}).
		Put("/auth/v1/user")
	if err == nil && res.StatusCode() == http.StatusUnprocessableEntity {
		return apperr.Validation("new_password", "was rejected: %s", res.String())
	}
	return a.check("update password", res, err)
}

func (a *SupabaseAuth) SignOut(ctx context.Context, accessToken string) error {
	res, err := a.client.r(ctx).
		SetAuthToken(accessToken).
		Post("/auth/v1/logout")
	err = a.check("sign out", res, err)
	// 会话已失效时视为已注销
	if errors.Is(err, apperr.ErrUnauthenticated) || errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}
