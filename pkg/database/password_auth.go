package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/models"
	"campus-orgs-backend/pkg/utils"
)

var ErrEmailTaken = errors.New("email already registered")

// CredentialStore persists password credentials for PasswordAuth.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *models.Credential) error
	GetCredentialByEmail(ctx context.Context, email string) (*models.Credential, error)
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// PasswordAuth 本地密码认证: bcrypt hashes and locally signed JWT sessions.
// Signed out sessions are remembered in memory until their last refresh token
// could have expired; every token of a revoked session is rejected.
type PasswordAuth struct {
	store   CredentialStore
	jwt     *utils.JWTService
	cost    int
	revoked sync.Map // session id -> expiry
}

// NewPasswordAuth 创建密码认证服务
func NewPasswordAuth(store CredentialStore, jwtSecret string) *PasswordAuth {
	return &PasswordAuth{
		store: store,
		jwt:   utils.NewJWTService(jwtSecret),
		cost:  bcrypt.DefaultCost,
	}
}

func (a *PasswordAuth) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &models.Credential{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: string(hash),
	}
	if err := a.store.CreateCredential(ctx, cred); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.Validation("email", "is already registered")
		}
		return nil, apperr.Remote("create credential", err)
	}

	return a.jwt.NewSession(models.Identity{ID: cred.ID, Email: cred.Email})
}

func (a *PasswordAuth) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	cred, err := a.store.GetCredentialByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, apperr.Remote("get credential", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}

	return a.jwt.NewSession(models.Identity{ID: cred.ID, Email: cred.Email})
}

func (a *PasswordAuth) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	claims, err := a.jwt.ValidateTyped(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	if a.isRevoked(claims) {
		return nil, fmt.Errorf("%w: session signed out", apperr.ErrUnauthenticated)
	}

	// 凭据被删除后刷新令牌失效
	if _, err := a.store.GetCredential(ctx, claims.UserID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrUnauthenticated
		}
		return nil, apperr.Remote("get credential", err)
	}

	return a.jwt.Refresh(refreshToken)
}

func (a *PasswordAuth) GetIdentity(_ context.Context, accessToken string) (*models.Identity, error) {
	if accessToken == "" {
		return nil, apperr.ErrUnauthenticated
	}
	claims, err := a.jwt.ValidateTyped(accessToken, models.TokenTypeAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	if a.isRevoked(claims) {
		return nil, fmt.Errorf("%w: session signed out", apperr.ErrUnauthenticated)
	}
	return &models.Identity{ID: claims.UserID, Email: claims.Email}, nil
}

func (a *PasswordAuth) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	identity, err := a.GetIdentity(ctx, accessToken)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), a.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return apperr.Remote("update password", a.store.UpdatePasswordHash(ctx, identity.ID, string(hash)))
}

func (a *PasswordAuth) SignOut(ctx context.Context, accessToken string) error {
	claims, err := a.jwt.ValidateTyped(accessToken, models.TokenTypeAccess)
	if err != nil {
		// 已失效的令牌无需注销
		return nil
	}

	// 刷新令牌随会话一起失效
	a.revoked.Store(revocationKey(claims), time.Now().Add(utils.RefreshTokenTTL))
	a.pruneRevoked()
	return nil
}

func (a *PasswordAuth) isRevoked(claims *models.TokenClaims) bool {
	_, ok := a.revoked.Load(revocationKey(claims))
	return ok
}

// revocationKey is the session id, or the token id for tokens minted without one.
func revocationKey(claims *models.TokenClaims) string {
	if claims.SessionID != "" {
		return "sid:" + claims.SessionID
	}
	return "jti:" + claims.ID
}

func (a *PasswordAuth) pruneRevoked() {
	now := time.Now()
	a.revoked.Range(func(key, value any) bool {
		if expiry, ok := value.(time.Time); ok && now.After(expiry) {
			a.revoked.Delete(key)
		}
		return true
	})
}
