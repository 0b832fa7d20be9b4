package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"campus-orgs-backend/pkg/models"
)

const (
	accessTokenTTL  = 1 * time.Hour
	// RefreshTokenTTL bounds how long a session can be kept alive by refreshing.
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// JWTService JWT服务, used by backends that issue their own sessions
type JWTService struct {
	secretKey []byte
	now       func() time.Time
}

// NewJWTService 创建JWT服务
func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

// NewSession 生成访问令牌和刷新令牌对, under a new session id
func (j *JWTService) NewSession(identity models.Identity) (*models.Session, error) {
	return j.issue(identity, uuid.NewString())
}

func (j *JWTService) issue(identity models.Identity, sessionID string) (*models.Session, error) {
	now := j.now()

	accessExpiry := now.Add(accessTokenTTL)
	accessToken, err := j.sign(identity, sessionID, models.TokenTypeAccess, now, accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := j.sign(identity, sessionID, models.TokenTypeRefresh, now, now.Add(RefreshTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &models.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExpiry,
		Identity:     identity,
	}, nil
}

func (j *JWTService) sign(identity models.Identity, sessionID, tokenType string, now, expiry time.Time) (string, error) {
	claims := &models.TokenClaims{
		ID:        uuid.NewString(),
		UserID:    identity.ID,
		Email:     identity.Email,
		SessionID: sessionID,
		Type:      tokenType,
		Exp:       expiry.Unix(),
		Iat:       now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
}

// ValidateToken 验证令牌
func (j *JWTService) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名方法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithTimeFunc(j.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if j.now().Unix() > claims.Exp {
		return nil, fmt.Errorf("token expired")
	}

	return claims, nil
}

// ValidateTyped validates the token and checks its type ("access" or "refresh").
func (j *JWTService) ValidateTyped(tokenString, tokenType string) (*models.TokenClaims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.Type != tokenType {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", tokenType, claims.Type)
	}

	return claims, nil
}

// Refresh 使用刷新令牌生成新的令牌对; the session id carries over
func (j *JWTService) Refresh(refreshToken string) (*models.Session, error) {
	claims, err := j.ValidateTyped(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return j.issue(models.Identity{ID: claims.UserID, Email: claims.Email}, sessionID)
}
