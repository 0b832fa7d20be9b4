package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"campus-orgs-backend/pkg/models"
)

// ErrLikeMissing is returned by DeleteLike when the member has no like on the post.
var ErrLikeMissing = errors.New("like does not exist")

// DatabaseInterface 定义数据库访问接口
type DatabaseInterface interface {
	// 成员资料
	CreateMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, id string) (*models.Member, error)
	// UpdateMember writes the full record; callers re-send every field.
	UpdateMember(ctx context.Context, member *models.Member) error

	// Organizations
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
	ListOrganizationsByIDs(ctx context.Context, ids []string) ([]models.Organization, error)

	// Posts, with author organization and officer expanded
	ListPosts(ctx context.Context, query models.PostQuery) ([]models.Post, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)

	// Likes
	InsertLike(ctx context.Context, postID, memberID string) error
	// DeleteLike fails with ErrLikeMissing when no edge was removed.
	DeleteLike(ctx context.Context, postID, memberID string) error
	ListLikedPostIDs(ctx context.Context, memberID string, postIDs []string) ([]string, error)
	GetLikeCount(ctx context.Context, postID string) (int, error)
	SetLikeCount(ctx context.Context, postID string, count int) error

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// AtomicLikeCounter is implemented by databases that can adjust like_count in
// a single statement.
type AtomicLikeCounter interface {
	AdjustLikeCount(ctx context.Context, postID string, delta int) (int, error)
}

// AuthService 认证服务接口
type AuthService interface {
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
	// GetIdentity resolves an access token. Invalid or expired tokens yield
	// an error wrapping apperr.ErrUnauthenticated.
	GetIdentity(ctx context.Context, accessToken string) (*models.Identity, error)
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	SignOut(ctx context.Context, accessToken string) error
}

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, path, contentType string, data []byte) error
	Download(ctx context.Context, bucket, path string) ([]byte, string, error)
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}

// Backend bundles the three backend APIs the handlers talk to.
type Backend struct {
	DB      DatabaseInterface
	Auth    AuthService
	Storage ObjectStorage
	Kind    string
}

// Close 关闭后端连接
func (b *Backend) Close() error {
	if b == nil || b.DB == nil {
		return nil
	}
	return b.DB.Close()
}

// BackendConfig 后端配置
type BackendConfig struct {
	UseLocalDB  bool
	DataDir     string
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string
	// JWTSecret signs sessions for the backends without a hosted auth API.
	JWTSecret string
	// PublicURL prefixes signed URLs handed out by the file object store.
	PublicURL string
	Logger    *slog.Logger
}

// NewBackend 根据环境与配置选择后端实现
func NewBackend(config BackendConfig) (*Backend, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "database")

	if config.UseLocalDB {
		logger.Info("using local file backend", "data_dir", config.DataDir)
		return newLocalBackend(config)
	}

	// Vercel 优先使用 Supabase（避免 IPv6）
	if isVercelEnvironment() {
		logger.Info("detected serverless environment")
		if config.SupabaseURL != "" && config.SupabaseKey != "" {
			logger.Info("using Supabase backend")
			return newSupabaseBackend(config, logger)
		}
		if config.PostgresDSN != "" {
			logger.Warn("using PostgreSQL in a serverless environment, connections may fail over IPv6")
			return newPostgresBackend(config, logger)
		}
		return nil, fmt.Errorf("no valid backend configured for the serverless environment: set SUPABASE_URL+SUPABASE_SERVICE_KEY or POSTGRES_DSN")
	}

	// 非 Vercel 环境：PostgreSQL > Supabase
	if config.PostgresDSN != "" {
		logger.Info("using PostgreSQL backend")
		return newPostgresBackend(config, logger)
	}
	if config.SupabaseURL != "" && config.SupabaseKey != "" {
		logger.Info("using Supabase backend")
		return newSupabaseBackend(config, logger)
	}

	return nil, fmt.Errorf("no valid backend configuration found: set USE_LOCAL_DB, POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
}

func newSupabaseBackend(config BackendConfig, logger *slog.Logger) (*Backend, error) {
	client := newSupabaseClient(config.SupabaseURL, config.SupabaseKey, logger)
	return &Backend{
		DB:      &SupabaseDatabase{client: client},
		Auth:    &SupabaseAuth{client: client},
		Storage: &SupabaseStorage{client: client},
		Kind:    "supabase",
	}, nil
}

func newPostgresBackend(config BackendConfig, logger *slog.Logger) (*Backend, error) {
	db, err := NewPostgresDatabase(config.PostgresDSN, logger)
	if err != nil {
		return nil, err
	}
	files, err := NewFileStorage(mediaDir(config.DataDir), config.PublicURL, config.JWTSecret)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{
		DB:      db,
		Auth:    NewPasswordAuth(db, config.JWTSecret),
		Storage: files,
		Kind:    "postgresql",
	}, nil
}

func newLocalBackend(config BackendConfig) (*Backend, error) {
	db, err := NewLocalDatabase(config.DataDir)
	if err != nil {
		return nil, err
	}
	files, err := NewFileStorage(mediaDir(db.dataDir), config.PublicURL, config.JWTSecret)
	if err != nil {
		return nil, err
	}
	return &Backend{
		DB:      db,
		Auth:    NewPasswordAuth(db, config.JWTSecret),
		Storage: files,
		Kind:    "local",
	}, nil
}

// isVercelEnvironment 内部检查 Vercel 环境
func isVercelEnvironment() bool {
	vercelEnv := os.Getenv("VERCEL_ENV")
	vercelURL := os.Getenv("VERCEL_URL")
	awsLambda := os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	return vercelEnv != "" || vercelURL != "" || awsLambda != ""
}
