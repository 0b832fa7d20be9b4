package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/models"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db *sql.DB
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(dsn string, logger *slog.Logger) (*PostgresDatabase, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	// 尝试多种连接策略来解决Vercel Lambda的连接问题
	strategies := []string{
		dsn,
		addConnectionParams(dsn, "connect_timeout=10"),
		addConnectionParams(dsn, "sslmode=require&connect_timeout=10"),
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			logger.Warn("postgres connection strategy failed to open", "strategy", i+1, "error", err)
			lastErr = err
			continue
		}

		// 设置连接池参数，适合无服务器环境
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(2 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			logger.Warn("postgres connection strategy failed to ping", "strategy", i+1, "error", err)
			db.Close()
			lastErr = err
			continue
		}

		logger.Info("postgres connection established", "strategy", i+1)
		return &PostgresDatabase{db: db}, nil
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL with all strategies: %w", lastErr)
}

// NewPostgresDatabaseFromDB wraps an open *sql.DB.
func NewPostgresDatabaseFromDB(db *sql.DB) *PostgresDatabase {
	return &PostgresDatabase{db: db}
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}

	// key=value 形式的DSN
	if !strings.Contains(dsn, "://") {
		return dsn + " " + strings.ReplaceAll(params, "&", " ")
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// ================= Members =================

const memberColumns = `id, first_name, last_name, bio, profile_picture, memberships, created_at, updated_at`

func scanMember(row interface{ Scan(...any) error }) (*models.Member, error) {
	var m models.Member
	err := row.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Bio, &m.ProfilePicture,
		pq.Array(&m.Memberships), &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if m.Memberships == nil {
		m.Memberships = []string{}
	}
	return &m, nil
}

// CreateMember 创建成员资料
func (db *PostgresDatabase) CreateMember(ctx context.Context, member *models.Member) error {
	if member.Memberships == nil {
		member.Memberships = []string{}
	}
	query := `
		INSERT INTO members (id, first_name, last_name, bio, profile_picture, memberships, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := db.db.QueryRowContext(ctx, query,
		member.ID, member.FirstName, member.LastName, member.Bio, member.ProfilePicture, pq.Array(member.Memberships),
	).Scan(&member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// GetMember 根据ID获取成员
func (db *PostgresDatabase) GetMember(ctx context.Context, id string) (*models.Member, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// UpdateMember 更新成员（整条记录）
func (db *PostgresDatabase) UpdateMember(ctx context.Context, member *models.Member) error {
	if member.Memberships == nil {
		member.Memberships = []string{}
	}
	query := `
		UPDATE members
		SET first_name = $1,
			last_name = $2,
			bio = $3,
			profile_picture = $4,
			memberships = $5,
			updated_at = NOW()
		WHERE id = $6
		RETURNING ` + memberColumns
	updated, err := scanMember(db.db.QueryRowContext(ctx, query,
		member.FirstName, member.LastName, member.Bio, member.ProfilePicture, pq.Array(member.Memberships), member.ID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("member %s: %w", member.ID, apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to update member: %w", err)
	}
	*member = *updated
	return nil
}

// ================= Organizations =================

const organizationColumns = `id, name, description, logo_url, email, status, created_at, updated_at`

func (db *PostgresDatabase) queryOrganizations(ctx context.Context, query string, args ...any) ([]models.Organization, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	result := []models.Organization{}
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Description, &o.LogoURL, &o.Email, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (db *PostgresDatabase) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	orgs, err := db.queryOrganizations(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id::text = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		return nil, fmt.Errorf("organization %s: %w", id, apperr.ErrNotFound)
	}
	return &orgs[0], nil
}

func (db *PostgresDatabase) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	return db.queryOrganizations(ctx, `SELECT `+organizationColumns+` FROM organizations ORDER BY name ASC`)
}

func (db *PostgresDatabase) ListOrganizationsByIDs(ctx context.Context, ids []string) ([]models.Organization, error) {
	if len(ids) == 0 {
		return []models.Organization{}, nil
	}
	return db.queryOrganizations(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id::text = ANY($1) ORDER BY name ASC`,
		pq.Array(ids))
}

// ================= Posts =================

const postSelectSQL = `
	SELECT p.id, p.organization_id, COALESCE(p.officer_id::text, ''), p.title, p.body, p.images,
		p.created_at, p.event_at, p.location, p.members_only, p.like_count,
		o.id, o.name, o.logo_url,
		m.id, m.first_name, m.last_name, m.profile_picture
	FROM posts p
	JOIN organizations o ON o.id = p.organization_id
	LEFT JOIN members m ON m.id = p.officer_id
`

// postOrderColumns whitelists the columns ListPosts may order by.
var postOrderColumns = map[string]string{
	"":           "p.created_at",
	"created_at": "p.created_at",
	"event_at":   "p.event_at",
}

func (db *PostgresDatabase) queryPosts(ctx context.Context, query string, args ...any) ([]models.Post, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var (
			r                                 postRow
			org                               orgEmbed
			officerID, first, last, avatarURL sql.NullString
		)
		err := rows.Scan(&r.ID, &r.OrganizationID, &r.OfficerID, &r.Title, &r.Body, pq.Array(&r.Images),
			&r.CreatedAt, &r.EventAt, &r.Location, &r.MembersOnly, &r.LikeCount,
			&org.ID, &org.Name, &org.LogoURL,
			&officerID, &first, &last, &avatarURL)
		if err != nil {
			return nil, err
		}
		r.Organization = &org
		if officerID.Valid {
			r.Officer = &officerEmbed{ID: officerID.String, FirstName: first.String, LastName: last.String, ProfilePicture: avatarURL.String}
		}
		posts = append(posts, r.toPost())
	}
	return posts, rows.Err()
}

// ListPosts 列出帖子并展开作者信息
func (db *PostgresDatabase) ListPosts(ctx context.Context, query models.PostQuery) ([]models.Post, error) {
	column, ok := postOrderColumns[query.OrderBy]
	if !ok {
		return nil, apperr.Validation("order_by", "unsupported column %q", query.OrderBy)
	}
	direction := "ASC NULLS LAST"
	if query.Descending {
		direction = "DESC NULLS LAST"
	}

	sqlQuery := postSelectSQL + `
	WHERE ($1 = '' OR p.organization_id::text = $1)
		AND (NOT $2 OR p.event_at IS NOT NULL)
	ORDER BY ` + column + ` ` + direction
	return db.queryPosts(ctx, sqlQuery, query.OrgID, query.OnlyEvents)
}

// GetPost 获取单个帖子
func (db *PostgresDatabase) GetPost(ctx context.Context, id string) (*models.Post, error) {
	posts, err := db.queryPosts(ctx, postSelectSQL+` WHERE p.id::text = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("post %s: %w", id, apperr.ErrNotFound)
	}
	return &posts[0], nil
}

// ================= Likes =================

func (db *PostgresDatabase) InsertLike(ctx context.Context, postID, memberID string) error {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO post_likes (post_id, member_id, created_at) VALUES ($1, $2, NOW())`,
		postID, memberID)
	if err != nil {
		return fmt.Errorf("failed to insert like: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) DeleteLike(ctx context.Context, postID, memberID string) error {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM post_likes WHERE post_id = $1 AND member_id = $2`,
		postID, memberID)
	if err != nil {
		return fmt.Errorf("failed to delete like: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete like: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("post %s, member %s: %w", postID, memberID, ErrLikeMissing)
	}
	return nil
}

func (db *PostgresDatabase) ListLikedPostIDs(ctx context.Context, memberID string, postIDs []string) ([]string, error) {
	if len(postIDs) == 0 {
		return []string{}, nil
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT post_id FROM post_likes WHERE member_id = $1 AND post_id::text = ANY($2)`,
		memberID, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list likes: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *PostgresDatabase) GetLikeCount(ctx context.Context, postID string) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, `SELECT like_count FROM posts WHERE id = $1`, postID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("post %s: %w", postID, apperr.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to get like count: %w", err)
	}
	return count, nil
}

func (db *PostgresDatabase) SetLikeCount(ctx context.Context, postID string, count int) error {
	res, err := db.db.ExecContext(ctx, `UPDATE posts SET like_count = $1 WHERE id = $2`, count, postID)
	if err != nil {
		return fmt.Errorf("failed to set like count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("post %s: %w", postID, apperr.ErrNotFound)
	}
	return nil
}

// AdjustLikeCount 原子地调整点赞数, never below zero
func (db *PostgresDatabase) AdjustLikeCount(ctx context.Context, postID string, delta int) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx,
		`UPDATE posts SET like_count = GREATEST(like_count + $1, 0) WHERE id = $2 RETURNING like_count`,
		delta, postID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("post %s: %w", postID, apperr.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to adjust like count: %w", err)
	}
	return count, nil
}

// ================= Credentials =================

func (db *PostgresDatabase) CreateCredential(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (email, password_hash, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRowContext(ctx, query, cred.Email, cred.PasswordHash).
		Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) getCredential(ctx context.Context, where string, arg string) (*models.Credential, error) {
	var c models.Credential
	err := db.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM credentials WHERE `+where, arg,
	).Scan(&c.ID, &c.Email, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential: %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

func (db *PostgresDatabase) GetCredentialByEmail(ctx context.Context, email string) (*models.Credential, error) {
	return db.getCredential(ctx, `lower(email) = lower($1)`, email)
}

func (db *PostgresDatabase) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	return db.getCredential(ctx, `id::text = $1`, id)
}

func (db *PostgresDatabase) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE credentials SET password_hash = $1, updated_at = NOW() WHERE id::text = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ================= Seeding =================

// Seed 写入种子数据 in one transaction, replacing rows with the same id
func (db *PostgresDatabase) Seed(ctx context.Context, fixture Fixture) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, o := range fixture.Organizations {
		status := o.Status
		if status == "" {
			status = string(models.OrgStatusActive)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, description, logo_url, email, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
				logo_url = EXCLUDED.logo_url, email = EXCLUDED.email, status = EXCLUDED.status, updated_at = NOW()
		`, o.ID, o.Name, o.Description, o.LogoURL, o.Email, status)
		if err != nil {
			return fmt.Errorf("failed to seed organization %s: %w", o.ID, err)
		}
	}

	for _, m := range fixture.Members {
		memberships := m.Memberships
		if memberships == nil {
			memberships = []string{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO members (id, first_name, last_name, bio, profile_picture, memberships)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
				bio = EXCLUDED.bio, profile_picture = EXCLUDED.profile_picture, memberships = EXCLUDED.memberships, updated_at = NOW()
		`, m.ID, m.FirstName, m.LastName, m.Bio, m.ProfilePicture, pq.Array(memberships))
		if err != nil {
			return fmt.Errorf("failed to seed member %s: %w", m.ID, err)
		}
	}

	for _, p := range fixture.Posts {
		images := p.Images
		if images == nil {
			images = []string{}
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO posts (id, organization_id, officer_id, title, body, images, created_at, event_at, location, members_only, like_count)
			VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET organization_id = EXCLUDED.organization_id, officer_id = EXCLUDED.officer_id,
				title = EXCLUDED.title, body = EXCLUDED.body, images = EXCLUDED.images, created_at = EXCLUDED.created_at,
				event_at = EXCLUDED.event_at, location = EXCLUDED.location, members_only = EXCLUDED.members_only,
				like_count = EXCLUDED.like_count
		`, p.ID, p.OrganizationID, p.OfficerID, p.Title, p.Body, pq.Array(images), createdAt,
			p.EventAt, p.Location, p.MembersOnly, p.LikeCount)
		if err != nil {
			return fmt.Errorf("failed to seed post %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}

// DB exposes the underlying pool for schema setup.
func (db *PostgresDatabase) DB() *sql.DB {
	return db.db
}
