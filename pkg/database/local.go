package database

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/models"
)

const (
	membersTable       = "members"
	organizationsTable = "organizations"
	postsTable         = "posts"
	likesTable         = "post_likes"
	credentialsTable   = "credentials"
)

// LocalDatabase 本地文件数据库实现, one JSON file per table
type LocalDatabase struct {
	dataDir string
	mu      sync.Mutex
}

// NewLocalDatabase 创建本地数据库实例
func NewLocalDatabase(dataDir string) (*LocalDatabase, error) {
	if dataDir == "" {
		dataDir = "./data"
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		// 在Vercel等只读文件系统中，使用临时目录
		fallback := filepath.Join(os.TempDir(), "campus-orgs-data")
		if err := os.MkdirAll(fallback, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dataDir = fallback
	}

	return &LocalDatabase{dataDir: dataDir}, nil
}

// CreateMember 创建成员资料
func (db *LocalDatabase) CreateMember(_ context.Context, member *models.Member) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	members, err := loadTable[models.Member](db, membersTable)
	if err != nil {
		return err
	}
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if lo.ContainsBy(members, func(m models.Member) bool { return m.ID == member.ID }) {
		return fmt.Errorf("member %s already exists", member.ID)
	}

	now := time.Now().UTC()
	member.CreatedAt = now
	member.UpdatedAt = now
	if member.Memberships == nil {
		member.Memberships = []string{}
	}

	return saveTable(db, membersTable, append(members, *member))
}

// GetMember 根据ID获取成员
func (db *LocalDatabase) GetMember(_ context.Context, id string) (*models.Member, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	members, err := loadTable[models.Member](db, membersTable)
	if err != nil {
		return nil, err
	}
	member, ok := lo.Find(members, func(m models.Member) bool { return m.ID == id })
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, apperr.ErrNotFound)
	}
	return &member, nil
}

// UpdateMember 更新成员（整条记录）
func (db *LocalDatabase) UpdateMember(_ context.Context, member *models.Member) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	members, err := loadTable[models.Member](db, membersTable)
	if err != nil {
		return err
	}
	_, idx, ok := lo.FindIndexOf(members, func(m models.Member) bool { return m.ID == member.ID })
	if !ok {
		return fmt.Errorf("member %s: %w", member.ID, apperr.ErrNotFound)
	}

	member.CreatedAt = members[idx].CreatedAt
	member.UpdatedAt = time.Now().UTC()
	if member.Memberships == nil {
		member.Memberships = []string{}
	}
	members[idx] = *member

	return saveTable(db, membersTable, members)
}

// GetOrganization 获取组织
func (db *LocalDatabase) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	orgs, err := loadTable[models.Organization](db, organizationsTable)
	if err != nil {
		return nil, err
	}
	org, ok := lo.Find(orgs, func(o models.Organization) bool { return o.ID == id })
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, apperr.ErrNotFound)
	}
	return &org, nil
}

// ListOrganizations 按名称列出所有组织
func (db *LocalDatabase) ListOrganizations(_ context.Context) ([]models.Organization, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	orgs, err := loadTable[models.Organization](db, organizationsTable)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(orgs, func(a, b models.Organization) int {
		return strings.Compare(a.Name, b.Name)
	})
	return orgs, nil
}

func (db *LocalDatabase) ListOrganizationsByIDs(ctx context.Context, ids []string) ([]models.Organization, error) {
	if len(ids) == 0 {
		return []models.Organization{}, nil
	}
	orgs, err := db.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	wanted := idSet(ids)
	return lo.Filter(orgs, func(o models.Organization, _ int) bool {
		_, ok := wanted[o.ID]
		return ok
	}), nil
}

// ListPosts 列出帖子并展开作者信息
func (db *LocalDatabase) ListPosts(_ context.Context, query models.PostQuery) ([]models.Post, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	records, err := loadTable[PostRecord](db, postsTable)
	if err != nil {
		return nil, err
	}

	records = lo.Filter(records, func(r PostRecord, _ int) bool {
		if query.OrgID != "" && r.OrganizationID != query.OrgID {
			return false
		}
		return !query.OnlyEvents || r.EventAt != nil
	})

	slices.SortStableFunc(records, func(a, b PostRecord) int {
		c := comparePosts(a, b, query.OrderBy)
		if query.Descending {
			return -c
		}
		return c
	})

	return db.expand(records)
}

// GetPost 获取单个帖子
func (db *LocalDatabase) GetPost(_ context.Context, id string) (*models.Post, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	records, err := loadTable[PostRecord](db, postsTable)
	if err != nil {
		return nil, err
	}
	record, ok := lo.Find(records, func(r PostRecord) bool { return r.ID == id })
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, apperr.ErrNotFound)
	}

	posts, err := db.expand([]PostRecord{record})
	if err != nil {
		return nil, err
	}
	return &posts[0], nil
}

// InsertLike 添加点赞关系; a duplicate edge is an error as it would be under the unique key.
func (db *LocalDatabase) InsertLike(_ context.Context, postID, memberID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	likes, err := loadTable[models.PostLike](db, likesTable)
	if err != nil {
		return err
	}
	if lo.ContainsBy(likes, func(l models.PostLike) bool { return l.PostID == postID && l.MemberID == memberID }) {
		return fmt.Errorf("like for post %s by %s already exists", postID, memberID)
	}

	likes = append(likes, models.PostLike{PostID: postID, MemberID: memberID, CreatedAt: time.Now().UTC()})
	return saveTable(db, likesTable, likes)
}

// DeleteLike 删除点赞关系
func (db *LocalDatabase) DeleteLike(_ context.Context, postID, memberID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	likes, err := loadTable[models.PostLike](db, likesTable)
	if err != nil {
		return err
	}
	kept := lo.Reject(likes, func(l models.PostLike, _ int) bool {
		return l.PostID == postID && l.MemberID == memberID
	})
	if len(kept) == len(likes) {
		return fmt.Errorf("post %s, member %s: %w", postID, memberID, ErrLikeMissing)
	}
	return saveTable(db, likesTable, kept)
}

func (db *LocalDatabase) ListLikedPostIDs(_ context.Context, memberID string, postIDs []string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	likes, err := loadTable[models.PostLike](db, likesTable)
	if err != nil {
		return nil, err
	}
	wanted := idSet(postIDs)
	return lo.FilterMap(likes, func(l models.PostLike, _ int) (string, bool) {
		_, ok := wanted[l.PostID]
		return l.PostID, ok && l.MemberID == memberID
	}), nil
}

func (db *LocalDatabase) GetLikeCount(_ context.Context, postID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	records, err := loadTable[PostRecord](db, postsTable)
	if err != nil {
		return 0, err
	}
	record, ok := lo.Find(records, func(r PostRecord) bool { return r.ID == postID })
	if !ok {
		return 0, fmt.Errorf("post %s: %w", postID, apperr.ErrNotFound)
	}
	return record.LikeCount, nil
}

func (db *LocalDatabase) SetLikeCount(_ context.Context, postID string, count int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	records, err := loadTable[PostRecord](db, postsTable)
	if err != nil {
		return err
	}
	_, idx, ok := lo.FindIndexOf(records, func(r PostRecord) bool { return r.ID == postID })
	if !ok {
		return fmt.Errorf("post %s: %w", postID, apperr.ErrNotFound)
	}
	records[idx].LikeCount = count
	return saveTable(db, postsTable, records)
}

// Seed 写入种子数据, replacing rows with the same id
func (db *LocalDatabase) Seed(_ context.Context, fixture Fixture) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := upsertRows(db, organizationsTable, fixture.Organizations, func(o models.Organization) string { return o.ID }); err != nil {
		return err
	}
	if err := upsertRows(db, membersTable, fixture.Members, func(m models.Member) string { return m.ID }); err != nil {
		return err
	}
	return upsertRows(db, postsTable, fixture.Posts, func(p PostRecord) string { return p.ID })
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck(_ context.Context) error {
	info, err := os.Stat(db.dataDir)
	if err != nil {
		return fmt.Errorf("data directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", db.dataDir)
	}
	return nil
}

// Close 关闭数据库
func (db *LocalDatabase) Close() error {
	return nil
}

// ================= Credentials =================

func (db *LocalDatabase) CreateCredential(_ context.Context, cred *models.Credential) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	creds, err := loadTable[models.Credential](db, credentialsTable)
	if err != nil {
		return err
	}
	if lo.ContainsBy(creds, func(c models.Credential) bool { return strings.EqualFold(c.Email, cred.Email) }) {
		return ErrEmailTaken
	}

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	return saveTable(db, credentialsTable, append(creds, *cred))
}

func (db *LocalDatabase) GetCredentialByEmail(_ context.Context, email string) (*models.Credential, error) {
	return db.findCredential(func(c models.Credential) bool { return strings.EqualFold(c.Email, email) })
}

func (db *LocalDatabase) GetCredential(_ context.Context, id string) (*models.Credential, error) {
	return db.findCredential(func(c models.Credential) bool { return c.ID == id })
}

func (db *LocalDatabase) UpdatePasswordHash(_ context.Context, id, hash string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	creds, err := loadTable[models.Credential](db, credentialsTable)
	if err != nil {
		return err
	}
	_, idx, ok := lo.FindIndexOf(creds, func(c models.Credential) bool { return c.ID == id })
	if !ok {
		return fmt.Errorf("credential %s: %w", id, apperr.ErrNotFound)
	}
	creds[idx].PasswordHash = hash
	creds[idx].UpdatedAt = time.Now().UTC()
	return saveTable(db, credentialsTable, creds)
}

func (db *LocalDatabase) findCredential(match func(models.Credential) bool) (*models.Credential, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	creds, err := loadTable[models.Credential](db, credentialsTable)
	if err != nil {
		return nil, err
	}
	cred, ok := lo.Find(creds, match)
	if !ok {
		return nil, fmt.Errorf("credential: %w", apperr.ErrNotFound)
	}
	return &cred, nil
}

// 辅助函数

// expand joins organization and officer onto each record. Callers hold db.mu.
func (db *LocalDatabase) expand(records []PostRecord) ([]models.Post, error) {
	orgs, err := loadTable[models.Organization](db, organizationsTable)
	if err != nil {
		return nil, err
	}
	members, err := loadTable[models.Member](db, membersTable)
	if err != nil {
		return nil, err
	}
	orgByID := lo.KeyBy(orgs, func(o models.Organization) string { return o.ID })
	memberByID := lo.KeyBy(members, func(m models.Member) string { return m.ID })

	posts := make([]models.Post, 0, len(records))
	for _, r := range records {
		row := postRow{PostRecord: r}
		if org, ok := orgByID[r.OrganizationID]; ok {
			row.Organization = &orgEmbed{ID: org.ID, Name: org.Name, LogoURL: org.LogoURL}
		}
		if m, ok := memberByID[r.OfficerID]; ok {
			row.Officer = &officerEmbed{ID: m.ID, FirstName: m.FirstName, LastName: m.LastName, ProfilePicture: m.ProfilePicture}
		}
		posts = append(posts, row.toPost())
	}
	return posts, nil
}

func comparePosts(a, b PostRecord, orderBy string) int {
	if orderBy == "event_at" {
		// PostgREST 默认把 NULL 排在升序末尾
		switch {
		case a.EventAt == nil && b.EventAt == nil:
			return 0
		case a.EventAt == nil:
			return 1
		case b.EventAt == nil:
			return -1
		}
		return a.EventAt.Compare(*b.EventAt)
	}
	return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
}

func idSet(ids []string) map[string]struct{} {
	return lo.Associate(ids, func(id string) (string, struct{}) { return id, struct{}{} })
}

func (db *LocalDatabase) tablePath(table string) string {
	return filepath.Join(db.dataDir, table+".json")
}

func loadTable[T any](db *LocalDatabase, table string) ([]T, error) {
	data, err := os.ReadFile(db.tablePath(table))
	if errors.Is(err, os.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", table, err)
	}
	return rows, nil
}

func saveTable[T any](db *LocalDatabase, table string, rows []T) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}

	// 先写临时文件再重命名，避免写入中断留下半个文件
	tmp := db.tablePath(table) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, db.tablePath(table))
}

func upsertRows[T any](db *LocalDatabase, table string, incoming []T, id func(T) string) error {
	if len(incoming) == 0 {
		return nil
	}
	rows, err := loadTable[T](db, table)
	if err != nil {
		return err
	}
	replaced := lo.KeyBy(incoming, id)
	rows = lo.Reject(rows, func(r T, _ int) bool {
		_, ok := replaced[id(r)]
		return ok
	})
	return saveTable(db, table, append(rows, incoming...))
}
