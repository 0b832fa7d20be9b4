package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"resty.dev/v3"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/metrics"
	"campus-orgs-backend/pkg/models"
)

// postSelect embeds the author organization and officer into each posts row.
const postSelect = "*,organization:organizations(id,name,logo_url),officer:members!officer_id(id,first_name,last_name,profile_picture)"

// supabaseClient is shared by the rows, auth and storage APIs of one project.
type supabaseClient struct {
	baseURL string
	rest    *resty.Client
	logger  *slog.Logger
}

func newSupabaseClient(baseURL, key string, logger *slog.Logger) *supabaseClient {
	// 确保URL格式正确
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &supabaseClient{baseURL: baseURL, logger: logger.With("backend", "supabase")}
	c.rest = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("apikey", key).
		SetAuthToken(key).
		AddResponseMiddleware(c.observe)
	return c
}

func (c *supabaseClient) r(ctx context.Context) *resty.Request {
	return c.rest.R().WithContext(ctx)
}

func (c *supabaseClient) observe(_ *resty.Client, res *resty.Response) error {
	reqURL, err := url.Parse(res.Request.URL)
	if err != nil {
		return err
	}
	api := backendAPI(reqURL.Path)
	metrics.ObserveBackendLatency(api, res.Request.Method, res.StatusCode(), res.Duration())
	c.logger.Debug("backend call",
		"api", api,
		"method", res.Request.Method,
		"path", reqURL.Path,
		"status", res.StatusCode(),
		"duration", res.Duration(),
	)
	return nil
}

// backendAPI maps /rest/v1/..., /auth/v1/... and /storage/v1/... to their API name.
func backendAPI(path string) string {
	segment, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if segment == "" {
		return "unknown"
	}
	return segment
}

// check classifies a backend response into the error taxonomy and records it.
func (c *supabaseClient) check(api, op string, res *resty.Response, err error) error {
	if err == nil && res.IsError() {
		switch res.StatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			err = fmt.Errorf("%s: %w", op, apperr.ErrUnauthenticated)
		case http.StatusNotFound:
			err = fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
		default:
			err = fmt.Errorf("status %d: %s", res.StatusCode(), res.String())
		}
	}
	metrics.ObserveBackendCall(api, err)
	return apperr.Remote(op, err)
}

// SupabaseDatabase Supabase数据库实现 (PostgREST)
type SupabaseDatabase struct {
	client *supabaseClient
}

func (db *SupabaseDatabase) rest(ctx context.Context) *resty.Request {
	return db.client.r(ctx).SetHeader("Prefer", "return=representation")
}

func (db *SupabaseDatabase) check(op string, res *resty.Response, err error) error {
	return db.client.check("rest", op, res, err)
}

// CreateMember 创建成员资料
func (db *SupabaseDatabase) CreateMember(ctx context.Context, member *models.Member) error {
	if member.Memberships == nil {
		member.Memberships = []string{}
	}
	payload := map[string]interface{}{
		"id":              member.ID,
		"first_name":      member.FirstName,
		"last_name":       member.LastName,
		"bio":             member.Bio,
		"profile_picture": member.ProfilePicture,
		"memberships":     member.Memberships,
	}

	var rows []models.Member
	res, err := db.rest(ctx).SetBody(payload).SetResult(&rows).Post("/rest/v1/members")
	if err := db.check("create member", res, err); err != nil {
		return err
	}
	if len(rows) > 0 {
		*member = rows[0]
	}
	return nil
}

// GetMember 根据ID获取成员
func (db *SupabaseDatabase) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var rows []models.Member
	res, err := db.rest(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("select", "*").
		SetResult(&rows).
		Get("/rest/v1/members")
	if err := db.check("get member", res, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("member %s: %w", id, apperr.ErrNotFound)
	}
	return &rows[0], nil
}

// UpdateMember 更新成员（整条记录）
func (db *SupabaseDatabase) UpdateMember(ctx context.Context, member *models.Member) error {
	if member.Memberships == nil {
		member.Memberships = []string{}
	}
	payload := map[string]interface{}{
		"first_name":      member.FirstName,
		"last_name":       member.LastName,
		"bio":             member.Bio,
		"profile_picture": member.ProfilePicture,
		"memberships":     member.Memberships,
		"updated_at":      time.Now().UTC(),
	}

	var rows []models.Member
	res, err := db.rest(ctx).
		SetQueryParam("id", "eq."+member.ID).
		SetBody(payload).
		SetResult(&rows).
		Patch("/rest/v1/members")
	if err := db.check("update member", res, err); err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("member %s: %w", member.ID, apperr.ErrNotFound)
	}
	*member = rows[0]
	return nil
}

// GetOrganization 获取组织
func (db *SupabaseDatabase) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var rows []models.Organization
	res, err := db.rest(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("select", "*").
		SetResult(&rows).
		Get("/rest/v1/organizations")
	if err := db.check("get organization", res, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("organization %s: %w", id, apperr.ErrNotFound)
	}
	return &rows[0], nil
}

// ListOrganizations 按名称列出所有组织
func (db *SupabaseDatabase) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows := []models.Organization{}
	res, err := db.rest(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("order", "name.asc").
		SetResult(&rows).
		Get("/rest/v1/organizations")
	if err := db.check("list organizations", res, err); err != nil {
		return nil, err
	}
	return rows, nil
}

func (db *SupabaseDatabase) ListOrganizationsByIDs(ctx context.Context, ids []string) ([]models.Organization, error) {
	if len(ids) == 0 {
		return []models.Organization{}, nil
	}
	rows := []models.Organization{}
	res, err := db.rest(ctx).
		SetQueryParam("id", inFilter(ids)).
		SetQueryParam("select", "*").
		SetQueryParam("order", "name.asc").
		SetResult(&rows).
		Get("/rest/v1/organizations")
	if err := db.check("list organizations by id", res, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListPosts 列出帖子并展开作者信息
func (db *SupabaseDatabase) ListPosts(ctx context.Context, query models.PostQuery) ([]models.Post, error) {
	orderBy := query.OrderBy
	if orderBy == "" {
		orderBy = "created_at"
	}
	direction := "asc"
	if query.Descending {
		direction = "desc"
	}

	req := db.rest(ctx).
		SetQueryParam("select", postSelect).
		SetQueryParam("order", orderBy+"."+direction)
	if query.OrgID != "" {
		req.SetQueryParam("organization_id", "eq."+query.OrgID)
	}
	if query.OnlyEvents {
		req.SetQueryParam("event_at", "not.is.null")
	}

	var rows []postRow
	res, err := req.SetResult(&rows).Get("/rest/v1/posts")
	if err := db.check("list posts", res, err); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r postRow, _ int) models.Post { return r.toPost() }), nil
}

// GetPost 获取单个帖子
func (db *SupabaseDatabase) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var rows []postRow
	res, err := db.rest(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("select", postSelect).
		SetResult(&rows).
		Get("/rest/v1/posts")
	if err := db.check("get post", res, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("post %s: %w", id, apperr.ErrNotFound)
	}
	post := rows[0].toPost()
	return &post, nil
}

// InsertLike 添加点赞关系
func (db *SupabaseDatabase) InsertLike(ctx context.Context, postID, memberID string) error {
	res, err := db.client.r(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(map[string]string{"post_id": postID, "member_id": memberID}).
		Post("/rest/v1/post_likes")
	return db.check("insert like", res, err)
}

// DeleteLike 删除点赞关系; the deleted rows come back so a missing edge can be detected.
func (db *SupabaseDatabase) DeleteLike(ctx context.Context, postID, memberID string) error {
	var rows []models.PostLike
	res, err := db.rest(ctx).
		SetQueryParam("post_id", "eq."+postID).
		SetQueryParam("member_id", "eq."+memberID).
		SetResult(&rows).
		Delete("/rest/v1/post_likes")
	if err := db.check("delete like", res, err); err != nil {
		return err
	}
	if len(rows) == 0 {
		return apperr.Remote("delete like", fmt.Errorf("post %s, member %s: %w", postID, memberID, ErrLikeMissing))
	}
	return nil
}

func (db *SupabaseDatabase) ListLikedPostIDs(ctx context.Context, memberID string, postIDs []string) ([]string, error) {
	if len(postIDs) == 0 {
		return []string{}, nil
	}
	var rows []models.PostLike
	res, err := db.rest(ctx).
		SetQueryParam("select", "post_id").
		SetQueryParam("member_id", "eq."+memberID).
		SetQueryParam("post_id", inFilter(postIDs)).
		SetResult(&rows).
		Get("/rest/v1/post_likes")
	if err := db.check("list likes", res, err); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(l models.PostLike, _ int) string { return l.PostID }), nil
}

func (db *SupabaseDatabase) GetLikeCount(ctx context.Context, postID string) (int, error) {
	var rows []struct {
		LikeCount int `json:"like_count"`
	}
	res, err := db.rest(ctx).
		SetQueryParam("id", "eq."+postID).
		SetQueryParam("select", "like_count").
		SetResult(&rows).
		Get("/rest/v1/posts")
	if err := db.check("get like count", res, err); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("post %s: %w", postID, apperr.ErrNotFound)
	}
	return rows[0].LikeCount, nil
}

func (db *SupabaseDatabase) SetLikeCount(ctx context.Context, postID string, count int) error {
	res, err := db.client.r(ctx).
		SetHeader("Prefer", "return=minimal").
		SetQueryParam("id", "eq."+postID).
		SetBody(map[string]int{"like_count": count}).
		Patch("/rest/v1/posts")
	return db.check("set like count", res, err)
}

// AdjustLikeCount calls the adjust_like_count database function from schema.sql.
func (db *SupabaseDatabase) AdjustLikeCount(ctx context.Context, postID string, delta int) (int, error) {
	var count int
	res, err := db.client.r(ctx).
		SetBody(map[string]interface{}{"p_post_id": postID, "p_delta": delta}).
		SetResult(&count).
		Post("/rest/v1/rpc/adjust_like_count")
	if err := db.check("adjust like count", res, err); err != nil {
		return 0, err
	}
	return count, nil
}

// HealthCheck 健康检查
func (db *SupabaseDatabase) HealthCheck(ctx context.Context) error {
	res, err := db.client.r(ctx).
		SetQueryParam("select", "id").
		SetQueryParam("limit", "1").
		Get("/rest/v1/organizations")
	return db.check("health check", res, err)
}

// Close 关闭连接
func (db *SupabaseDatabase) Close() error {
	return db.client.rest.Close()
}

// inFilter builds a PostgREST in.(...) filter with quoted values.
func inFilter(values []string) string {
	quoted := lo.Map(values, func(v string, _ int) string {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	})
	return "in.(" + strings.Join(quoted, ",") + ")"
}
