package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"campus-orgs-backend/pkg/models"
)

// PostRecord is a posts row as stored, before the author expansion.
type PostRecord struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	OfficerID      string     `json:"officer_id"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Images         []string   `json:"images"`
	CreatedAt      time.Time  `json:"created_at"`
	EventAt        *time.Time `json:"event_at,omitempty"`
	Location       *string    `json:"location,omitempty"`
	MembersOnly    bool       `json:"members_only"`
	LikeCount      int        `json:"like_count"`
}

// postRow is a posts row with the organization and officer embedded, the
// shape PostgREST returns for postSelect.
type postRow struct {
	PostRecord
	Organization *orgEmbed     `json:"organization"`
	Officer      *officerEmbed `json:"officer"`
}

type orgEmbed struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logo_url"`
}

type officerEmbed struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ProfilePicture string `json:"profile_picture"`
}

func (r postRow) toPost() models.Post {
	post := models.Post{
		ID:          r.ID,
		Title:       r.Title,
		Body:        r.Body,
		Images:      r.Images,
		CreatedAt:   r.CreatedAt,
		EventAt:     r.EventAt,
		Location:    r.Location,
		MembersOnly: r.MembersOnly,
		LikeCount:   r.LikeCount,
	}
	if post.Images == nil {
		post.Images = []string{}
	}

	// 关联数据缺失时仍保留外键
	post.Author.Organization.ID = r.OrganizationID
	if r.Organization != nil {
		post.Author.Organization = models.PostOrganization{
			ID:      r.Organization.ID,
			Name:    r.Organization.Name,
			LogoURL: r.Organization.LogoURL,
		}
	}
	post.Author.Officer.ID = r.OfficerID
	if r.Officer != nil {
		member := models.Member{FirstName: r.Officer.FirstName, LastName: r.Officer.LastName}
		post.Author.Officer = models.PostOfficer{
			ID:        r.Officer.ID,
			Name:      member.DisplayName(),
			AvatarURL: r.Officer.ProfilePicture,
		}
	}
	return post
}

// Fixture is a set of rows to seed a development backend with.
type Fixture struct {
	Organizations []models.Organization `json:"organizations"`
	Members       []models.Member       `json:"members"`
	Posts         []PostRecord          `json:"posts"`
}

// Seeder is implemented by the backends whose rows this service may write directly.
type Seeder interface {
	Seed(ctx context.Context, fixture Fixture) error
}

// LoadFixture 从JSON文件读取种子数据
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return &fixture, nil
}
