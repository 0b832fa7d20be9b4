package models

import "time"

// PostOrganization is the owning organization as embedded in a post row.
type PostOrganization struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	LogoURL string `json:"logo_url,omitempty" db:"logo_url"`
}

// PostOfficer is the member who published the post on behalf of the organization.
type PostOfficer struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	AvatarURL string `json:"avatar_url,omitempty" db:"avatar_url"`
}

// Author is the relational expansion of a post's organization_id and officer_id.
type Author struct {
	Organization PostOrganization `json:"organization"`
	Officer      PostOfficer      `json:"officer"`
}

// Post is a read-mostly copy of a backend row. Only LikeCount and IsLiked are
// ever changed locally, and only provisionally.
type Post struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Body        string     `json:"body" db:"body"`
	Images      []string   `json:"images" db:"images"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	EventAt     *time.Time `json:"event_at,omitempty" db:"event_at"`
	Location    *string    `json:"location,omitempty" db:"location"`
	MembersOnly bool       `json:"members_only" db:"members_only"`
	LikeCount   int        `json:"like_count" db:"like_count"`
	// IsLiked is nil when there is no authenticated viewer.
	IsLiked *bool  `json:"is_liked,omitempty"`
	Author  Author `json:"author"`
}

// OrganizationID is a shortcut for the owning organization.
func (p Post) OrganizationID() string {
	return p.Author.Organization.ID
}

// Liked reports the viewer's like state, treating "unknown" as not liked.
func (p Post) Liked() bool {
	return p.IsLiked != nil && *p.IsLiked
}

// IsEvent reports whether the post carries an event timestamp.
func (p Post) IsEvent() bool {
	return p.EventAt != nil
}

// AsEvents keeps only the posts that are events, preserving order.
func AsEvents(posts []Post) []Post {
	events := make([]Post, 0, len(posts))
	for _, p := range posts {
		if p.IsEvent() {
			events = append(events, p)
		}
	}
	return events
}

// PostQuery describes a row query against the posts table.
type PostQuery struct {
	OrgID      string
	OnlyEvents bool
	// OrderBy is a column name, "created_at" when empty.
	OrderBy    string
	Descending bool
}

// PostLike is the like edge between a member and a post.
type PostLike struct {
	PostID    string    `json:"post_id" db:"post_id"`
	MemberID  string    `json:"member_id" db:"member_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ToggleLikeRequest carries the viewer's like state as currently rendered.
// A nil Liked means "use the stored state".
type ToggleLikeRequest struct {
	Liked *bool `json:"liked"`
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
