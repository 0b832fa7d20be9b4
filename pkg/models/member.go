package models

import (
	"slices"
	"strings"
	"time"
)

// Member is the profile row keyed by the auth identity.
type Member struct {
	ID        string `json:"id" db:"id"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Bio       string `json:"bio" db:"bio"`
	// ProfilePicture is an object path inside the storage bucket, not a URL.
	ProfilePicture string    `json:"profile_picture,omitempty" db:"profile_picture"`
	Memberships    []string  `json:"memberships" db:"memberships"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName joins first and last name.
func (m Member) DisplayName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// IsMemberOf reports whether orgID is in the membership list.
func (m *Member) IsMemberOf(orgID string) bool {
	if m == nil {
		return false
	}
	return slices.Contains(m.Memberships, orgID)
}

// ProfileRequest is the full-record profile payload used by setup and edit.
type ProfileRequest struct {
	FirstName string `json:"first_name" validate:"required,max=80"`
	LastName  string `json:"last_name" validate:"required,max=80"`
	Bio       string `json:"bio" validate:"max=500"`
}

// Normalize trims the names so that blank ones fail "required". The bio is
// stored as written.
func (r *ProfileRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

// MemberProfile is the profile screen payload
type MemberProfile struct {
	Member        Member         `json:"member"`
	Organizations []Organization `json:"organizations"`
	PictureURL    string         `json:"picture_url,omitempty"`
}
