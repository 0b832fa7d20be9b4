package models

import "time"

// Organization is a campus organization. Read-only from this service's point of view.
type Organization struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	LogoURL     string    `json:"logo_url,omitempty" db:"logo_url"`
	Email       string    `json:"email,omitempty" db:"email"`
	Status      string    `json:"status,omitempty" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type OrgStatus string

const (
	OrgStatusActive   OrgStatus = "active"
	OrgStatusInactive OrgStatus = "inactive"
)

// OrganizationWithPosts is the organization detail screen payload
type OrganizationWithPosts struct {
	Organization Organization `json:"organization"`
	Posts        []Post       `json:"posts"`
}
