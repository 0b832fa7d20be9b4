package feed

import (
	"strings"

	"github.com/samber/lo"

	"campus-orgs-backend/pkg/models"
)

// Search keeps posts whose title or body contains query, ignoring case.
// Spaces in the query are part of the substring; an all-space query returns
// posts as-is.
func Search(posts []models.Post, query string) []models.Post {
	q := normalizeQuery(query)
	if q == "" {
		return posts
	}
	return lo.Filter(posts, func(p models.Post, _ int) bool {
		return containsFold(p.Title, q) || containsFold(p.Body, q)
	})
}

// SearchOrganizations is Search for the organizations screen (name and description).
func SearchOrganizations(orgs []models.Organization, query string) []models.Organization {
	q := normalizeQuery(query)
	if q == "" {
		return orgs
	}
	return lo.Filter(orgs, func(o models.Organization, _ int) bool {
		return containsFold(o.Name, q) || containsFold(o.Description, q)
	})
}

// normalizeQuery lower-cases query, or returns "" for a blank one.
func normalizeQuery(query string) string {
	if strings.TrimSpace(query) == "" {
		return ""
	}
	return strings.ToLower(query)
}

// containsFold expects lowerQuery to be lower-cased already.
func containsFold(s, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(s), lowerQuery)
}
