package feed

import (
	"github.com/samber/lo"

	"campus-orgs-backend/pkg/models"
)

// Visible hides members-only posts from viewers outside the owning organization.
// A nil viewer sees public posts only.
func Visible(posts []models.Post, viewer *models.Member) []models.Post {
	return lo.Filter(posts, func(p models.Post, _ int) bool {
		return !p.MembersOnly || viewer.IsMemberOf(p.OrganizationID())
	})
}

// MarkLiked fills IsLiked for every post from the viewer's liked set.
func MarkLiked(posts []models.Post, likedIDs []string) []models.Post {
	liked := lo.Associate(likedIDs, func(id string) (string, struct{}) {
		return id, struct{}{}
	})
	return lo.Map(posts, func(p models.Post, _ int) models.Post {
		_, ok := liked[p.ID]
		p.IsLiked = models.BoolPtr(ok)
		return p
	})
}

// IDs lists post ids in order.
func IDs(posts []models.Post) []string {
	return lo.Map(posts, func(p models.Post, _ int) string { return p.ID })
}
