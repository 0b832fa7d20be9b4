package handlers

import (
	"context"
	"errors"
	"fmt"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/feed"
	"campus-orgs-backend/pkg/models"
)

// feedLoader reads posts the way a given viewer sees them: members-only
// posts filtered by membership and is_liked filled in when there is a viewer.
type feedLoader struct {
	db database.DatabaseInterface
}

// viewerMember loads the viewer's member row. A viewer who has signed up but
// not set up a profile yet has no memberships, which is reported as nil.
func (l *feedLoader) viewerMember(ctx context.Context, viewerID string) (*models.Member, error) {
	if viewerID == "" {
		return nil, nil
	}
	member, err := l.db.GetMember(ctx, viewerID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Remote("get viewer", err)
	}
	return member, nil
}

func (l *feedLoader) List(ctx context.Context, query models.PostQuery, viewerID string) ([]models.Post, error) {
	posts, err := l.db.ListPosts(ctx, query)
	if err != nil {
		return nil, apperr.Remote("list posts", err)
	}

	member, err := l.viewerMember(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	posts = feed.Visible(posts, member)

	return l.markLiked(ctx, posts, viewerID)
}

// Get loads one post. A members-only post the viewer cannot see is reported as not found.
func (l *feedLoader) Get(ctx context.Context, id, viewerID string) (*models.Post, error) {
	post, err := l.db.GetPost(ctx, id)
	if err != nil {
		return nil, apperr.Remote("get post", err)
	}

	member, err := l.viewerMember(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	visible := feed.Visible([]models.Post{*post}, member)
	if len(visible) == 0 {
		return nil, fmt.Errorf("post %s: %w", id, apperr.ErrNotFound)
	}

	marked, err := l.markLiked(ctx, visible, viewerID)
	if err != nil {
		return nil, err
	}
	return &marked[0], nil
}

// Refetch is the authoritative reload used after a failed like toggle.
func (l *feedLoader) Refetch(ctx context.Context, viewerID string) ([]models.Post, error) {
	return l.List(ctx, models.PostQuery{Descending: true}, viewerID)
}

func (l *feedLoader) markLiked(ctx context.Context, posts []models.Post, viewerID string) ([]models.Post, error) {
	if viewerID == "" || len(posts) == 0 {
		return posts, nil
	}
	liked, err := l.db.ListLikedPostIDs(ctx, viewerID, feed.IDs(posts))
	if err != nil {
		return nil, apperr.Remote("list liked posts", err)
	}
	return feed.MarkLiked(posts, liked), nil
}
