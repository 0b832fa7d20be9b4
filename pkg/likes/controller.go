// Package likes implements the optimistic like toggle.
//
// A toggle is a two-phase state machine: Begin computes the optimistic post
// synchronously and returns a pending Toggle; Commit performs the remote steps
// in order and settles the toggle as confirmed or rolled back. A rolled back
// toggle carries the authoritative state obtained by refetching the post list.
package likes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/metrics"
	"campus-orgs-backend/pkg/models"
)

// Store is the subset of the backend the remote steps need.
type Store interface {
	InsertLike(ctx context.Context, postID, memberID string) error
	DeleteLike(ctx context.Context, postID, memberID string) error
	GetLikeCount(ctx context.Context, postID string) (int, error)
	SetLikeCount(ctx context.Context, postID string, count int) error
}

// AtomicCounter is implemented by stores that can adjust a count in one statement.
type AtomicCounter interface {
	AdjustLikeCount(ctx context.Context, postID string, delta int) (int, error)
}

// Refetcher reloads the full post list as the viewer would see it.
type Refetcher func(ctx context.Context, viewerID string) ([]models.Post, error)

// Reloader reads a single post as the viewer sees it. It is used when the
// refetched list does not carry the toggled post.
type Reloader func(ctx context.Context, postID, viewerID string) (*models.Post, error)

// ViewerFunc re-resolves the viewer right before the remote steps run.
// An empty id means the session is gone.
type ViewerFunc func(ctx context.Context) (string, error)

type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseConfirmed  Phase = "confirmed"
	PhaseRolledBack Phase = "rolled_back"
)

// Result is the settled state of a toggle.
type Result struct {
	Phase Phase `json:"phase"`
	// Post is the state to render: the optimistic post when confirmed, the
	// authoritative post after a rollback.
	Post models.Post `json:"post"`
	// Posts is the refetched list, only set on rollback.
	Posts []models.Post `json:"posts,omitempty"`
	Err   error         `json:"-"`
}

type Options struct {
	// Atomic uses AdjustLikeCount when the store implements it instead of
	// re-reading and writing the count.
	Atomic bool
	Reload Reloader
	Logger *slog.Logger
}

type Controller struct {
	store   Store
	refetch Refetcher
	reload  Reloader
	atomic  bool
	logger  *slog.Logger
}

func NewController(store Store, refetch Refetcher, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	_, canAdjust := store.(AtomicCounter)
	return &Controller{
		store:   store,
		refetch: refetch,
		reload:  opts.Reload,
		atomic:  opts.Atomic && canAdjust,
		logger:  logger.With("component", "likes.Controller"),
	}
}

// Toggle is a like toggle between Begin and the end of Commit.
type Toggle struct {
	c          *Controller
	original   models.Post
	optimistic models.Post
	viewerID   string
	on         bool

	once   sync.Once
	mu     sync.Mutex
	phase  Phase
	result Result
}

// Begin flips the like state and adjusts the count locally. It never touches
// the network. An empty viewerID is reported as apperr.ErrNoViewer.
func (c *Controller) Begin(post models.Post, viewerID string) (*Toggle, error) {
	if viewerID == "" {
		return nil, apperr.ErrNoViewer
	}
	on := !post.Liked()
	optimistic := post
	optimistic.Images = append([]string(nil), post.Images...)
	optimistic.IsLiked = models.BoolPtr(on)
	optimistic.LikeCount = adjust(post.LikeCount, on)

	return &Toggle{
		c:          c,
		original:   post,
		optimistic: optimistic,
		viewerID:   viewerID,
		on:         on,
		phase:      PhasePending,
	}, nil
}

// Optimistic is the provisional post to render while Commit is in flight.
func (t *Toggle) Optimistic() models.Post {
	return t.optimistic
}

func (t *Toggle) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Commit runs the remote steps once. Later calls return the first result.
// recheck may be nil, in which case the viewer from Begin is used.
func (t *Toggle) Commit(ctx context.Context, recheck ViewerFunc) Result {
	t.once.Do(func() {
		res := t.run(ctx, recheck)
		t.mu.Lock()
		t.phase = res.Phase
		t.result = res
		t.mu.Unlock()
		metrics.ObserveLikeToggle(string(res.Phase))
	})
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Toggle) run(ctx context.Context, recheck ViewerFunc) Result {
	postID := t.original.ID

	viewerID := t.viewerID
	if recheck != nil {
		id, err := recheck(ctx)
		if err == nil && id == "" {
			err = apperr.ErrNoViewer
		}
		if err != nil {
			return t.rollback(ctx, fmt.Errorf("resolve viewer: %w", err))
		}
		viewerID = id
	}

	var err error
	if t.on {
		err = t.c.store.InsertLike(ctx, postID, viewerID)
	} else {
		err = t.c.store.DeleteLike(ctx, postID, viewerID)
	}
	if err != nil {
		return t.rollback(ctx, apperr.Remote("like edge", err))
	}

	count, err := t.writeCount(ctx, postID)
	if err != nil {
		return t.rollback(ctx, err)
	}

	confirmed := t.optimistic
	confirmed.LikeCount = count
	t.c.logger.Debug("like toggle confirmed", "post_id", postID, "liked", t.on, "like_count", count)
	return Result{Phase: PhaseConfirmed, Post: confirmed}
}

// writeCount re-reads the stored count and writes it back adjusted by one.
// Another writer landing between the read and the write is lost; the atomic
// path avoids that when the store supports it.
func (t *Toggle) writeCount(ctx context.Context, postID string) (int, error) {
	delta := -1
	if t.on {
		delta = 1
	}
	if t.c.atomic {
		count, err := t.c.store.(AtomicCounter).AdjustLikeCount(ctx, postID, delta)
		if err != nil {
			return 0, apperr.Remote("adjust like count", err)
		}
		return count, nil
	}

	current, err := t.c.store.GetLikeCount(ctx, postID)
	if err != nil {
		return 0, apperr.Remote("read like count", err)
	}
	next := adjust(current, t.on)
	if err := t.c.store.SetLikeCount(ctx, postID, next); err != nil {
		return 0, apperr.Remote("write like count", err)
	}
	return next, nil
}

func (t *Toggle) rollback(ctx context.Context, cause error) Result {
	postID := t.original.ID
	t.c.logger.Error("like toggle failed, refetching", "post_id", postID, "error", cause)

	ctx = context.WithoutCancel(ctx)
	res := Result{Phase: PhaseRolledBack, Err: cause}
	if t.c.refetch != nil {
		posts, err := t.c.refetch(ctx, t.viewerID)
		if err != nil {
			t.c.logger.Error("refetch after failed like toggle", "post_id", postID, "error", err)
			res.Err = errors.Join(cause, apperr.Remote("refetch posts", err))
		} else {
			res.Posts = posts
			if fresh, ok := lo.Find(posts, func(p models.Post) bool { return p.ID == postID }); ok {
				res.Post = fresh
				return res
			}
		}
	}
	res.Post = t.stored(ctx)
	return res
}

// stored is the post as the backend holds it. Without a readable copy the
// pre-toggle post is returned with its like state unknown, since that state
// came from the client.
func (t *Toggle) stored(ctx context.Context) models.Post {
	if t.c.reload != nil {
		post, err := t.c.reload(ctx, t.original.ID, t.viewerID)
		if err == nil {
			return *post
		}
		t.c.logger.Warn("reload after failed like toggle", "post_id", t.original.ID, "error", err)
	}
	post := t.original
	post.IsLiked = nil
	return post
}

func adjust(count int, on bool) int {
	if on {
		return count + 1
	}
	if count <= 0 {
		return 0
	}
	return count - 1
}
