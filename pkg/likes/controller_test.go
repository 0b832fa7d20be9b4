package likes_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/likes"
	"campus-orgs-backend/pkg/models"
)

var (
	errBackend = errors.New("backend unavailable")
	errNoEdge  = errors.New("like does not exist")
)

// fakeStore is an in-memory backend with per-step failure injection.
type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int
	edges  map[string]map[string]bool
	calls  []string

	failInsert, failDelete, failRead, failWrite, failRefetch bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int{}, edges: map[string]map[string]bool{}}
}

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) InsertLike(_ context.Context, postID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("insert")
	if s.failInsert {
		return errBackend
	}
	if s.edges[postID] == nil {
		s.edges[postID] = map[string]bool{}
	}
	s.edges[postID][memberID] = true
	return nil
}

func (s *fakeStore) DeleteLike(_ context.Context, postID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete")
	if s.failDelete {
		return errBackend
	}
	if !s.edges[postID][memberID] {
		return errNoEdge
	}
	delete(s.edges[postID], memberID)
	return nil
}

func (s *fakeStore) GetLikeCount(_ context.Context, postID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("read")
	if s.failRead {
		return 0, errBackend
	}
	return s.counts[postID], nil
}

func (s *fakeStore) SetLikeCount(_ context.Context, postID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("write")
	if s.failWrite {
		return errBackend
	}
	s.counts[postID] = count
	return nil
}

func (s *fakeStore) refetch(_ context.Context, viewerID string) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("refetch")
	if s.failRefetch {
		return nil, errBackend
	}
	return []models.Post{s.storedLocked("p1", viewerID)}, nil
}

// reload reads one post; the refetched list in these tests may leave it out.
func (s *fakeStore) reload(_ context.Context, postID, viewerID string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("reload")
	if s.failRefetch {
		return nil, errBackend
	}
	p := s.storedLocked(postID, viewerID)
	return &p, nil
}

func (s *fakeStore) storedLocked(postID, viewerID string) models.Post {
	return models.Post{
		ID:        postID,
		LikeCount: s.counts[postID],
		IsLiked:   models.BoolPtr(s.edges[postID][viewerID]),
	}
}

type atomicStore struct {
	*fakeStore
}

func (s atomicStore) AdjustLikeCount(_ context.Context, postID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("adjust")
	s.counts[postID] = max(s.counts[postID]+delta, 0)
	return s.counts[postID], nil
}

func post(likes int, liked bool) models.Post {
	return models.Post{ID: "p1", Title: "Kickoff", LikeCount: likes, IsLiked: models.BoolPtr(liked)}
}

func TestBegin_IsOptimisticAndLocal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := likes.NewController(store, store.refetch, likes.Options{})

	toggle, err := c.Begin(post(5, false), "viewer")
	require.NoError(t, err)

	got := toggle.Optimistic()
	require.Equal(t, 6, got.LikeCount)
	require.True(t, got.Liked())
	require.Equal(t, likes.PhasePending, toggle.Phase())
	require.Empty(t, store.calls, "no remote call before Commit")
}

func TestBegin_Unlike(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := likes.NewController(store, store.refetch, likes.Options{})

	toggle, err := c.Begin(post(5, true), "viewer")
	require.NoError(t, err)
	require.Equal(t, 4, toggle.Optimistic().LikeCount)
	require.False(t, toggle.Optimistic().Liked())

	toggle, err = c.Begin(post(0, true), "viewer")
	require.NoError(t, err)
	require.Equal(t, 0, toggle.Optimistic().LikeCount)
}

func TestBegin_NoViewer(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := likes.NewController(store, store.refetch, likes.Options{})

	_, err := c.Begin(post(5, false), "")
	require.ErrorIs(t, err, apperr.ErrNoViewer)
}

func TestCommit_Confirmed(t *testing.T) {
	t.Parallel()

	t.Run("like uses the freshly read count", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.counts["p1"] = 9 // someone else liked since the list was loaded
		c := likes.NewController(store, store.refetch, likes.Options{})

		toggle, err := c.Begin(post(5, false), "viewer")
		require.NoError(t, err)
		res := toggle.Commit(t.Context(), nil)

		require.NoError(t, res.Err)
		require.Equal(t, likes.PhaseConfirmed, res.Phase)
		require.Equal(t, 10, res.Post.LikeCount)
		require.True(t, res.Post.Liked())
		require.Equal(t, 10, store.counts["p1"])
		require.True(t, store.edges["p1"]["viewer"])
		require.Equal(t, []string{"insert", "read", "write"}, store.calls)
	})

	t.Run("unlike deletes the edge", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.counts["p1"] = 3
		store.edges["p1"] = map[string]bool{"viewer": true}
		c := likes.NewController(store, store.refetch, likes.Options{})

		toggle, err := c.Begin(post(3, true), "viewer")
		require.NoError(t, err)
		res := toggle.Commit(t.Context(), nil)

		require.Equal(t, likes.PhaseConfirmed, res.Phase)
		require.Equal(t, 2, store.counts["p1"])
		require.False(t, store.edges["p1"]["viewer"])
		require.Equal(t, []string{"delete", "read", "write"}, store.calls)
	})

	t.Run("atomic adjust when enabled", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.counts["p1"] = 5
		c := likes.NewController(atomicStore{store}, store.refetch, likes.Options{Atomic: true})

		toggle, err := c.Begin(post(5, false), "viewer")
		require.NoError(t, err)
		res := toggle.Commit(t.Context(), nil)

		require.Equal(t, likes.PhaseConfirmed, res.Phase)
		require.Equal(t, 6, res.Post.LikeCount)
		require.Equal(t, []string{"insert", "adjust"}, store.calls)
	})
}

func TestCommit_RolledBack(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		inject func(*fakeStore)
	}{
		{"insert fails", func(s *fakeStore) { s.failInsert = true }},
		{"count read fails", func(s *fakeStore) { s.failRead = true }},
		{"count write fails", func(s *fakeStore) { s.failWrite = true }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := newFakeStore()
			store.counts["p1"] = 5
			tc.inject(store)
			c := likes.NewController(store, store.refetch, likes.Options{})

			toggle, err := c.Begin(post(5, false), "viewer")
			require.NoError(t, err)
			require.Equal(t, 6, toggle.Optimistic().LikeCount)

			res := toggle.Commit(t.Context(), nil)

			require.Equal(t, likes.PhaseRolledBack, res.Phase)
			require.True(t, apperr.IsRemote(res.Err))
			require.ErrorIs(t, res.Err, errBackend)
			require.Equal(t, "refetch", store.calls[len(store.calls)-1])

			// The rendered state is whatever the backend holds now.
			require.Len(t, res.Posts, 1)
			require.Equal(t, store.counts["p1"], res.Post.LikeCount)
			require.Equal(t, store.edges["p1"]["viewer"], res.Post.Liked())
		})
	}
}

func TestCommit_ViewerGoneBeforeRemoteCall(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.counts["p1"] = 5
	c := likes.NewController(store, store.refetch, likes.Options{})

	toggle, err := c.Begin(post(5, false), "viewer")
	require.NoError(t, err)

	res := toggle.Commit(t.Context(), func(context.Context) (string, error) { return "", nil })

	require.Equal(t, likes.PhaseRolledBack, res.Phase)
	require.ErrorIs(t, res.Err, apperr.ErrNoViewer)
	require.Equal(t, []string{"refetch"}, store.calls)
	require.Equal(t, 5, res.Post.LikeCount)
	require.False(t, res.Post.Liked())
}

func TestCommit_RefetchFails(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failInsert = true
	store.failRefetch = true
	c := likes.NewController(store, store.refetch, likes.Options{})

	toggle, err := c.Begin(post(5, false), "viewer")
	require.NoError(t, err)
	res := toggle.Commit(t.Context(), nil)

	require.Equal(t, likes.PhaseRolledBack, res.Phase)
	require.Nil(t, res.Posts)
	// No optimistic value survives a failed toggle.
	require.Equal(t, 5, res.Post.LikeCount)
	require.False(t, res.Post.Liked())
}

func TestCommit_RunsOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := likes.NewController(store, store.refetch, likes.Options{})

	toggle, err := c.Begin(post(0, false), "viewer")
	require.NoError(t, err)

	first := toggle.Commit(t.Context(), nil)
	second := toggle.Commit(t.Context(), nil)

	require.Equal(t, first, second)
	require.Equal(t, 1, store.counts["p1"])
	require.Equal(t, likes.PhaseConfirmed, toggle.Phase())
}

func TestCommit_UnlikeRolledBack(t *testing.T) {
	t.Parallel()

	t.Run("delete fails", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.counts["p1"] = 3
		store.edges["p1"] = map[string]bool{"viewer": true}
		store.failDelete = true
		c := likes.NewController(store, store.refetch, likes.Options{})

		toggle, err := c.Begin(post(3, true), "viewer")
		require.NoError(t, err)
		require.Equal(t, 2, toggle.Optimistic().LikeCount)

		res := toggle.Commit(t.Context(), nil)

		require.Equal(t, likes.PhaseRolledBack, res.Phase)
		require.ErrorIs(t, res.Err, errBackend)
		require.Equal(t, []string{"delete", "refetch"}, store.calls)
		require.Equal(t, 3, res.Post.LikeCount)
		require.True(t, res.Post.Liked())
	})

	t.Run("stale client thinks it liked", func(t *testing.T) {
		t.Parallel()

		// 三个点赞都来自其他成员, viewer 本身没有点赞
		store := newFakeStore()
		store.counts["p1"] = 3
		store.edges["p1"] = map[string]bool{"a": true, "b": true, "c": true}
		c := likes.NewController(store, store.refetch, likes.Options{})

		toggle, err := c.Begin(post(3, true), "viewer")
		require.NoError(t, err)
		res := toggle.Commit(t.Context(), nil)

		require.Equal(t, likes.PhaseRolledBack, res.Phase)
		require.ErrorIs(t, res.Err, errNoEdge)
		require.NotContains(t, store.calls, "write", "count is untouched")
		require.Equal(t, 3, store.counts["p1"])
		require.Equal(t, 3, res.Post.LikeCount)
		require.False(t, res.Post.Liked())
	})
}

func TestCommit_RollbackWithoutPostInRefetch(t *testing.T) {
	t.Parallel()

	emptyList := func(context.Context, string) ([]models.Post, error) { return []models.Post{}, nil }

	t.Run("reloads the post", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.counts["p1"] = 5
		store.failInsert = true
		c := likes.NewController(store, emptyList, likes.Options{Reload: store.reload})

		// 客户端声称未点赞, 实际已点赞
		store.edges["p1"] = map[string]bool{"viewer": true}
		toggle, err := c.Begin(post(5, false), "viewer")
		require.NoError(t, err)
		res := toggle.Commit(t.Context(), nil)

		require.Equal(t, likes.PhaseRolledBack, res.Phase)
		require.Equal(t, "reload", store.calls[len(store.calls)-1])
		require.True(t, res.Post.Liked(), "like state comes from the backend")
		require.Equal(t, 5, res.Post.LikeCount)
	})

	t.Run("like state unknown without a reload", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.failInsert = true
		c := likes.NewController(store, emptyList, likes.Options{})

		toggle, err := c.Begin(post(5, false), "viewer")
		require.NoError(t, err)
		res := toggle.Commit(t.Context(), nil)

		require.Equal(t, likes.PhaseRolledBack, res.Phase)
		require.Nil(t, res.Post.IsLiked)
		require.Equal(t, 5, res.Post.LikeCount)
	})
}
