package feed_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"campus-orgs-backend/pkg/feed"
	"campus-orgs-backend/pkg/models"
)

var ref = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func event(id string, at time.Time) models.Post {
	return models.Post{ID: id, Title: "event " + id, EventAt: &at}
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		at   time.Time
		want feed.Category
	}{
		{"early same day", time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC), feed.Ongoing},
		{"late same day", time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC), feed.Ongoing},
		{"exactly ref", ref, feed.Ongoing},
		{"one minute into next day", time.Date(2024, 3, 16, 0, 1, 0, 0, time.UTC), feed.Upcoming},
		{"next month", time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC), feed.Upcoming},
		{"one minute before day start", time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC), feed.Past},
		{"last year", time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC), feed.Past},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, feed.CategoryOf(tc.at, ref))
		})
	}
}

func TestCategoryOf_UsesReferenceLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC-5", -5*60*60)
	localRef := time.Date(2024, 3, 15, 22, 0, 0, 0, loc)
	// 02:00 UTC on the 16th is 21:00 on the 15th in localRef's zone.
	at := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)

	require.Equal(t, feed.Ongoing, feed.CategoryOf(at, localRef))
}

func TestCategorize_Partition(t *testing.T) {
	t.Parallel()

	var events []models.Post
	start := ref.Add(-72 * time.Hour)
	for i := 0; i < 6*24*4; i++ {
		events = append(events, event(fmt.Sprintf("e%d", i), start.Add(time.Duration(i)*15*time.Minute)))
	}
	events = append(events, models.Post{ID: "no-date"})

	b := feed.Categorize(events, ref)

	require.Len(t, lo.Flatten([][]models.Post{b.Upcoming, b.Ongoing, b.Past}), len(events)-1)
	for _, e := range events {
		if e.EventAt == nil {
			continue
		}
		hits := 0
		for _, c := range feed.Categories {
			if lo.ContainsBy(b.Get(c), func(p models.Post) bool { return p.ID == e.ID }) {
				hits++
			}
		}
		require.Equal(t, 1, hits, "event at %s", e.EventAt)
	}
}

func TestCategorize_KeepsOrder(t *testing.T) {
	t.Parallel()

	events := []models.Post{
		event("b", ref.Add(48*time.Hour)),
		event("a", ref.Add(24*time.Hour)),
		event("c", ref.Add(-48*time.Hour)),
	}

	b := feed.Categorize(events, ref)

	require.Equal(t, []string{"b", "a"}, feed.IDs(b.Upcoming))
	require.Empty(t, b.Ongoing)
	require.Equal(t, []string{"c"}, feed.IDs(b.Past))
}

func TestFilterByCategory(t *testing.T) {
	t.Parallel()

	events := []models.Post{
		event("ongoing", time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC)),
		event("upcoming", time.Date(2024, 3, 16, 0, 1, 0, 0, time.UTC)),
		event("past", time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC)),
		{ID: "plain post"},
	}

	for _, c := range feed.Categories {
		got := feed.FilterByCategory(events, c, ref)
		require.Equal(t, []string{string(c)}, feed.IDs(got))
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	c, err := feed.ParseCategory("")
	require.NoError(t, err)
	require.Equal(t, feed.Upcoming, c)

	c, err = feed.ParseCategory(" Past ")
	require.NoError(t, err)
	require.Equal(t, feed.Past, c)

	_, err = feed.ParseCategory("tomorrow")
	require.Error(t, err)
}
