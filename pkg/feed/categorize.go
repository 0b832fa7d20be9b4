package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"campus-orgs-backend/pkg/models"
)

// Category buckets an event relative to a reference instant.
type Category string

const (
	Upcoming Category = "upcoming"
	Ongoing  Category = "ongoing"
	Past     Category = "past"
)

// Categories in display order.
var Categories = []Category{Upcoming, Ongoing, Past}

// ParseCategory accepts the query parameter form of a category. Empty means Upcoming.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return Upcoming, nil
	case Upcoming, Ongoing, Past:
		return c, nil
	default:
		return "", fmt.Errorf("unknown event category %q", s)
	}
}

// Buckets is the partition of a list of events.
type Buckets struct {
	Upcoming []models.Post `json:"upcoming"`
	Ongoing  []models.Post `json:"ongoing"`
	Past     []models.Post `json:"past"`
}

// Get returns the bucket for c.
func (b Buckets) Get(c Category) []models.Post {
	switch c {
	case Upcoming:
		return b.Upcoming
	case Ongoing:
		return b.Ongoing
	default:
		return b.Past
	}
}

// CategoryOf classifies t against ref. Same calendar day (in ref's location)
// wins over the strict before/after comparison.
func CategoryOf(t, ref time.Time) Category {
	local := t.In(ref.Location())
	ry, rm, rd := ref.Date()
	ty, tm, td := local.Date()
	switch {
	case ry == ty && rm == tm && rd == td:
		return Ongoing
	case t.After(ref):
		return Upcoming
	default:
		return Past
	}
}

// Categorize partitions events by CategoryOf. Posts without an event timestamp
// are dropped. Order inside each bucket follows the input.
func Categorize(events []models.Post, ref time.Time) Buckets {
	b := Buckets{
		Upcoming: []models.Post{},
		Ongoing:  []models.Post{},
		Past:     []models.Post{},
	}
	for _, e := range events {
		if e.EventAt == nil {
			continue
		}
		switch CategoryOf(*e.EventAt, ref) {
		case Upcoming:
			b.Upcoming = append(b.Upcoming, e)
		case Ongoing:
			b.Ongoing = append(b.Ongoing, e)
		case Past:
			b.Past = append(b.Past, e)
		}
	}
	return b
}

// FilterByCategory returns the events of a single category.
func FilterByCategory(events []models.Post, c Category, ref time.Time) []models.Post {
	return lo.Filter(events, func(e models.Post, _ int) bool {
		return e.EventAt != nil && CategoryOf(*e.EventAt, ref) == c
	})
}
