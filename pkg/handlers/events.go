package handlers

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"campus-orgs-backend/pkg/apperr"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/feed"
	"campus-orgs-backend/pkg/middleware"
	"campus-orgs-backend/pkg/models"
	"campus-orgs-backend/pkg/utils"
)

// categoryAll returns all three buckets in one response.
const categoryAll = "all"

type EventsHandler struct {
	feed   *feedLoader
	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

// NewEventsHandler builds the events handler. loc is the default zone for the
// calendar-day comparison; nil means UTC.
func NewEventsHandler(backend *database.Backend, loc *time.Location, logger *slog.Logger) *EventsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &EventsHandler{
		feed:   &feedLoader{db: backend.DB},
		now:    time.Now,
		loc:    loc,
		logger: logger.With("component", "handlers.events"),
	}
}

// ListEvents GET /api/events?category=upcoming|ongoing|past|all&q=&org_id=&tz=
//
// Upcoming and ongoing events are soonest first, past events most recent first.
// Categories are computed against the current time on every request, on the
// calendar of tz (an IANA zone such as Asia/Manila) or the configured zone.
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := utils.GetQueryParam(r, "q", "")
	rawCategory := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category")))

	loc, err := h.location(r)
	if err != nil {
		utils.WriteAppError(w, h.logger, "list events", err)
		return
	}

	var category feed.Category
	if rawCategory != categoryAll {
		if category, err = feed.ParseCategory(rawCategory); err != nil {
			utils.WriteAppError(w, h.logger, "list events", apperr.Validation("category", "%v", err))
			return
		}
	}

	events, err := h.feed.List(r.Context(), models.PostQuery{
		OrgID:      utils.GetQueryParam(r, "org_id", ""),
		OnlyEvents: true,
		OrderBy:    "event_at",
	}, middleware.ViewerID(r.Context()))
	if err != nil {
		utils.WriteAppError(w, h.logger, "list events", err)
		return
	}
	events = feed.Search(models.AsEvents(events), query)

	ref := h.now().In(loc)
	if rawCategory == categoryAll {
		buckets := feed.Categorize(events, ref)
		slices.Reverse(buckets.Past)
		utils.WriteSuccessResponse(w, buckets)
		return
	}

	list := feed.FilterByCategory(events, category, ref)
	if category == feed.Past {
		slices.Reverse(list)
	}
	utils.WriteListResponse(w, list, len(list), query)
}

// location resolves the ?tz= parameter. "Local" is refused since it would be
// the server's zone.
func (h *EventsHandler) location(r *http.Request) (*time.Location, error) {
	tz := strings.TrimSpace(r.URL.Query().Get("tz"))
	if tz == "" {
		return h.loc, nil
	}
	if tz == "Local" {
		return nil, apperr.Validation("tz", "must be an IANA time zone name")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperr.Validation("tz", "unknown time zone %q", tz)
	}
	return loc, nil
}
