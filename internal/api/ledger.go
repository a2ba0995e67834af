package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/user/chorus/internal/db"
)

const maxListLimit = 500

func (h *handler) listExchanges(w http.ResponseWriter, r *http.Request) {
	if h.exchangeRepo == nil {
		jsonError(w, http.StatusServiceUnavailable, "exchange store unavailable")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	exchanges, err := h.exchangeRepo.List(r.Context(), db.ExchangeFilter{
		UserID:      strings.TrimSpace(q.Get("user_id")),
		ConstructID: strings.TrimSpace(q.Get("construct_id")),
		ThreadID:    strings.TrimSpace(q.Get("thread_id")),
		Limit:       limit,
	})
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(exchanges))
}

func (h *handler) listViolations(w http.ResponseWriter, r *http.Request) {
	if h.violationRepo == nil {
		jsonError(w, http.StatusServiceUnavailable, "violation store unavailable")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	violations, err := h.violationRepo.ListRecent(r.Context(), strings.TrimSpace(r.URL.Query().Get("construct_id")), limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(violations))
}

// parseLimit reads ?limit=, writing a 400 and returning false when it is not a
// positive integer. Zero means the store default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
