package api

import (
	"net/http"

	"github.com/user/chorus/internal/hub"
	"github.com/user/chorus/internal/seat"
	"github.com/user/chorus/internal/triad"
)

type seatHealthResponse struct {
	Healthy  bool           `json:"healthy"`
	Degraded bool           `json:"degraded"`
	Active   []seat.ID      `json:"active"`
	Failed   []seat.ID      `json:"failed"`
	Seats    []hub.SeatInfo `json:"seats"`
}

// SeatInfos joins seat descriptors with an availability status.
func SeatInfos(descriptors []seat.Descriptor, status triad.Status) []hub.SeatInfo {
	failed := make(map[seat.ID]bool, len(status.Failed))
	for _, id := range status.Failed {
		failed[id] = true
	}
	out := make([]hub.SeatInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, hub.SeatInfo{
			Seat:   string(d.ID),
			Model:  d.Model,
			Role:   d.Role,
			Active: !failed[d.ID],
		})
	}
	return out
}

func (h *handler) listSeats(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, h.engine.SeatDescriptors())
}

// seatHealth probes the helper seats and pushes the result to websocket
// clients.
func (h *handler) seatHealth(w http.ResponseWriter, r *http.Request) {
	status := h.engine.TriadPreCheck(r.Context())
	seats := SeatInfos(h.engine.SeatDescriptors(), status)
	if h.hub != nil {
		h.hub.BroadcastSeats(seats)
	}
	jsonResponse(w, http.StatusOK, seatHealthResponse{
		Healthy:  status.Healthy(),
		Degraded: status.Degraded(),
		Active:   nonNil(status.Active),
		Failed:   nonNil(status.Failed),
		Seats:    seats,
	})
}
