package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"class-meet-service/internal/app"
	"class-meet-service/internal/domain"
	"github.com/rs/zerolog"
)

// APIHandler serves the small REST surface used by the external meeting
// collaborators: meeting creation and room snapshots.
type APIHandler struct {
	service *app.RoomService
	log     zerolog.Logger
}

func NewAPIHandler(service *app.RoomService, log zerolog.Logger) *APIHandler {
	return &APIHandler{service: service, log: log.With().Str("component", "api").Logger()}
}

func (h *APIHandler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	meetingID := h.service.CreateMeeting(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"meetingId": meetingID})
}

// GetMeeting returns the live snapshot for /api/meeting/{id}.
func (h *APIHandler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	meetingID := strings.TrimPrefix(r.URL.Path, "/api/meeting/")
	if meetingID == "" || strings.Contains(meetingID, "/") {
		http.Error(w, "missing meeting id", http.StatusBadRequest)
		return
	}
	analysis, err := h.service.ClassAnalysis(meetingID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			http.Error(w, "meeting not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("meeting", meetingID).Msg("snapshot failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
