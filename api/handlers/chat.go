package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shaj13/go-guardian/auth"
	"go.uber.org/zap"

	"github.com/caresync/consult-chat-api/api"
	"github.com/caresync/consult-chat-api/config"
	"github.com/caresync/consult-chat-api/models"
)

// Chat exported for testing purposes
type Chat struct {
	Rooms  *RoomService
	Hub    *Hub
	Files  FileStore
	Mailer Mailer
}

type endChatRequest struct {
	AppointmentID string `json:"appointmentId"`
}

type deleteChatRequest struct {
	AppointmentID string `json:"appointmentId"`
}

// identity pulls the resolved identity out of the request context. The
// guard middleware always runs first on these routes, so a miss is a
// wiring bug rather than a user error.
func identity(w http.ResponseWriter, r *http.Request) (auth.Info, bool) {
	info, ok := api.IdentityFromContext(r.Context())
	if !ok {
		config.ErrorStatus("missing identity", http.StatusUnauthorized, w, errors.New("credential was not resolved"))
		return nil, false
	}
	return info, true
}

// roomErrorStatus maps a room service failure onto the HTTP error taxonomy.
func roomErrorStatus(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		config.ErrorStatus("appointment not found", http.StatusNotFound, w, err)
	case errors.Is(err, ErrNotAParty):
		config.ErrorStatus("unauthorized access", http.StatusUnauthorized, w, err)
	case errors.Is(err, ErrChatClosed):
		config.ErrorStatus("chat closed permanently", http.StatusForbidden, w, err)
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		config.ErrorStatus("invalid message", http.StatusBadRequest, w, err)
	case errors.Is(err, ErrNotClosed):
		config.ErrorStatus("only closed chats can be deleted", http.StatusConflict, w, err)
	default:
		config.ErrorStatus("storage failure, retry the request", http.StatusInternalServerError, w, err)
	}
}

// ChatMessagesHandler returns the full ordered backlog for a room together
// with its closed flag
func (c Chat) ChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	appointmentID := mux.Vars(r)["appointment_id"]
	info, ok := identity(w, r)
	if !ok {
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	appt, err := c.Rooms.GuardedRoom(ctx, appointmentID, info.ID())
	if err != nil {
		roomErrorStatus(w, err)
		return
	}

	messages, err := c.Rooms.History(ctx, appointmentID)
	if err != nil {
		roomErrorStatus(w, err)
		return
	}

	b, err := json.Marshal(models.ChatHistoryResponse{Messages: messages, ChatClosed: appt.ChatClosed()})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// EndChatHandler closes the consultation chat. Clinician party only,
// idempotent once closed. Live subscribers are notified through the gateway
// even when the clinician is not connected to it.
func (c Chat) EndChatHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := identity(w, r)
	if !ok {
		return
	}
	if api.Role(info) != api.RoleClinician {
		config.ErrorStatus("unauthorized access", http.StatusUnauthorized, w, errors.New("only the clinician can end a consultation"))
		return
	}

	var req endChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AppointmentID == "" {
		config.ErrorStatus("invalid request", http.StatusBadRequest, w, errors.New("appointmentId is required"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	appt, transitioned, err := c.Hub.Close(ctx, req.AppointmentID, info.ID())
	if err != nil {
		roomErrorStatus(w, err)
		return
	}

	if transitioned && c.Mailer != nil && appt.PatientData.Email != "" {
		// best effort, never blocks or fails the close
		go func(appt models.Appointment, id string) {
			if err := c.Mailer.SendChatClosed(appt.PatientData.Name, appt.PatientData.Email, id); err != nil {
				zap.S().Errorw("failed to send closure email", "appointment", id, "error", err)
			}
		}(*appt, req.AppointmentID)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "chat closed successfully",
	})
}

// DeleteChatHandler removes a closed consultation chat: all of its messages
// first, then the appointment record. Patient party only.
func (c Chat) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := identity(w, r)
	if !ok {
		return
	}
	if api.Role(info) != api.RolePatient {
		config.ErrorStatus("unauthorized access", http.StatusUnauthorized, w, errors.New("only the patient can delete a consultation"))
		return
	}

	var req deleteChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AppointmentID == "" {
		config.ErrorStatus("invalid request", http.StatusBadRequest, w, errors.New("appointmentId is required"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if err := c.Rooms.Delete(ctx, req.AppointmentID, info.ID()); err != nil {
		roomErrorStatus(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "chat deleted successfully",
	})
}
