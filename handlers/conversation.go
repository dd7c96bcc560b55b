package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
	"github.com/akinalp/convo/services"
)

// ConversationHandler serves conversation and roster endpoints.
type ConversationHandler struct {
	convService services.ConversationService
}

func NewConversationHandler(convService services.ConversationService) *ConversationHandler {
	return &ConversationHandler{convService: convService}
}

// List godoc
// GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	convs, err := h.convService.List(r.Context(), user.ID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, convs)
}

// Create godoc
// POST /api/conversations
// Body: { "userId": 2 }
//
// 201 for a new conversation, 200 when one with that user already exists.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, created, err := h.convService.Create(r.Context(), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	pkg.JSON(w, status, summary)
}

// Get godoc
// GET /api/conversations/{id}
//
// Returns the authoritative room state (participants and recent messages
// with reactions) that clients re-fetch after reconnecting.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	room, err := h.convService.Get(r.Context(), user.ID, id)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, room)
}

// Delete godoc
// DELETE /api/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.convService.Delete(r.Context(), user.ID, id); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "conversation deleted"})
}

// AvailableUsers godoc
// GET /api/conversations/{id}/available-users
func (h *ConversationHandler) AvailableUsers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	users, err := h.convService.AvailableUsers(r.Context(), user.ID, id)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, users)
}

// AddParticipant godoc
// POST /api/conversations/{id}/participants
// Body: { "userId": 3 }
func (h *ConversationHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req models.AddParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participants, err := h.convService.AddParticipant(r.Context(), user.ID, id, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, participants)
}

// Leave godoc
// DELETE /api/conversations/{id}/participants/me
func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.convService.Leave(r.Context(), user.ID, id); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "left conversation"})
}
