package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
	"github.com/akinalp/convo/services"
)

// ReactionHandler serves reaction toggles.
type ReactionHandler struct {
	reactionService services.ReactionService
}

func NewReactionHandler(reactionService services.ReactionService) *ReactionHandler {
	return &ReactionHandler{reactionService: reactionService}
}

// Toggle godoc
// POST /api/messages/{messageId}/reactions
// Body: { "type": "like" }
//
// Sending the same type again removes it.
func (h *ReactionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageId")
	if !ok {
		return
	}

	var req models.ToggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.reactionService.Toggle(r.Context(), user.ID, messageID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, result)
}
