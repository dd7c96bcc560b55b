package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
	"github.com/akinalp/convo/pkg/ratelimit"
	"github.com/akinalp/convo/services"
)

// maxMessageBody bounds the request body; image messages carry a data URL.
const maxMessageBody = models.MaxImageBytes + 64<<10

// MessageHandler serves message sends.
type MessageHandler struct {
	messageService services.MessageService
	limiter        *ratelimit.MessageRateLimiter
}

// NewMessageHandler builds the handler. A nil limiter disables send throttling.
func NewMessageHandler(messageService services.MessageService, limiter *ratelimit.MessageRateLimiter) *MessageHandler {
	return &MessageHandler{messageService: messageService, limiter: limiter}
}

// Create godoc
// POST /api/messages
// Body: { "conversationId": 1, "content": "hi", "type": "text" }
//
// The response is the persisted message, identical to the new-message
// payload other participants receive.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if h.limiter != nil {
		if allowed, retryAfter := h.limiter.Allow(user.ID); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			pkg.ErrorWithMessage(w, http.StatusTooManyRequests, "you are sending messages too fast")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBody)
	var req models.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messageService.Send(r.Context(), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, msg)
}
