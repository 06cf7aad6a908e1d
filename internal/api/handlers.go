package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/messaging"
	"github.com/BTreeMap/PizzaPipe/internal/models"
)

// pathPhone canonicalises the {phone} path parameter, writing a 400 on failure.
func pathPhone(w http.ResponseWriter, r *http.Request) (string, bool) {
	phone, err := models.CanonicalPhone(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return "", false
	}
	return phone, true
}

// listUsersHandler handles GET /users.
func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.st.ListUsers(r.Context())
	if err != nil {
		slog.Error("Server.listUsersHandler: failed to list users", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch users"))
		return
	}
	slog.Debug("Server.listUsersHandler: users fetched", "count", len(users))
	writeJSONResponse(w, http.StatusOK, models.Success(users))
}

// getUserHandler handles GET /users/{phone}.
func (s *Server) getUserHandler(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	user, err := s.st.GetUser(r.Context(), phone)
	if errors.Is(err, models.ErrUserNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error(fmt.Sprintf("Could not find a user with whatsapp %s", phone)))
		return
	}
	if err != nil {
		slog.Error("Server.getUserHandler: failed to fetch user", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch user"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(user))
}

// deleteUserHandler handles DELETE /users/{phone}. Open dialogue sessions of
// the number are discarded too, so the next message starts a fresh sign-up.
func (s *Server) deleteUserHandler(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	err := s.st.DeleteUser(r.Context(), phone)
	if errors.Is(err, models.ErrUserNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error(fmt.Sprintf("Could not find a user with whatsapp %s", phone)))
		return
	}
	if err != nil {
		slog.Error("Server.deleteUserHandler: failed to delete user", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete user"))
		return
	}
	if err := s.manager.ResetSession(r.Context(), phone); err != nil {
		slog.Warn("Server.deleteUserHandler: failed to reset sessions", "phone", phone, "error", err)
	}
	slog.Info("Server.deleteUserHandler: user deleted", "phone", phone)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(fmt.Sprintf("User with whatsapp %s deleted", phone), nil))
}

// listConversationsHandler handles GET /conversations.
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	phones, err := s.st.ListConversationPhones(r.Context())
	if err != nil {
		slog.Error("Server.listConversationsHandler: failed to list conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(phones))
}

// getConversationHandler handles GET /conversations/{phone}.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	msgs, err := s.st.GetConversation(r.Context(), phone)
	if err != nil {
		slog.Error("Server.getConversationHandler: failed to fetch conversation", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if len(msgs) == 0 {
		writeJSONResponse(w, http.StatusNotFound, models.Error(fmt.Sprintf("Could not find conversations for the user with whatsapp %s", phone)))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

// postConversationMessageHandler handles POST /conversations/{phone}/messages:
// an operator message is appended to the conversation and, when a transport
// is configured, sent to the customer.
func (s *Server) postConversationMessageHandler(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if _, err := s.st.GetUser(r.Context(), phone); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error(fmt.Sprintf("Could not find a user with whatsapp %s", phone)))
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch user"))
		return
	}

	delivered := false
	if s.msgService != nil {
		if err := s.msgService.SendMessage(r.Context(), phone, req.Body); err != nil {
			slog.Error("Server.postConversationMessageHandler: failed to send message", "phone", phone, "error", err)
			writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send message"))
			return
		}
		delivered = true
	}
	messaging.RecordMessage(r.Context(), s.st, phone, models.RoleAssistant, req.Body)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage(
		fmt.Sprintf("New message pushed for user with whatsapp %s", phone),
		map[string]bool{"delivered": delivered},
	))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"open_orders": s.orders.Len(),
		"assistant":   s.assistant != nil,
		"transport":   s.msgService != nil,
	}

	if _, err := s.st.UserExists(r.Context(), "+0000000000"); err != nil {
		slog.Warn("Server.healthHandler: store check failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Store unavailable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
