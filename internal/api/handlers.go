// Package api provides HTTP handlers for DietPipe endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/onboarding"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// contactUserID resolves the user ID from the request's contact query
// parameter, writing the error response itself when the parameter is bad.
func (s *Server) contactUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	contact := r.URL.Query().Get("contact")
	if contact == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Missing required query parameter: contact")
		return "", false
	}
	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(contact)
	if err != nil {
		slog.Warn("Server.contactUserID: recipient validation failed", "error", err)
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return onboarding.UserID(canonical), true
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.contactUserID(w, r)
	if !ok {
		return
	}
	profile, err := s.st.GetProfile(userID)
	if err != nil {
		slog.Error("Server.profileHandler: profile load failed", "error", err, "userID", userID)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	if profile == nil {
		writeErrorResponse(w, http.StatusNotFound, "Profile not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.contactUserID(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}
	msgs, err := s.st.GetMessages(userID, limit)
	if err != nil {
		slog.Error("Server.messagesHandler: message load failed", "error", err, "userID", userID)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

// sendRequest is the body for manual outbound sends.
type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.Body == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Missing required field: body")
		return
	}
	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.msgService.SendMessage(context.Background(), canonicalTo, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to send message")
		return
	}
	slog.Info("Server.sendHandler: message sent successfully", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}
