package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/securenotes/internal/adapter"
	"github.com/jun/securenotes/internal/model"
)

// SyncHandler serves the push, pull and full-listing endpoints. It stores
// ciphertext only and never interprets note content.
type SyncHandler struct {
	notes     adapter.NoteStore
	jwtSecret string
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(notes adapter.NoteStore, jwtSecret string) *SyncHandler {
	return &SyncHandler{notes: notes, jwtSecret: jwtSecret}
}

// Push applies one note write. A client that is behind gets the stored
// record back with conflict set instead of an error status.
func (h *SyncHandler) Push(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	var input model.PushRequest
	if err := json.Unmarshal([]byte(req.Body), &input); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	note, conflict, err := h.notes.PushNote(ctx, userID, input)
	switch {
	case errors.Is(err, adapter.ErrInvalidNote):
		return textResponse(http.StatusBadRequest, err.Error()), nil
	case errors.Is(err, adapter.ErrConflict):
		// Lost every conditional-write attempt; the client retries later.
		slog.WarnContext(ctx, "push contention", "user", userID, "note", input.ID)
		return textResponse(http.StatusServiceUnavailable, "Note is being written concurrently"), nil
	case err != nil:
		slog.ErrorContext(ctx, "push failed", "user", userID, "note", input.ID, "err", err)
		return textResponse(http.StatusInternalServerError, "Failed to push note"), nil
	}

	if conflict {
		slog.InfoContext(ctx, "push conflict", "user", userID, "note", input.ID,
			"client_version", input.SyncVersion, "stored_version", note.SyncVersion)
	}

	return jsonResponse(http.StatusOK, model.PushResponse{
		Success:  true,
		Note:     *note,
		Conflict: conflict,
	})
}

// Pull returns every note changed after the "since" cursor. A missing or
// unparsable cursor means a full pull.
func (h *SyncHandler) Pull(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	since, err := strconv.ParseInt(req.QueryStringParameters["since"], 10, 64)
	if err != nil || since < 0 {
		since = 0
	}

	notes, latest, err := h.notes.PullNotes(ctx, userID, since)
	if err != nil {
		slog.ErrorContext(ctx, "pull failed", "user", userID, "since", since, "err", err)
		return textResponse(http.StatusInternalServerError, "Failed to pull notes"), nil
	}
	if notes == nil {
		notes = []model.ServerNote{}
	}

	return jsonResponse(http.StatusOK, model.PullResponse{Notes: notes, LatestVersion: latest})
}

// Notes returns all of the user's notes for initial hydration.
func (h *SyncHandler) Notes(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	notes, err := h.notes.ListNotes(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "list notes failed", "user", userID, "err", err)
		return textResponse(http.StatusInternalServerError, "Failed to list notes"), nil
	}
	if notes == nil {
		notes = []model.ServerNote{}
	}

	return jsonResponse(http.StatusOK, notes)
}
