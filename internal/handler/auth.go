package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/securenotes/internal/auth"
	"github.com/jun/securenotes/internal/model"
)

// AuthHandler handles account registration and login.
type AuthHandler struct {
	authService *auth.AuthService
	devMode     bool
}

// NewAuthHandler creates a new AuthHandler. devMode relaxes the session
// cookie for plain-HTTP local servers.
func NewAuthHandler(s *auth.AuthService, devMode bool) *AuthHandler {
	return &AuthHandler{authService: s, devMode: devMode}
}

// Register creates an account and returns its first session token.
func (h *AuthHandler) Register(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var creds model.Credentials
	if err := json.Unmarshal([]byte(req.Body), &creds); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	resp, err := h.authService.Register(ctx, creds.Email, creds.Password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		return textResponse(http.StatusConflict, "Email already registered"), nil
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidCredentials):
		return textResponse(http.StatusBadRequest, err.Error()), nil
	case err != nil:
		slog.ErrorContext(ctx, "register failed", "err", err)
		return textResponse(http.StatusInternalServerError, "Failed to register"), nil
	}

	return h.session(http.StatusCreated, resp)
}

// Login verifies credentials and returns a fresh session token.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var creds model.Credentials
	if err := json.Unmarshal([]byte(req.Body), &creds); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	resp, err := h.authService.Login(ctx, creds.Email, creds.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return textResponse(http.StatusUnauthorized, "Invalid email or password"), nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "login failed", "err", err)
		return textResponse(http.StatusInternalServerError, "Failed to login"), nil
	}

	return h.session(http.StatusOK, resp)
}

// Logout clears the session cookie. Bearer tokens simply expire.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp, err := jsonResponse(http.StatusOK, map[string]bool{"success": true})
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {h.cookie("", 0)},
	}
	return resp, err
}

func (h *AuthHandler) session(status int, ar *model.AuthResponse) (events.APIGatewayProxyResponse, error) {
	resp, err := jsonResponse(status, ar)
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {h.cookie(ar.Token, int(auth.TokenTTL.Seconds()))},
	}
	return resp, err
}

func (h *AuthHandler) cookie(token string, maxAge int) string {
	sameSite := "None"
	if h.devMode {
		sameSite = "Lax"
	}
	return fmt.Sprintf("session_token=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=%s; Secure", token, maxAge, sameSite)
}
