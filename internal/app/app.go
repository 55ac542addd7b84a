package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/securenotes/internal/adapter"
	"github.com/jun/securenotes/internal/adapter/dynamo"
	"github.com/jun/securenotes/internal/adapter/memory"
	"github.com/jun/securenotes/internal/auth"
	"github.com/jun/securenotes/internal/handler"
	"github.com/jun/securenotes/internal/secret"
)

// Config is the server configuration, normally read from the environment.
type Config struct {
	DevMode          bool
	NotesTable       string
	UsersTable       string
	JWTSecret        string
	APIGatewaySecret string
	FrontendURL      string
}

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler      *handler.AuthHandler
	syncHandler      *handler.SyncHandler
	apiGatewaySecret string
	frontendURL      string
	devMode          bool
}

// New wires the handlers around an already constructed note store and
// auth service.
func New(cfg Config, notes adapter.NoteStore, authService *auth.AuthService) *App {
	frontendURL := cfg.FrontendURL
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}
	return &App{
		authHandler:      handler.NewAuthHandler(authService, cfg.DevMode),
		syncHandler:      handler.NewSyncHandler(notes, cfg.JWTSecret),
		apiGatewaySecret: cfg.APIGatewaySecret,
		frontendURL:      frontendURL,
		devMode:          cfg.DevMode,
	}
}

// NewApp initializes the application from the environment. In DEV_MODE
// notes and users live in memory and secrets come from env vars; otherwise
// both tables are in DynamoDB and secrets in SSM Parameter Store.
func NewApp(ctx context.Context) (*App, error) {
	cfg := Config{
		DevMode:     os.Getenv("DEV_MODE") == "true",
		NotesTable:  envOr("NOTES_TABLE", "SecureNotes"),
		UsersTable:  envOr("USERS_TABLE", "SecureNotesUsers"),
		FrontendURL: os.Getenv("FRONTEND_URL"),
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	var resolver secret.Resolver
	if cfg.DevMode {
		resolver = secret.NewEnvResolver()
		slog.Info("using EnvResolver", "dev_mode", true)
	} else {
		resolver = secret.NewCachingResolver(secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)))
	}

	cfg.JWTSecret, err = resolver.GetSecret(ctx, envOr("JWT_SECRET_PARAM", secret.JWTSecretParam))
	if err != nil {
		if !cfg.DevMode {
			return nil, fmt.Errorf("resolve JWT secret: %w", err)
		}
		slog.Warn("JWT secret not set, using development default", "err", err)
		cfg.JWTSecret = "default-dev-secret"
	}

	cfg.APIGatewaySecret, err = resolver.GetSecret(ctx, envOr("API_GATEWAY_SECRET_PARAM", secret.APIGatewaySecretParam))
	if err != nil && !cfg.DevMode {
		return nil, fmt.Errorf("resolve API gateway secret: %w", err)
	}

	if cfg.DevMode {
		slog.Info("using in-memory note and user storage", "dev_mode", true)
		return New(cfg, memory.NewNoteStore(), auth.NewAuthService(nil, "", cfg.JWTSecret)), nil
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	notes := dynamo.NewNoteStore(dynamoClient, cfg.NotesTable)
	authService := auth.NewAuthService(dynamoClient, cfg.UsersTable, cfg.JWTSecret)
	return New(cfg, notes, authService), nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	slog.DebugContext(ctx, "request", "method", method, "path", req.Path)

	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Requests must come through CloudFront, which adds the shared header.
	if !app.devMode {
		if req.Headers["X-Origin-Verify"] != app.apiGatewaySecret && req.Headers["x-origin-verify"] != app.apiGatewaySecret {
			slog.WarnContext(ctx, "blocked request without valid X-Origin-Verify header", "path", req.Path)
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}, nil
		}
	}

	// CloudFront forwards /api/*; the local server may not.
	path := strings.TrimPrefix(req.Path, "/api")

	switch {
	case path == "/sync/push" && method == http.MethodPost:
		return app.corsResponse(must(app.syncHandler.Push(ctx, req))), nil
	case path == "/sync/pull" && method == http.MethodGet:
		return app.corsResponse(must(app.syncHandler.Pull(ctx, req))), nil
	case path == "/sync/notes" && method == http.MethodGet:
		return app.corsResponse(must(app.syncHandler.Notes(ctx, req))), nil
	case path == "/auth/register" && method == http.MethodPost:
		return app.corsResponse(must(app.authHandler.Register(ctx, req))), nil
	case path == "/auth/login" && method == http.MethodPost:
		return app.corsResponse(must(app.authHandler.Login(ctx, req))), nil
	case path == "/auth/logout" && method == http.MethodPost:
		return app.corsResponse(must(app.authHandler.Logout(ctx, req))), nil
	}

	return app.corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, req.Path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, converting a returned error into a 500.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		slog.Error("handler error", "err", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
