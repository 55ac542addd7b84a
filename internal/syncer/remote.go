package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/jun/securenotes/internal/model"
)

// DefaultRequestTimeout bounds every call to the sync server.
const DefaultRequestTimeout = 30 * time.Second

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 32 << 20

// Remote is the Remote Sync Endpoint as seen by the client.
type Remote interface {
	Push(ctx context.Context, req model.PushRequest) (*model.PushResponse, error)
	Pull(ctx context.Context, since int64) (*model.PullResponse, error)
	Notes(ctx context.Context) ([]model.ServerNote, error)
}

// HTTPRemote talks to the sync server over HTTP with a bearer credential.
type HTTPRemote struct {
	baseURL string
	client  *http.Client // authenticated
	plain   *http.Client // register/login
}

// NewHTTPRemote returns a Remote for baseURL. Every sync request carries the
// token from tokens; a missing token surfaces as an *AuthError.
func NewHTTPRemote(baseURL string, tokens oauth2.TokenSource, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No ReuseTokenSource: a logout or re-login takes effect on the next request.
		client: &http.Client{Timeout: timeout, Transport: &oauth2.Transport{Source: tokens}},
		plain:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRemote) Push(ctx context.Context, req model.PushRequest) (*model.PushResponse, error) {
	var resp model.PushResponse
	if err := r.do(ctx, r.client, http.MethodPost, "/api/sync/push", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Note.ID != req.ID {
		return nil, &ServerError{StatusCode: http.StatusOK, Body: "unexpected push response"}
	}
	return &resp, nil
}

func (r *HTTPRemote) Pull(ctx context.Context, since int64) (*model.PullResponse, error) {
	var resp model.PullResponse
	path := "/api/sync/pull?" + url.Values{"since": {strconv.FormatInt(since, 10)}}.Encode()
	if err := r.do(ctx, r.client, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) Notes(ctx context.Context) ([]model.ServerNote, error) {
	var notes []model.ServerNote
	if err := r.do(ctx, r.client, http.MethodGet, "/api/sync/notes", nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Authenticate logs in (or registers) and returns the session token.
func (r *HTTPRemote) Authenticate(ctx context.Context, creds model.Credentials, register bool) (*model.AuthResponse, error) {
	path := "/api/auth/login"
	if register {
		path = "/api/auth/register"
	}
	var resp model.AuthResponse
	if err := r.do(ctx, r.plain, http.MethodPost, path, creds, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &ServerError{StatusCode: http.StatusOK, Body: "no token in response"}
	}
	return &resp, nil
}

func (r *HTTPRemote) do(ctx context.Context, client *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return &AuthError{Err: ErrNoCredential}
		}
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &NetworkError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Err: fmt.Errorf("%d %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &ServerError{StatusCode: resp.StatusCode, Body: "malformed response: " + err.Error()}
	}
	return nil
}

// TokenKey is the metadata key under which the session token is stored.
const TokenKey = "auth_token"

// MetaReader is the read side of the store's key/value metadata.
type MetaReader interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
}

// StoredTokenSource serves the session token saved in the local store.
// It is read on every call so a fresh login is picked up without restart.
type StoredTokenSource struct {
	meta MetaReader
}

func NewStoredTokenSource(meta MetaReader) *StoredTokenSource {
	return &StoredTokenSource{meta: meta}
}

// Token implements oauth2.TokenSource. Expiry is copied from the JWT's exp
// claim for display only: oauth2.Transport sends the token regardless, and
// the server's 401 for an expired session surfaces as an *AuthError.
func (s *StoredTokenSource) Token() (*oauth2.Token, error) {
	raw, ok, err := s.meta.GetMeta(context.Background(), TokenKey)
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	if !ok || raw == "" {
		return nil, ErrNoCredential
	}

	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			tok.Expiry = exp.Time
		}
	}
	return tok, nil
}
