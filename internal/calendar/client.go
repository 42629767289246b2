package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const revokeEndpoint = "https://oauth2.googleapis.com/revoke"

// scopes include event modification so the write path can insert into the
// private calendar.
var scopes = []string{
	calendar.CalendarScope,
	calendar.CalendarEventsScope,
}

// AuthError indicates that valid credentials could not be obtained without
// interactive re-authorization.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("calendar auth: %s", e.Op)
	}
	return fmt.Sprintf("calendar auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Client handles Google Calendar OAuth2 credential acquisition, refresh and
// persistence. It never runs the interactive consent flow itself; when one
// would be required it fails with *AuthError so the operator can run the
// bundled authorize helper.
type Client struct {
	conf      *oauth2.Config
	tokenPath string
	log       *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient reads the OAuth2 client secrets file and prepares a credential
// manager persisting tokens at tokenPath.
func NewClient(credentialsFile, tokenPath string, log *zap.Logger) (*Client, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, &AuthError{Op: "read client secrets", Err: err}
	}

	conf, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, &AuthError{Op: "parse client secrets", Err: err}
	}

	return &Client{
		conf:      conf,
		tokenPath: tokenPath,
		log:       log,
	}, nil
}

// Credentials returns a token source backed by a currently valid token,
// refreshing and persisting it first when necessary.
func (c *Client) Credentials(ctx context.Context) (oauth2.TokenSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		tok, err := c.loadToken()
		if err != nil {
			return nil, &AuthError{Op: "load saved token", Err: err}
		}
		c.token = tok
	}

	if !c.token.Valid() {
		if c.token.RefreshToken == "" {
			return nil, &AuthError{Op: "token expired and no refresh token"}
		}

		fresh, err := c.conf.TokenSource(ctx, c.token).Token()
		if err != nil {
			return nil, &AuthError{Op: "refresh token", Err: err}
		}
		c.token = fresh

		// Persist immediately so a restart does not force re-authorization.
		if err := c.saveToken(fresh); err != nil {
			c.log.Warn("failed to persist refreshed token", zap.Error(err))
		}
	}

	return c.conf.TokenSource(ctx, c.token), nil
}

// Valid reports whether usable credentials are currently available.
func (c *Client) Valid(ctx context.Context) bool {
	_, err := c.Credentials(ctx)
	return err == nil
}

// Service builds a Calendar API service from the current credentials.
func (c *Client) Service(ctx context.Context) (*calendar.Service, error) {
	ts, err := c.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, &AuthError{Op: "build calendar service", Err: err}
	}
	return svc, nil
}

// SetToken installs a token obtained externally (e.g. by the authorize helper
// running the consent flow) and persists it.
func (c *Client) SetToken(tok *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = tok
	return c.saveToken(tok)
}

// Revoke invalidates the token with Google (best effort, logged but not
// surfaced) and deletes the persisted token file.
func (c *Client) Revoke(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && c.token.AccessToken != "" {
		if err := revokeToken(ctx, c.token.AccessToken); err != nil {
			c.log.Warn("failed to revoke token with Google", zap.Error(err))
		}
	}
	c.token = nil

	if err := os.Remove(c.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete token file: %w", err)
	}

	c.log.Info("credentials revoked", zap.String("token_path", c.tokenPath))
	return nil
}

func (c *Client) loadToken() (*oauth2.Token, error) {
	b, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return &tok, nil
}

func (c *Client) saveToken(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(c.tokenPath), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	if err := os.WriteFile(c.tokenPath, b, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func revokeToken(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
