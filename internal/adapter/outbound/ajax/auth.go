package ajax

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
	"github.com/virapa/AjaxSecurFlow/internal/domain/session"
)

type loginRequest struct {
	Login        string `json:"login"`
	PasswordHash string `json:"passwordHash"`
	UserRole     string `json:"userRole"`
}

type refreshRequest struct {
	UserID       string `json:"userId"`
	RefreshToken string `json:"refreshToken"`
}

type grantResponse struct {
	SessionToken string          `json:"sessionToken"`
	UserID       string          `json:"userId"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresIn    json.RawMessage `json:"expires_in"`
}

// Login exchanges credentials for an upstream session.
func (c *Client) Login(ctx context.Context, login, passwordHash string) (*session.Grant, error) {
	return c.exchange(ctx, "/login", loginRequest{Login: login, PasswordHash: passwordHash, UserRole: "USER"})
}

// Refresh exchanges a refresh token for a new upstream session.
func (c *Client) Refresh(ctx context.Context, userID, refreshToken string) (*session.Grant, error) {
	return c.exchange(ctx, "/refresh", refreshRequest{UserID: userID, RefreshToken: refreshToken})
}

func (c *Client) exchange(ctx context.Context, path string, body any) (*session.Grant, error) {
	resp, err := c.Do(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		c.logger.Debug("upstream credential exchange rejected", "path", path, "status", resp.Status, "body", string(resp.Body))
		return nil, &fault.UpstreamError{Status: resp.Status}
	}

	var g grantResponse
	if err := json.Unmarshal(resp.Body, &g); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return &session.Grant{
		SessionToken: g.SessionToken,
		RefreshToken: g.RefreshToken,
		UserID:       g.UserID,
		ExpiresIn:    parseSeconds(g.ExpiresIn),
	}, nil
}

// parseSeconds accepts expires_in as a JSON number or numeric string.
// Anything else is zero.
func parseSeconds(raw json.RawMessage) time.Duration {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0
		}
		if n, err = strconv.ParseFloat(s, 64); err != nil {
			return 0
		}
	}
	if n <= 0 {
		return 0
	}
	return time.Duration(n * float64(time.Second))
}

var _ session.Authenticator = (*Client)(nil)
