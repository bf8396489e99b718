// Package apiclient talks to the courier REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
	"github.com/Avicted/courier/internal/wire"
)

var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server: %s", e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type Client struct {
	serverURL  string
	httpClient *http.Client
	token      string
}

func New(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithToken returns a copy of c that authenticates as the given session.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) ServerURL() string {
	return c.serverURL
}

type AuthResponse struct {
	Token     string  `json:"token"`
	UserID    user.ID `json:"user_id"`
	Email     string  `json:"email"`
	Fullname  string  `json:"fullname"`
	ExpiresAt string  `json:"expires_at"`
}

// CurrentUserID makes an AuthResponse usable as the inbox identity.
func (a AuthResponse) CurrentUserID() user.ID {
	return a.UserID
}

type apiError struct {
	Error string `json:"error"`
}

type User struct {
	ID              user.ID `json:"id"`
	Fullname        string  `json:"fullname"`
	Email           string  `json:"email"`
	ProfileImageURL string  `json:"profile_image_url,omitempty"`
	Online          bool    `json:"online"`
}

func (c *Client) Register(ctx context.Context, fullname, email, password string) (*AuthResponse, error) {
	payload := map[string]string{"fullname": fullname, "email": email, "password": password}
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// RequestPasswordReset asks the server to send a reset code to email.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/password-reset", map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, code, password string) error {
	payload := map[string]string{"code": code, "password": password}
	return c.doJSON(ctx, http.MethodPost, "/auth/password-reset/confirm", payload, nil)
}

// ListUsers fetches the new-conversation directory.
func (c *Client) ListUsers(ctx context.Context, limit int) ([]User, error) {
	path := "/users"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) UpdateProfileImage(ctx context.Context, imageURL string) error {
	return c.doJSON(ctx, http.MethodPost, "/users/profile-image", map[string]string{"image_url": imageURL}, nil)
}

// ListConversation returns the newest messages with partner, oldest first.
func (c *Client) ListConversation(ctx context.Context, partner user.ID, limit int) ([]message.Message, error) {
	q := url.Values{}
	q.Set("partner_id", string(partner))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Messages []wire.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations/messages?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]message.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, m.ToMessage())
	}
	return out, nil
}

// DeleteConversation removes the caller's copy of the conversation with
// counterpart. It satisfies inbox.Deleter.
func (c *Client) DeleteConversation(ctx context.Context, counterpart user.ID) error {
	q := url.Values{}
	q.Set("partner_id", string(counterpart))
	return c.doJSON(ctx, http.MethodDelete, "/conversations?"+q.Encode(), nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
