// Package api talks to the credential and room directory services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/domain"
)

const (
	tokenPath = "api/video/token"
	roomsPath = "api/video/rooms"
	roomPath  = "api/video/room/"
)

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: status %d", e.Path, e.Status)
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.Path, e.Status, e.Body)
}

type Client struct {
	base   *url.URL
	http   *http.Client
	logger zerolog.Logger
	cookie string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClientToken sends the relay identity cookie so both services see the same client.
func WithClientToken(token string) Option {
	return func(c *Client) { c.cookie = token }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: log.With().Str("module", "adapters.api").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token fetches a short-lived media-network credential.
func (c *Client) Token(ctx context.Context) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.get(ctx, tokenPath, &body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", fmt.Errorf("GET %s: empty token", tokenPath)
	}
	return body.Token, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	var rooms []domain.RoomSummary
	if err := c.get(ctx, roomsPath, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GetRoom returns the rooms matching sid. A missing room is an empty list, not an error.
func (c *Client) GetRoom(ctx context.Context, sid domain.RoomSID) ([]domain.RoomSummary, error) {
	var rooms []domain.RoomSummary
	err := c.get(ctx, roomPath+url.PathEscape(string(sid)), &rooms)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.ResolveReference(ref).String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: "ct", Value: c.cookie})
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
