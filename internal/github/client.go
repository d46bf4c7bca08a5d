// Package github is a minimal client for the GitHub REST API, covering the
// single call the sync workflow needs: fetch metadata for a named repository.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 10 * time.Second
)

var (
	ErrNotFound    = errors.New("repository not found")
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("github unavailable")
)

// Repository is the subset of GitHub repository metadata the service caches.
type Repository struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	HTMLURL     string    `json:"html_url"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	OpenIssues  int       `json:"open_issues_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Client struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group
}

type Options struct {
	BaseURL string
	Timeout time.Duration
}

func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchRepository fetches metadata for "owner/repo". Concurrent calls for the
// same repository are collapsed into a single request, which carries the first
// caller's token. The shared request runs detached from any one caller's
// context, bounded by the HTTP client timeout, so a canceled caller cannot
// fail the flight for the others; each caller still returns as soon as its own
// context is done.
func (c *Client) FetchRepository(ctx context.Context, fullName, token string) (*Repository, error) {
	ch := c.group.DoChan(fullName, func() (any, error) {
		return c.fetchRepository(context.WithoutCancel(ctx), fullName, token)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Repository), nil
	}
}

func (c *Client) fetchRepository(ctx context.Context, fullName, token string) (*Repository, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/repos/"+fullName, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("github: unexpected status %d: %s", resp.StatusCode, body)
	}

	var repo Repository
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return nil, fmt.Errorf("decode repository: %w", err)
	}
	return &repo, nil
}
