// internal/infra/github/commits.go

// Package github resolves branch heads through the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultBaseURL = "https://api.github.com"

type Client struct {
	baseURL string
	repo    string
	token   string
	client  *http.Client
	tracer  trace.Tracer
}

// NewClient returns a client for repo ("owner/name"). token may be empty for
// public repositories.
func NewClient(baseURL, repo, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		repo:    repo,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		tracer:  otel.Tracer("release-orchestrator-github"),
	}
}

type branchResponse struct {
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// LatestCommit returns the head commit sha of branch.
func (c *Client) LatestCommit(ctx context.Context, branch string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "github.LatestCommit", trace.WithAttributes(
		attribute.String("repo", c.repo),
		attribute.String("branch", branch),
	))
	defer span.End()

	endpoint := fmt.Sprintf("%s/repos/%s/branches/%s", c.baseURL, c.repo, url.PathEscape(branch))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "github request failed")
		return "", fmt.Errorf("failed to get branch %s of %s: %w", branch, c.repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("github returned status %d for branch %s of %s: %s", resp.StatusCode, branch, c.repo, strings.TrimSpace(string(body)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected github status")
		return "", err
	}

	var out branchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode branch %s of %s: %w", branch, c.repo, err)
	}
	if out.Commit.SHA == "" {
		return "", fmt.Errorf("branch %s of %s has no commit", branch, c.repo)
	}
	return out.Commit.SHA, nil
}
