package firmware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Source fetches firmware bytes by path. Implementations must not cache.
type Source interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Driver identifiers for asset sources.
const (
	SourceGitHub = "github"
	SourceDir    = "dir"
)

const maxFirmwareSize = 32 << 20

// GitHubConfig addresses a private repository through the contents API.
type GitHubConfig struct {
	Repo    string // owner/name
	Token   string
	Ref     string
	BaseURL string
	Timeout time.Duration
}

// GitHubSource downloads raw file contents from a private repository.
type GitHubSource struct {
	client *resty.Client
	repo   string
	ref    string
}

func NewGitHubSource(cfg GitHubConfig) (*GitHubSource, error) {
	if cfg.Repo == "" || !strings.Contains(cfg.Repo, "/") {
		return nil, fmt.Errorf("github repository must be owner/name, got %q", cfg.Repo)
	}
	if cfg.Token == "" {
		return nil, errors.New("github token required for private firmware repository")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetAuthToken(cfg.Token).
		SetTimeout(timeout).
		SetHeader("Accept", "application/vnd.github.v3.raw").
		SetHeader("User-Agent", "minizflash-gate").
		SetHeader("Cache-Control", "no-cache")

	return &GitHubSource{client: client, repo: cfg.Repo, ref: cfg.Ref}, nil
}

func (g *GitHubSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	req := g.client.R().SetContext(ctx)
	if g.ref != "" {
		req.SetQueryParam("ref", g.ref)
	}

	// contents paths keep their slashes, so they are not passed as path params
	resp, err := req.Get("/repos/" + g.repo + "/contents/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("github fetch %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("github fetch %s: status %d", path, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) > maxFirmwareSize {
		return nil, fmt.Errorf("github fetch %s: %d bytes exceeds limit", path, len(body))
	}
	return body, nil
}

// DirSource serves firmware from a local directory, e.g. a mirror of the
// private repository on an air-gapped host.
type DirSource struct {
	root string
}

func NewDirSource(root string) (*DirSource, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("firmware directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("firmware directory %s is not a directory", abs)
	}
	return &DirSource{root: abs}, nil
}

func (d *DirSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := filepath.Join(d.root, filepath.FromSlash(path))
	if rel, err := filepath.Rel(d.root, full); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("firmware path %q escapes the firmware directory", path)
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFirmwareSize {
		return nil, fmt.Errorf("firmware %s: %d bytes exceeds limit", path, info.Size())
	}
	return os.ReadFile(full)
}
