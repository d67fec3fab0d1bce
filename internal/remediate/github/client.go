package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// client is a minimal GitHub REST client covering what a fix needs.
type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("github: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req) //nolint:gosec // G704: base URL is from trusted config
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var msg struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if json.Unmarshal(raw, &msg) != nil || msg.Message == "" {
			msg.Message = strings.TrimSpace(string(raw))
		}
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: msg.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s %s: %w", method, path, err)
	}
	return nil
}

type repoInfo struct {
	DefaultBranch string `json:"default_branch"`
}

func (c *client) defaultBranch(ctx context.Context, repo string) (string, error) {
	var info repoInfo
	if err := c.do(ctx, http.MethodGet, "/repos/"+repo, nil, &info); err != nil {
		return "", err
	}
	if info.DefaultBranch == "" {
		return "", fmt.Errorf("github: repository %s has no default branch", repo)
	}
	return info.DefaultBranch, nil
}

type fileContent struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// getFile returns the decoded file content and its blob SHA.
func (c *client) getFile(ctx context.Context, repo, filePath, ref string) ([]byte, string, error) {
	var fc fileContent
	p := "/repos/" + repo + "/contents/" + escapePath(filePath) + "?ref=" + url.QueryEscape(ref)
	if err := c.do(ctx, http.MethodGet, p, nil, &fc); err != nil {
		return nil, "", err
	}
	if fc.Type != "file" {
		return nil, "", &APIError{Method: http.MethodGet, Path: p, Status: http.StatusNotFound, Message: "not a file"}
	}
	if fc.Encoding != "base64" {
		return nil, "", fmt.Errorf("github: %s: unsupported encoding %q", filePath, fc.Encoding)
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(fc.Content, "\n", ""))
	if err != nil {
		return nil, "", fmt.Errorf("github: decode %s: %w", filePath, err)
	}
	return data, fc.SHA, nil
}

func (c *client) branchSHA(ctx context.Context, repo, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/"+repo+"/git/ref/heads/"+escapePath(branch), nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

func (c *client) createBranch(ctx context.Context, repo, branch, sha string) error {
	in := map[string]string{"ref": "refs/heads/" + branch, "sha": sha}
	return c.do(ctx, http.MethodPost, "/repos/"+repo+"/git/refs", in, nil)
}

func (c *client) putFile(ctx context.Context, repo, filePath, branch, blobSHA, message string, content []byte) error {
	in := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"sha":     blobSHA,
		"branch":  branch,
	}
	return c.do(ctx, http.MethodPut, "/repos/"+repo+"/contents/"+escapePath(filePath), in, nil)
}

type pullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

func (c *client) createPull(ctx context.Context, repo, title, head, base, body string) (*pullRequest, error) {
	in := map[string]any{"title": title, "head": head, "base": base, "body": body}
	var pr pullRequest
	if err := c.do(ctx, http.MethodPost, "/repos/"+repo+"/pulls", in, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

type searchResult struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Path string `json:"path"`
	} `json:"items"`
}

// searchFile finds paths in repo whose file name is name.
func (c *client) searchFile(ctx context.Context, repo, name string) ([]string, error) {
	q := url.QueryEscape(fmt.Sprintf("filename:%s repo:%s", name, repo))
	var res searchResult
	if err := c.do(ctx, http.MethodGet, "/search/code?per_page=20&q="+q, nil, &res); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		paths = append(paths, it.Path)
	}
	return paths, nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
