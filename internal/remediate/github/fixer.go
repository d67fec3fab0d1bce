// Package github opens pull requests that guard the null dereference behind a
// code-defect incident.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/faultline/internal/incident"
	"github.com/linnemanlabs/faultline/internal/signal"
)

const (
	defaultAPIBase = "https://api.github.com"
	branchPrefix   = "faultline/"
	maxSlugLen     = 40
	narrateTimeout = 30 * time.Second
)

var (
	// ErrSourceNotFound is returned when the frame cannot be mapped to a file
	// in the repository.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrNoFixAvailable is returned when the faulting line cannot be guarded
	// mechanically.
	ErrNoFixAvailable = errors.New("no automatic fix available")
)

// CodeFixer implements incident.CodeFixer against the GitHub REST API.
type CodeFixer struct {
	api      *client
	narrator incident.Narrator
	logger   log.Logger
	now      func() time.Time
}

var _ incident.CodeFixer = (*CodeFixer)(nil)

// Option configures a CodeFixer.
type Option func(*CodeFixer)

// WithBaseURL points the fixer at a GitHub Enterprise or test server.
func WithBaseURL(base string) Option {
	return func(f *CodeFixer) { f.api.base = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *CodeFixer) { f.api.http = c }
}

// WithNarrator phrases pull request descriptions. Without one, a template is
// used.
func WithNarrator(n incident.Narrator) Option {
	return func(f *CodeFixer) { f.narrator = n }
}

// WithClock overrides the time source used for branch names.
func WithClock(now func() time.Time) Option {
	return func(f *CodeFixer) { f.now = now }
}

// New creates a CodeFixer authenticating with token.
func New(token string, logger log.Logger, opts ...Option) *CodeFixer {
	if logger == nil {
		logger = log.Nop()
	}
	f := &CodeFixer{
		api: &client{
			base:  defaultAPIBase,
			token: token,
			http:  &http.Client{Timeout: 30 * time.Second},
		},
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// CreateCodeFix resolves frame to a source file, guards the faulting line,
// pushes the change to a new branch and opens a pull request against the
// base branch.
func (f *CodeFixer) CreateCodeFix(ctx context.Context, repo incident.RepoContext, frame signal.Frame, trace string) (*incident.CodeFix, error) {
	if !validRepo(repo.Repository) {
		return nil, fmt.Errorf("github: repository %q is not owner/name", repo.Repository)
	}
	if frame.Line < 1 {
		return nil, fmt.Errorf("%w: frame %s has no line number", ErrNoFixAvailable, frame)
	}
	L := f.logger.With("repository", repo.Repository, "frame", frame.String())

	base := repo.BaseBranch
	if base == "" {
		b, err := f.api.defaultBranch(ctx, repo.Repository)
		if err != nil {
			return nil, err
		}
		base = b
	}

	filePath, src, blobSHA, err := f.resolveSource(ctx, repo.Repository, base, frame, repo.SourceRoots)
	if err != nil {
		return nil, err
	}
	patch, err := GuardNullReference(filePath, src, frame.Line, firstLine(trace))
	if err != nil {
		return nil, err
	}

	headSHA, err := f.api.branchSHA(ctx, repo.Repository, base)
	if err != nil {
		return nil, err
	}
	branch := BranchName(frame, f.now())
	if err := f.api.createBranch(ctx, repo.Repository, branch, headSHA); err != nil {
		return nil, err
	}

	title := prTitle(frame)
	if err := f.api.putFile(ctx, repo.Repository, filePath, branch, blobSHA, title, patch.Source); err != nil {
		return nil, err
	}

	body := f.describe(ctx, L, frame, filePath, patch, trace)
	pr, err := f.api.createPull(ctx, repo.Repository, title, branch, base, body)
	if err != nil {
		return nil, err
	}

	L.Info(ctx, "pull request opened", "pr", pr.HTMLURL, "branch", branch, "path", filePath)
	return &incident.CodeFix{Reference: pr.HTMLURL, Description: patch.Description}, nil
}

var repoRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

func validRepo(r string) bool { return repoRe.MatchString(r) }

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// BranchName returns faultline/<class>-<method>-<YYYYMMDD-HHMMSS>.
func BranchName(frame signal.Frame, at time.Time) string {
	cls := frame.Class
	if i := strings.LastIndexAny(cls, "./"); i >= 0 {
		cls = cls[i+1:]
	}
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(cls+"-"+frame.Method), "-"), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "fix"
	}
	return branchPrefix + slug + "-" + at.UTC().Format("20060102-150405")
}

func prTitle(frame signal.Frame) string {
	name := frame.Method
	if cls := frame.Class; cls != "" {
		if i := strings.LastIndexAny(cls, "./"); i >= 0 {
			cls = cls[i+1:]
		}
		name = cls + "." + frame.Method
	}
	return fmt.Sprintf("Guard null dereference in %s", name)
}

// describe asks the narrator for the PR body and falls back to the template.
func (f *CodeFixer) describe(ctx context.Context, L log.Logger, frame signal.Frame, filePath string, patch *Patch, trace string) string {
	fallback := templateBody(frame, filePath, patch, trace)
	if f.narrator == nil {
		return fallback
	}
	nctx, cancel := context.WithTimeout(ctx, narrateTimeout)
	defer cancel()

	prompt := fmt.Sprintf("File: %s\nLocation: %s\nChange: %s\n\nStack trace:\n%s",
		filePath, frame, patch.Description, clip(trace, 4000))
	text, err := f.narrator.Narrate(nctx, prSystemPrompt, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		L.Warn(ctx, "pull request narration failed; using template", "error", err)
		return fallback
	}
	return text + "\n\n---\n" + automatedFooter
}

const prSystemPrompt = `You write pull request descriptions for automated fixes.
Describe the failure, the change and what a reviewer should verify, in Markdown, under 200 words.
Use only facts present in the input.`

const automatedFooter = "_Opened automatically by faultline. Review before merging._"

func templateBody(frame signal.Frame, filePath string, patch *Patch, trace string) string {
	var b strings.Builder
	b.WriteString("## Problem\n\n")
	fmt.Fprintf(&b, "A null dereference was reported at `%s`.\n\n", frame)
	b.WriteString("## Change\n\n")
	fmt.Fprintf(&b, "%s (`%s`).\n\n", patch.Description, filePath)
	b.WriteString("## Review\n\n")
	fmt.Fprintf(&b, "Confirm that skipping the statement when `%s` is null is correct, or replace the guard with handling that fits the caller.\n\n", patch.Variable)
	if trace != "" {
		fmt.Fprintf(&b, "<details><summary>Stack trace</summary>\n\n```\n%s\n```\n</details>\n\n", clip(trace, 4000))
	}
	b.WriteString("---\n")
	b.WriteString(automatedFooter)
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n..."
}
