package github

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/linnemanlabs/faultline/internal/signal"
)

// candidatePaths lists repository paths that may hold the frame's source,
// most specific first. Each source root is tried in order, then the
// repository root.
func candidatePaths(frame signal.Frame, roots []string) []string {
	rels := relativePaths(frame)
	if len(rels) == 0 {
		return nil
	}

	if len(roots) == 0 || roots[len(roots)-1] != "" {
		roots = append(append([]string(nil), roots...), "")
	}
	seen := map[string]bool{}
	var out []string
	for _, root := range roots {
		root = strings.Trim(root, "/")
		for _, rel := range rels {
			p := path.Clean(path.Join(root, rel))
			if p == "." || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// relativePaths derives paths relative to a source root. JVM frames map the
// package to directories; frames carrying an absolute path contribute every
// suffix of it, since the deploy prefix is unknown.
func relativePaths(frame signal.Frame) []string {
	file := frame.File
	switch {
	case strings.Contains(file, "/") || strings.Contains(file, `\`):
		parts := strings.Split(strings.Trim(strings.ReplaceAll(file, `\`, "/"), "/"), "/")
		out := make([]string, 0, len(parts))
		for i := range parts {
			out = append(out, strings.Join(parts[i:], "/"))
		}
		return out

	case strings.Contains(frame.Class, "."):
		pkg, outer := frame.Class, ""
		if i := strings.LastIndexByte(pkg, '.'); i >= 0 {
			pkg, outer = pkg[:i], pkg[i+1:]
		}
		if i := strings.IndexByte(outer, '$'); i >= 0 {
			outer = outer[:i]
		}
		if file == "" {
			if outer == "" {
				return nil
			}
			file = outer + ".java"
		}
		return []string{path.Join(strings.ReplaceAll(pkg, ".", "/"), file), file}

	case file != "":
		return []string{file}
	}
	return nil
}

// resolveSource finds the file behind frame on ref. Candidate paths are
// probed first; code search is the fallback.
func (f *CodeFixer) resolveSource(ctx context.Context, repo, ref string, frame signal.Frame, roots []string) (string, []byte, string, error) {
	candidates := candidatePaths(frame, roots)
	if len(candidates) == 0 {
		return "", nil, "", fmt.Errorf("%w: frame %s names no file", ErrSourceNotFound, frame)
	}
	for _, p := range candidates {
		data, sha, err := f.api.getFile(ctx, repo, p, ref)
		if err == nil {
			return p, data, sha, nil
		}
		if !isNotFound(err) {
			return "", nil, "", err
		}
	}

	name := path.Base(candidates[0])
	found, err := f.api.searchFile(ctx, repo, name)
	if err != nil {
		f.logger.Warn(ctx, "code search failed", "repository", repo, "file", name, "error", err)
		return "", nil, "", fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	if p := bestMatch(found, relativePaths(frame)); p != "" {
		data, sha, err := f.api.getFile(ctx, repo, p, ref)
		if err != nil {
			if isNotFound(err) {
				return "", nil, "", fmt.Errorf("%w: %s", ErrSourceNotFound, p)
			}
			return "", nil, "", err
		}
		return p, data, sha, nil
	}
	return "", nil, "", fmt.Errorf("%w: %s (%d search results)", ErrSourceNotFound, name, len(found))
}

// bestMatch picks the search hit sharing the longest relative path with the
// frame. A single hit is accepted on its own.
func bestMatch(found, rels []string) string {
	for _, rel := range rels {
		for _, p := range found {
			if p == rel || strings.HasSuffix(p, "/"+rel) {
				if strings.Contains(rel, "/") || len(found) == 1 {
					return p
				}
			}
		}
	}
	if len(found) == 1 {
		return found[0]
	}
	return ""
}
