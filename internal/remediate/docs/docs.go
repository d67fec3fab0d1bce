// Package docs maps configuration faults to documentation through a YAML
// catalog.
package docs

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/faultline/internal/incident"
)

// ErrNoDocumentation is returned when no catalog entry covers the fault.
var ErrNoDocumentation = errors.New("no documentation for configuration fault")

//go:embed catalog.yaml
var builtinCatalog []byte

// File is the on-disk catalog format.
type File struct {
	Docs []Entry `yaml:"docs"`
}

// Entry is one documentation link. Kinds match the full or unqualified
// exception kind; Match is a regular expression tried against the message.
// An entry needs at least one of the two, and both must hold when both are
// set.
type Entry struct {
	Title string   `yaml:"title"`
	URL   string   `yaml:"url"`
	Kinds []string `yaml:"kinds"`
	Match string   `yaml:"match"`
}

type compiled struct {
	Entry
	re *regexp.Regexp
}

// Catalog implements incident.DocLookup.
type Catalog struct {
	entries []compiled
}

var _ incident.DocLookup = (*Catalog)(nil)

// Builtin returns the catalog shipped with the binary.
func Builtin() *Catalog {
	c, err := Parse(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("docs: builtin catalog: %v", err))
	}
	return c
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator config
	if err != nil {
		return nil, fmt.Errorf("read doc catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode doc catalog: %w", err)
	}
	c := &Catalog{entries: make([]compiled, 0, len(f.Docs))}
	var errs []error
	for i, e := range f.Docs {
		ce, err := compile(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("docs[%d]: %w", i, err))
			continue
		}
		c.entries = append(c.entries, ce)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func compile(e Entry) (compiled, error) {
	switch {
	case e.Title == "":
		return compiled{}, errors.New("title is required")
	case e.URL == "":
		return compiled{}, errors.New("url is required")
	case len(e.Kinds) == 0 && e.Match == "":
		return compiled{}, errors.New("at least one of kinds or match is required")
	}
	ce := compiled{Entry: e}
	if e.Match != "" {
		re, err := regexp.Compile(e.Match)
		if err != nil {
			return compiled{}, fmt.Errorf("match: %w", err)
		}
		ce.re = re
	}
	return ce, nil
}

// Extend returns a catalog whose entries are c's followed by other's.
func (c *Catalog) Extend(other *Catalog) *Catalog {
	out := &Catalog{entries: make([]compiled, 0, len(c.entries)+len(other.entries))}
	out.entries = append(out.entries, c.entries...)
	out.entries = append(out.entries, other.entries...)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// LookupConfigDoc returns the first entry matching kind and message.
func (c *Catalog) LookupConfigDoc(ctx context.Context, kind, message string) (*incident.DocRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	short := kind
	if i := strings.LastIndexAny(short, "./"); i >= 0 {
		short = short[i+1:]
	}
	for _, e := range c.entries {
		if len(e.Kinds) > 0 && !kindMatches(e.Kinds, kind, short) {
			continue
		}
		if e.re != nil && !e.re.MatchString(message) {
			continue
		}
		return &incident.DocRef{Reference: e.URL, Title: e.Title}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDocumentation, kind)
}

func kindMatches(kinds []string, full, short string) bool {
	for _, k := range kinds {
		if k == full || k == short {
			return true
		}
	}
	return false
}
