package signal

import (
	"regexp"
	"strings"
)

// platformPrefixes mark frames that belong to a runtime, framework or
// third-party library rather than the monitored application.
var platformPrefixes = []string{
	"java.", "javax.", "jdk.", "sun.", "com.sun.", "jakarta.",
	"kotlin.", "kotlinx.", "scala.",
	"org.springframework.", "org.apache.", "org.hibernate.", "org.eclipse.jetty.",
	"io.netty.", "com.fasterxml.", "reactor.", "io.micrometer.",
	"runtime.", "net/http.", "internal/",
	"node:", "<frozen", "<anonymous>",
}

var platformMarkers = []string{
	"node_modules/", "node:internal", "site-packages/", "dist-packages/",
	"/lib/python", "/usr/local/go/src/", "/go/pkg/mod/", "$GOROOT/",
}

// Parser converts raw alert text into a Signal. The zero value is not
// usable; construct with NewParser. A Parser is safe for concurrent use.
type Parser struct {
	appNamespaces []string
	recognizers   []recognizer
}

type recognizer struct {
	name  string
	match func(p *Parser, text string) (*Signal, bool)
}

// NewParser returns a Parser. When appNamespaces are given, a frame only
// counts as application code if its class, package or file contains one of
// them.
func NewParser(appNamespaces ...string) *Parser {
	ns := make([]string, 0, len(appNamespaces))
	for _, n := range appNamespaces {
		if n = strings.TrimSpace(n); n != "" {
			ns = append(ns, n)
		}
	}
	return &Parser{
		appNamespaces: ns,
		recognizers: []recognizer{
			{name: "structured", match: (*Parser).parseStructured},
			{name: "java", match: (*Parser).parseJava},
			{name: "go", match: (*Parser).parseGo},
			{name: "python", match: (*Parser).parsePython},
			{name: "node", match: (*Parser).parseNode},
			{name: "exception", match: (*Parser).parseBareException},
		},
	}
}

// Parse extracts a Signal from raw. Recognizers run in a fixed order and the
// first match wins. Text with no exception signature still yields a Signal
// of kind Unknown when it carries a timestamp or severity token; anything
// else is a *ParseFailure.
func (p *Parser) Parse(raw string) (*Signal, error) {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	if text == "" {
		return nil, &ParseFailure{Reason: "empty input"}
	}

	ts, rawTS := findTimestamp(text)
	severity, sevEnd := findSeverity(text)

	for _, r := range p.recognizers {
		sig, ok := r.match(p, text)
		if !ok {
			continue
		}
		sig.Trace = raw
		if sig.RawTimestamp == "" {
			sig.Timestamp, sig.RawTimestamp = ts, rawTS
		}
		if sig.Severity == "" {
			sig.Severity = severity
		}
		return sig, nil
	}

	if rawTS == "" && severity == "" {
		return nil, &ParseFailure{Reason: "no exception signature, timestamp or severity token"}
	}

	msg := text
	if severity != "" {
		msg = text[sevEnd:]
	} else if i := strings.Index(text, rawTS); i >= 0 {
		msg = text[i+len(rawTS):]
	}
	return &Signal{
		Kind:         UnknownKind,
		Message:      cleanMessage(firstLine(msg)),
		Trace:        raw,
		Timestamp:    ts,
		RawTimestamp: rawTS,
		Severity:     severity,
		Format:       FormatGeneric,
	}, nil
}

// isApplication reports whether a frame namespace (class, package or file
// path) belongs to the monitored application.
func (p *Parser) isApplication(ns string) bool {
	if ns == "" {
		return false
	}
	for _, pre := range platformPrefixes {
		if strings.HasPrefix(ns, pre) {
			return false
		}
	}
	for _, m := range platformMarkers {
		if strings.Contains(ns, m) {
			return false
		}
	}
	if len(p.appNamespaces) == 0 {
		return true
	}
	for _, app := range p.appNamespaces {
		if strings.Contains(ns, app) {
			return true
		}
	}
	return false
}

// primaryOf returns the first application frame in frames. Namespace picks
// the string used for the platform check.
func (p *Parser) primaryOf(frames []Frame, namespace func(Frame) string) *Frame {
	for i := range frames {
		if p.isApplication(namespace(frames[i])) {
			f := frames[i]
			return &f
		}
	}
	return nil
}

func classNamespace(f Frame) string { return f.Class }
func fileNamespace(f Frame) string  { return f.File }

var severityRe = regexp.MustCompile(`(?i)\b(FATAL|CRITICAL|CRIT|SEVERE|EMERG(?:ENCY)?|ALERT|ERROR|ERR|PANIC|EXCEPTION|WARNING|WARN)\b`)

// findSeverity returns the normalized severity token and the index just past
// it, or "" when the text has none.
func findSeverity(text string) (string, int) {
	loc := severityRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", 0
	}
	tok := strings.ToUpper(text[loc[2]:loc[3]])
	switch tok {
	case "ERR":
		tok = "ERROR"
	case "CRIT":
		tok = "CRITICAL"
	case "WARNING":
		tok = "WARN"
	case "EMERGENCY":
		tok = "EMERG"
	}
	return tok, loc[1]
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

const maxMessageLen = 500

// cleanMessage trims separators left behind by log prefixes and bounds the
// message length.
func cleanMessage(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, ":-|] \t")
	s = strings.TrimSpace(s)
	if len(s) > maxMessageLen {
		s = s[:maxMessageLen]
	}
	return s
}
