package github

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Patch is a rewritten source file.
type Patch struct {
	Source      []byte
	Variable    string
	Description string
}

var (
	// Java 14+ helpful NPE messages: ... because "customer" is null
	helpfulNPERe = regexp.MustCompile(`because "([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)" is null`)
	// Python: 'NoneType' object has no attribute 'email' gives no name, so
	// the receiver comes from the source line.
	receiverRe = regexp.MustCompile(`\b([A-Za-z_$][\w$]*)\s*(?:\?)?\.\s*[A-Za-z_$]`)
	arrayRe    = regexp.MustCompile(`\b([A-Za-z_$][\w$]*)\s*\[`)
)

// receivers that are never the null value.
var notNullable = map[string]bool{
	"this": true, "super": true, "self": true, "return": true, "new": true,
	"System": true, "String": true, "Math": true, "Objects": true, "fmt": true,
	"console": true, "JSON": true, "Object": true, "Arrays": true, "Collections": true,
}

// GuardNullReference wraps the statement at line (1-based) in a null check
// on the value that was dereferenced. message is the exception message, used
// to name the variable when the runtime reports it.
func GuardNullReference(filename string, src []byte, line int, message string) (*Patch, error) {
	lang := languageOf(filename)
	if lang == langUnknown {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrNoFixAvailable, path.Ext(filename))
	}

	lines := strings.Split(string(src), "\n")
	if line < 1 || line > len(lines) {
		return nil, fmt.Errorf("%w: line %d outside %s (%d lines)", ErrNoFixAvailable, line, filename, len(lines))
	}
	idx := line - 1
	orig := lines[idx]
	stmt := strings.TrimSpace(orig)
	if stmt == "" || !completeStatement(lang, stmt) {
		return nil, fmt.Errorf("%w: line %d is not a single statement", ErrNoFixAvailable, line)
	}
	indent := orig[:len(orig)-len(strings.TrimLeft(orig, " \t"))]
	unit := indentUnit(indent)

	variable, array := nullCandidate(stmt, message)
	if variable == "" {
		return nil, fmt.Errorf("%w: cannot tell which value was null at line %d", ErrNoFixAvailable, line)
	}
	returns := strings.HasPrefix(stmt, "return ") && stmt != "return;"
	if returns && lang == langGo {
		return nil, fmt.Errorf("%w: cannot pick a zero value for the return at line %d", ErrNoFixAvailable, line)
	}

	cond := condition(lang, variable, array)
	lhs, rhs, assigns := splitAssignment(strings.TrimSuffix(stmt, ";"))
	if assigns && regexp.MustCompile(`\b`+regexp.QuoteMeta(variable)+`\b`).MatchString(lhs) {
		// the null value is written through, not read
		assigns = false
	}
	if assigns && lang == langGo && strings.HasSuffix(lhs, ":=") {
		return nil, fmt.Errorf("%w: guarding the declaration at line %d would change its scope", ErrNoFixAvailable, line)
	}

	var out []string
	switch {
	case assigns && lang == langPython:
		out = append(out, indent+lhs+" "+rhs+" if "+cond+" else None")
	case assigns && lang != langGo:
		out = append(out, indent+lhs+" "+cond+" ? "+rhs+" : null;")
	case lang == langPython:
		out = append(out, indent+"if "+cond+":", indent+unit+stmt)
		if returns {
			out = append(out, indent+"return None")
		}
	case lang == langGo:
		out = append(out, indent+"if "+cond+" {", indent+unit+stmt, indent+"}")
	default:
		out = append(out, indent+"if ("+cond+") {", indent+unit+stmt, indent+"}")
		if returns {
			out = append(out, indent+"return null;")
		}
	}

	rewritten := make([]string, 0, len(lines)+len(out))
	rewritten = append(rewritten, lines[:idx]...)
	rewritten = append(rewritten, out...)
	rewritten = append(rewritten, lines[idx+1:]...)

	desc := fmt.Sprintf("Added a null check on `%s` before line %d of %s", variable, line, path.Base(filename))
	if array {
		desc = fmt.Sprintf("Added a null and length check on array `%s` before line %d of %s", variable, line, path.Base(filename))
	}
	return &Patch{
		Source:      []byte(strings.Join(rewritten, "\n")),
		Variable:    variable,
		Description: desc,
	}, nil
}

type language int

const (
	langUnknown language = iota
	langJava
	langJS
	langPython
	langGo
)

func languageOf(filename string) language {
	switch strings.ToLower(path.Ext(filename)) {
	case ".java":
		return langJava
	case ".js", ".mjs", ".cjs", ".ts":
		return langJS
	case ".py":
		return langPython
	case ".go":
		return langGo
	}
	return langUnknown
}

func completeStatement(lang language, stmt string) bool {
	if strings.HasPrefix(stmt, "//") || strings.HasPrefix(stmt, "#") || strings.HasPrefix(stmt, "*") {
		return false
	}
	switch lang {
	case langJava:
		return strings.HasSuffix(stmt, ";")
	case langJS:
		return strings.HasSuffix(stmt, ";") || !strings.HasSuffix(stmt, "{") && !strings.HasSuffix(stmt, ",") && !strings.HasSuffix(stmt, "(")
	case langPython:
		return !strings.HasSuffix(stmt, ":") && !strings.HasSuffix(stmt, "\\") && !strings.HasSuffix(stmt, "(")
	case langGo:
		return !strings.HasSuffix(stmt, "{") && !strings.HasSuffix(stmt, ",") && !strings.HasSuffix(stmt, "(")
	}
	return false
}

// nullCandidate picks the variable to guard. The runtime's own naming wins;
// otherwise array indexing, then the first non-static receiver on the line.
func nullCandidate(stmt, message string) (string, bool) {
	if m := helpfulNPERe.FindStringSubmatch(message); m != nil {
		return m[1], false
	}
	if m := arrayRe.FindStringSubmatch(stmt); m != nil && !notNullable[m[1]] && !isUpperIdent(m[1]) {
		return m[1], true
	}
	for _, m := range receiverRe.FindAllStringSubmatchIndex(stmt, -1) {
		name := stmt[m[2]:m[3]]
		// members of a longer chain belong to the chain's head
		if m[2] > 0 && stmt[m[2]-1] == '.' {
			continue
		}
		if notNullable[name] || isUpperIdent(name) {
			continue
		}
		return name, false
	}
	return "", false
}

// splitAssignment splits "lhs = rhs" at the first plain assignment operator.
// lhs keeps its operator. Compound assignments and comparisons do not count.
func splitAssignment(stmt string) (string, string, bool) {
	if strings.HasPrefix(stmt, "return ") {
		return "", "", false
	}
	for i := 0; i < len(stmt); i++ {
		if stmt[i] != '=' {
			continue
		}
		if i+1 < len(stmt) && (stmt[i+1] == '=' || stmt[i+1] == '>') {
			return "", "", false
		}
		if i > 0 && strings.IndexByte("=!<>+-*/%&|^", stmt[i-1]) >= 0 {
			return "", "", false
		}
		lhs := strings.TrimSpace(stmt[:i+1])
		rhs := strings.TrimSpace(stmt[i+1:])
		if rhs == "" || strings.ContainsAny(lhs, "(\"") {
			return "", "", false
		}
		return lhs, rhs, true
	}
	return "", "", false
}

// isUpperIdent treats capitalized names as types or packages.
func isUpperIdent(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

func condition(lang language, variable string, array bool) string {
	switch lang {
	case langPython:
		if array {
			return variable + " is not None and len(" + variable + ") > 0"
		}
		return variable + " is not None"
	case langGo:
		if array {
			return "len(" + variable + ") > 0"
		}
		return variable + " != nil"
	default:
		if array {
			return variable + " != null && " + variable + ".length > 0"
		}
		return variable + " != null"
	}
}

func indentUnit(indent string) string {
	if strings.Contains(indent, "\t") {
		return "\t"
	}
	return "    "
}

// firstLine returns the first non-empty line of a trace, which carries the
// exception message.
func firstLine(trace string) string {
	for _, l := range strings.Split(trace, "\n") {
		if s := strings.TrimSpace(l); s != "" {
			return s
		}
	}
	return ""
}
